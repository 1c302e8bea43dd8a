// Package updates applies measure change events from Kafka to the measure store.
package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/measure-badges/internal/core/observability"
	"github.com/mohammed-shakir/measure-badges/internal/measure"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

// DefaultConfig fills the group timings used in production
func DefaultConfig(brokers []string, topic, group string) Config {
	return Config{
		Brokers:             brokers,
		Topic:               topic,
		GroupID:             group,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          defaultDedupeSize,
	}
}

// Writer stores a measure unless a higher seq is already stored, reporting
// whether it did
type Writer interface {
	PutIfNewer(ctx context.Context, m measure.Measure) (bool, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	writer Writer
	seen   *seqDedupe
	retry  time.Duration
}

func New(cfg Config, logger *slog.Logger, w Writer) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger.With("component", "measure_updates"),
		writer: w,
		seen:   newSeqDedupe(cfg.DedupeSize),
		retry:  2 * time.Second,
	}
}

// Start joins the consumer group and blocks until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.writer == nil {
		return errors.New("measure updates: missing writer")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" || c.cfg.GroupID == "" {
		return errors.New("measure updates: brokers, topic and group are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("measure updates consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("measure updates consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.Error("kafka consumer error", "err", err, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(c.retry):
				}
			}
		}
	}
}

// ProcessOne applies a single update message. Malformed and stale events are
// skipped without error so the offset advances; store failures are returned
// so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		obs.IncMeasureUpdate("invalid")
		c.logger.ErrorContext(ctx, "kafka error", "kind", "decode",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("validate")
		obs.IncMeasureUpdate("invalid")
		c.logger.WarnContext(ctx, "invalid measure update",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	key := ev.key()
	if !c.seen.fresh(key, ev.Seq) {
		obs.IncMeasureUpdate("stale")
		c.logger.DebugContext(ctx, "stale measure update skipped",
			"project", ev.Project, "metric", ev.Metric, "seq", ev.Seq)
		return nil
	}

	applied, err := c.writer.PutIfNewer(ctx, measure.Measure{
		Project: ev.Project,
		Metric:  ev.Metric,
		Value:   ev.Value,
		Level:   ev.Level,
		Seq:     ev.Seq,
	})
	if err != nil {
		obs.IncKafkaConsumerError("store")
		obs.IncMeasureUpdate("error")
		c.logger.ErrorContext(ctx, "kafka error", "kind", "store",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("store measure: %w", err)
	}
	if !applied {
		obs.IncMeasureUpdate("stale")
		c.logger.DebugContext(ctx, "stored measure is newer, update skipped",
			"project", ev.Project, "metric", ev.Metric, "seq", ev.Seq)
		return nil
	}
	c.seen.record(key, ev.Seq)

	obs.IncMeasureUpdate("applied")
	c.logger.DebugContext(ctx, "measure updated",
		"project", ev.Project, "metric", ev.Metric, "value", ev.Value, "seq", ev.Seq)
	return nil
}
