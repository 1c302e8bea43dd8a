// Package badgeevents publishes "badge served" events to Kafka.
package badgeevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/measure-badges/internal/core/observability"
)

const defaultQueueSize = 1024

type Event struct {
	Project  string    `json:"project"`
	Metric   string    `json:"metric"`
	Template string    `json:"template"`
	Blinking bool      `json:"blinking"`
	Cache    string    `json:"cache"`
	TS       time.Time `json:"ts"`
}

type Publisher struct {
	topic  string
	events chan Event
	prod   sarama.AsyncProducer
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	pumped   chan struct{}
	errsDone chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("badgeevents: create async producer: %w", err)
	}
	return NewPublisherWithProducer(prod, topic, queueSize, logger), nil
}

// NewPublisherWithProducer takes ownership of prod; Close closes it.
func NewPublisherWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:    topic,
		events:   make(chan Event, queueSize),
		prod:     prod,
		logger:   logger.With("component", "badge_events"),
		pumped:   make(chan struct{}),
		errsDone: make(chan struct{}),
	}
	go p.pump()
	go p.watchErrors()
	return p
}

func (p *Publisher) pump() {
	defer close(p.pumped)
	for ev := range p.events {
		b, err := json.Marshal(ev)
		if err != nil {
			p.failed.Add(1)
			obs.IncBadgeEvent("failed")
			p.logger.Error("marshal badge event", "err", err)
			continue
		}
		p.prod.Input() <- &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.Project + "/" + ev.Metric),
			Value: sarama.ByteEncoder(b),
		}
	}
}

func (p *Publisher) watchErrors() {
	defer close(p.errsDone)
	for perr := range p.prod.Errors() {
		if perr == nil {
			continue
		}
		p.failed.Add(1)
		obs.IncBadgeEvent("failed")
		p.logger.Warn("badge event not delivered", "topic", p.topic, "err", perr.Err)
	}
}

// Publish queues ev without blocking; a full queue drops it
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		obs.IncBadgeEvent("dropped")
		return
	}
	select {
	case p.events <- ev:
		obs.IncBadgeEvent("queued")
	default:
		p.dropped.Add(1)
		obs.IncBadgeEvent("dropped")
	}
}

func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }
func (p *Publisher) Failed() uint64  { return p.failed.Load() }

// Close flushes queued events and closes the producer
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.pumped
	err := p.prod.Close()
	<-p.errsDone
	if err != nil {
		return fmt.Errorf("badgeevents: close producer: %w", err)
	}
	return nil
}
