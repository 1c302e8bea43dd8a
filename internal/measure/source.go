// Package measure resolves project metrics into measure holders.
package measure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
	"github.com/mohammed-shakir/measure-badges/internal/store/keys"
)

var ErrNotFound = errors.New("measure not found")

const (
	fieldValue = "value"
	fieldLevel = "level"
	fieldSeq   = "seq"
)

// Store is the subset of the redis client the source needs
type Store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetIfNewer(ctx context.Context, key, versionField string, version uint64, fields map[string]string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Measure is one stored metric value with its quality level
type Measure struct {
	Project string
	Metric  string
	Value   string
	Level   string
	Seq     uint64
}

type RedisSource struct {
	store   Store
	timeout time.Duration
}

func NewRedisSource(s Store, opTimeout time.Duration) *RedisSource {
	return &RedisSource{store: s, timeout: opTimeout}
}

// returns context with timeout if set
func (s *RedisSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisSource) Lookup(ctx context.Context, project, metric string) (model.MeasureHolder, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	fields, err := s.store.HGetAll(ctx, keys.MeasureKey(project, metric))
	if err != nil {
		return model.MeasureHolder{}, fmt.Errorf("lookup %s/%s: %w", project, metric, err)
	}
	value, ok := fields[fieldValue]
	if !ok {
		return model.MeasureHolder{}, fmt.Errorf("%s/%s: %w", project, metric, ErrNotFound)
	}
	return model.NewMeasureHolder(metric, value, fields[fieldLevel]), nil
}

// Get returns the stored measure including its sequence number
func (s *RedisSource) Get(ctx context.Context, project, metric string) (Measure, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	fields, err := s.store.HGetAll(ctx, keys.MeasureKey(project, metric))
	if err != nil {
		return Measure{}, fmt.Errorf("get %s/%s: %w", project, metric, err)
	}
	value, ok := fields[fieldValue]
	if !ok {
		return Measure{}, fmt.Errorf("%s/%s: %w", project, metric, ErrNotFound)
	}
	var seq uint64
	if raw := fields[fieldSeq]; raw != "" {
		if seq, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return Measure{}, fmt.Errorf("%s/%s: bad seq %q: %w", project, metric, raw, err)
		}
	}
	return Measure{Project: project, Metric: metric, Value: value, Level: fields[fieldLevel], Seq: seq}, nil
}

// Put overwrites the stored measure regardless of its sequence number
func (s *RedisSource) Put(ctx context.Context, m Measure) error {
	if err := checkMeasure(m); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.store.HSet(ctx, keys.MeasureKey(m.Project, m.Metric), measureFields(m))
	if err != nil {
		return fmt.Errorf("measure put %s/%s: %w", m.Project, m.Metric, err)
	}
	return nil
}

// PutIfNewer stores m only when its Seq is above the stored one. The compare
// and the write happen in one Redis script. It reports whether m was stored.
func (s *RedisSource) PutIfNewer(ctx context.Context, m Measure) (bool, error) {
	if err := checkMeasure(m); err != nil {
		return false, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.store.HSetIfNewer(ctx, keys.MeasureKey(m.Project, m.Metric), fieldSeq, m.Seq, measureFields(m))
	if err != nil {
		return false, fmt.Errorf("measure put %s/%s: %w", m.Project, m.Metric, err)
	}
	return ok, nil
}

func checkMeasure(m Measure) error {
	if strings.TrimSpace(m.Project) == "" || strings.TrimSpace(m.Metric) == "" {
		return errors.New("measure put: project and metric are required")
	}
	return nil
}

func measureFields(m Measure) map[string]string {
	level := strings.ToUpper(strings.TrimSpace(m.Level))
	if level == "" {
		level = model.LevelNone
	}
	return map[string]string{
		fieldValue: m.Value,
		fieldLevel: level,
		fieldSeq:   strconv.FormatUint(m.Seq, 10),
	}
}

func (s *RedisSource) Delete(ctx context.Context, project, metric string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Del(ctx, keys.MeasureKey(project, metric)); err != nil {
		return fmt.Errorf("measure delete %s/%s: %w", project, metric, err)
	}
	return nil
}

// Ready reports whether the backing store answers
func (s *RedisSource) Ready(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("measure store: %w", err)
	}
	return nil
}
