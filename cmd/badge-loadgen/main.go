package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/measure-badges/internal/core/httpclient"
	"github.com/mohammed-shakir/measure-badges/internal/logger"
	"github.com/mohammed-shakir/measure-badges/internal/measure"
	"github.com/mohammed-shakir/measure-badges/internal/measure/updates"
	"github.com/mohammed-shakir/measure-badges/internal/store/redisstore"
)

type Config struct {
	TargetURL      string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	Badges         int
	RequestTimeout time.Duration
	Seed           string
	RedisAddr      string
	KafkaBrokers   string
	KafkaTopic     string
	Output         string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090/badges/measure", "Badge endpoint URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.Badges, "badges", 240, "Distinct badges in pool")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 5*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.Seed, "seed", "redis", "Seed measures before the run: none|redis|kafka")
	flag.StringVar(&cfg.RedisAddr, "redis", "localhost:6379", "Redis address for -seed=redis")
	flag.StringVar(&cfg.KafkaBrokers, "brokers", "localhost:9092", "Kafka brokers for -seed=kafka")
	flag.StringVar(&cfg.KafkaTopic, "topic", "measure-updates", "Measure updates topic for -seed=kafka")
	flag.StringVar(&cfg.Output, "out", "", "Optional summary JSON path")
	flag.Parse()
	return cfg
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Badges        int       `json:"badges"`
	TargetURL     string    `json:"target"`
}

type sample struct {
	latency time.Duration
	ok      bool
}

func main() {
	cfg := loadConfig()
	zl := logger.Build(logger.Config{Level: "info", Console: true, Service: "badge-loadgen"}, os.Stderr)
	log := logger.NewSlog(&zl)

	seed := time.Now().UnixNano()
	targets := makeTargets(cfg.Badges, rand.New(rand.NewSource(seed)))
	if len(targets) == 0 {
		log.Error("no badges in pool")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+time.Minute)
	defer cancel()

	if err := seedMeasures(ctx, cfg, targets); err != nil {
		log.Error("seeding failed", "mode", cfg.Seed, "err", err)
		os.Exit(1)
	}
	log.Info("seeded measures", "mode", cfg.Seed, "badges", len(targets))

	client := httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.RequestTimeout),
		httpclient.WithMaxIdleConnsPerHost(cfg.Concurrency*2),
	)

	runCtx, stop := context.WithTimeout(ctx, cfg.Duration)
	defer stop()

	samples := make(chan sample, 4096)
	done := make(chan summary, 1)
	go collect(samples, done)

	start := time.Now()
	log.Info("loadgen start", "target", cfg.TargetURL, "duration", cfg.Duration,
		"concurrency", cfg.Concurrency, "zipf_s", cfg.ZipfS, "zipf_v", cfg.ZipfV)

	var wg sync.WaitGroup
	imax := uint64(len(targets)) - 1
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for runCtx.Err() == nil {
				v := zipf.Uint64()
				if v > uint64(math.MaxInt) || int(v) >= len(targets) {
					continue
				}
				s := fetch(runCtx, client, cfg.TargetURL+"?"+targets[v].query())
				select {
				case samples <- s:
				case <-runCtx.Done():
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(samples)

	sum := <-done
	sum.StartTime = start.UTC()
	sum.EndTime = time.Now().UTC()
	sum.DurationSec = sum.EndTime.Sub(start).Seconds()
	sum.ThroughputRPS = float64(sum.TotalRequests) / sum.DurationSec
	sum.Concurrency = cfg.Concurrency
	sum.Badges = len(targets)
	sum.TargetURL = cfg.TargetURL

	log.Info("done", "total", sum.TotalRequests, "ok", sum.SuccessCount, "errors", sum.ErrorCount,
		"rps", fmt.Sprintf("%.1f", sum.ThroughputRPS),
		"p50_ms", sum.P50Ms, "p95_ms", sum.P95Ms, "p99_ms", sum.P99Ms)

	if cfg.Output != "" {
		if err := writeSummary(cfg.Output, sum); err != nil {
			log.Error("write summary", "err", err)
			os.Exit(1)
		}
		log.Info("wrote summary", "path", cfg.Output)
	}
}

func fetch(ctx context.Context, client *http.Client, u string) sample {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return sample{}
	}
	resp, err := client.Do(req)
	lat := time.Since(start)
	if err != nil {
		return sample{latency: lat}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return sample{latency: lat, ok: resp.StatusCode == http.StatusOK}
}

func collect(in <-chan sample, out chan<- summary) {
	var s summary
	lat := make([]float64, 0, 1<<16)
	for smp := range in {
		s.TotalRequests++
		if !smp.ok {
			s.ErrorCount++
			continue
		}
		s.SuccessCount++
		lat = append(lat, float64(smp.latency.Microseconds())/1000.0)
	}
	sort.Float64s(lat)
	s.P50Ms = percentile(lat, 50)
	s.P95Ms = percentile(lat, 95)
	s.P99Ms = percentile(lat, 99)
	out <- s
}

func seedMeasures(ctx context.Context, cfg Config, targets []target) error {
	switch strings.ToLower(cfg.Seed) {
	case "none", "":
		return nil
	case "redis":
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rc.Close() }()
		src := measure.NewRedisSource(rc, time.Second)
		for i, t := range targets {
			m := measure.Measure{Project: t.Project, Metric: t.Metric, Value: t.Value, Level: t.Level, Seq: uint64(i + 1)}
			if err := src.Put(ctx, m); err != nil {
				return err
			}
		}
		return nil
	case "kafka":
		return seedKafka(cfg, targets)
	default:
		return fmt.Errorf("unknown seed mode %q", cfg.Seed)
	}
}

func seedKafka(cfg Config, targets []target) error {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(strings.Split(cfg.KafkaBrokers, ","), sc)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	seq := uint64(time.Now().UnixNano())
	msgs := make([]*sarama.ProducerMessage, 0, len(targets))
	for _, t := range targets {
		b, err := json.Marshal(updates.Event{
			Version: 1, Project: t.Project, Metric: t.Metric,
			Value: t.Value, Level: t.Level, Seq: seq, TS: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: cfg.KafkaTopic,
			Key:   sarama.StringEncoder(t.Project + "/" + t.Metric),
			Value: sarama.ByteEncoder(b),
		})
	}
	if err := prod.SendMessages(msgs); err != nil {
		return fmt.Errorf("send messages: %w", err)
	}
	return nil
}

func writeSummary(path string, s summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
