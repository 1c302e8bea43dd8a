package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/mohammed-shakir/measure-badges/internal/api"
	"github.com/mohammed-shakir/measure-badges/internal/badge/font"
	"github.com/mohammed-shakir/measure-badges/internal/badge/generator"
	"github.com/mohammed-shakir/measure-badges/internal/badge/minimize"
	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
	"github.com/mohammed-shakir/measure-badges/internal/badge/render"
	"github.com/mohammed-shakir/measure-badges/internal/badgeevents"
	"github.com/mohammed-shakir/measure-badges/internal/core/config"
	"github.com/mohammed-shakir/measure-badges/internal/core/health"
	"github.com/mohammed-shakir/measure-badges/internal/core/observability"
	"github.com/mohammed-shakir/measure-badges/internal/core/server"
	"github.com/mohammed-shakir/measure-badges/internal/logger"
	"github.com/mohammed-shakir/measure-badges/internal/measure"
	"github.com/mohammed-shakir/measure-badges/internal/measure/updates"
	"github.com/mohammed-shakir/measure-badges/internal/metrics"
	"github.com/mohammed-shakir/measure-badges/internal/store/redisstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "badge-server",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	defaultTemplate, err := model.ParseTemplate(cfg.DefaultTemplate)
	if err != nil {
		appLog.Error("invalid DEFAULT_TEMPLATE", "err", err)
		return 1
	}

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Build: metrics.BuildInfo{
			Version:   cfg.Build.Version,
			Revision:  cfg.Build.Revision,
			Branch:    cfg.Build.Branch,
			BuildDate: cfg.Build.BuildDate,
		},
	})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)

	appLog.Info("starting badge server",
		"addr", cfg.Addr,
		"version", cfg.Build.Version,
		"redis", cfg.RedisAddr,
		"template", defaultTemplate.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Error("redis setup failed", "err", err)
		return 1
	}
	defer func() { _ = rc.Close() }()
	src := measure.NewRedisSource(rc, cfg.RedisOpTimeout)

	fonts, err := font.New(cfg.FontCacheSize)
	if err != nil {
		appLog.Error("font provider setup failed", "err", err)
		return 1
	}
	gen := generator.New(render.New(fonts), minimize.New(), generator.WithLogger(appLog))

	var events api.EventPublisher
	if cfg.Kafka.EventsEnabled {
		pub, err := badgeevents.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.EventsQueue, appLog)
		if err != nil {
			appLog.Error("badge events setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("badge events close", "err", err)
			}
		}()
		events = pub
	}

	var wg sync.WaitGroup
	if cfg.Kafka.UpdatesEnabled {
		c := updates.New(updates.DefaultConfig(cfg.Kafka.Brokers, cfg.Kafka.UpdatesTopic, cfg.Kafka.UpdatesGroup), appLog, src)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				appLog.Error("measure updates consumer stopped", "err", err)
			}
		}()
	}

	err = server.Run(ctx, cfg, appLog, server.Deps{
		Badges:          api.New(appLog, src, gen, events),
		DefaultTemplate: defaultTemplate,
		Metrics:         p,
		Ready:           map[string]health.Checker{"redis": src},
	})
	stop()
	wg.Wait()
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
