// Package config loads the badge server settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Brokers []string

	UpdatesEnabled bool
	UpdatesTopic   string
	UpdatesGroup   string

	EventsEnabled bool
	EventsTopic   string
	EventsQueue   int
}

type BuildCfg struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	RedisAddr       string
	RedisOpTimeout  time.Duration
	FontCacheSize   int
	DefaultTemplate string
	MetricsEnabled  bool
	Kafka           KafkaCfg
	Build           BuildCfg
}

func FromEnv() Config {
	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisOpTimeout:  getduration("REDIS_OP_TIMEOUT", 250*time.Millisecond),
		FontCacheSize:   getint("FONT_CACHE_SIZE", 1024),
		DefaultTemplate: getenv("DEFAULT_TEMPLATE", "flat"),
		MetricsEnabled:  getbool("METRICS_ENABLED", true),
		Kafka: KafkaCfg{
			Brokers:        splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			UpdatesEnabled: getbool("MEASURE_UPDATES_ENABLED", false),
			UpdatesTopic:   getenv("MEASURE_UPDATES_TOPIC", "measure-updates"),
			UpdatesGroup:   getenv("MEASURE_UPDATES_GROUP", "badge-measures"),
			EventsEnabled:  getbool("BADGE_EVENTS_ENABLED", false),
			EventsTopic:    getenv("BADGE_EVENTS_TOPIC", "badge-events"),
			EventsQueue:    getint("BADGE_EVENTS_QUEUE", 1024),
		},
		Build: BuildCfg{
			Version:   getenv("BUILD_VERSION", "dev"),
			Revision:  getenv("BUILD_REVISION", ""),
			Branch:    getenv("BUILD_BRANCH", ""),
			BuildDate: getenv("BUILD_DATE", ""),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
