package updates

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
)

// Event is one measure change published by the analysis pipeline
type Event struct {
	Version int       `json:"version"`
	Project string    `json:"project"`
	Metric  string    `json:"metric"`
	Value   string    `json:"value"`
	Level   string    `json:"level"`
	Seq     uint64    `json:"seq"`
	TS      time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if strings.TrimSpace(e.Project) == "" {
		return fmt.Errorf("project is required")
	}
	if strings.TrimSpace(e.Metric) == "" {
		return fmt.Errorf("metric is required")
	}
	switch strings.ToUpper(strings.TrimSpace(e.Level)) {
	case model.LevelOK, model.LevelWarn, model.LevelError, model.LevelNone, "":
	default:
		return fmt.Errorf("level must be OK|WARN|ERROR|NONE")
	}
	if e.Seq == 0 {
		return fmt.Errorf("seq must be positive")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// dedupe key, stable across whitespace differences
func (e Event) key() string {
	return strings.TrimSpace(e.Project) + "\x00" + strings.TrimSpace(e.Metric)
}
