package main

import (
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strconv"

	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
)

// target is one distinct badge URL in the request pool
type target struct {
	Project  string
	Metric   string
	Template model.Template
	Blinking bool
	Value    string
	Level    string
}

func (t target) query() string {
	q := url.Values{}
	q.Set("key", t.Project)
	q.Set("metric", t.Metric)
	q.Set("template", t.Template.String())
	q.Set("blinking", strconv.FormatBool(t.Blinking))
	return q.Encode()
}

var levels = []string{model.LevelOK, model.LevelOK, model.LevelWarn, model.LevelError, model.LevelNone}

var metricNames = []string{"coverage", "bugs", "vulnerabilities", "code_smells", "alert_status", "duplicated_lines"}

// makeTargets builds count distinct badges spread over projects, metrics and
// templates. Roughly one in four asks for blinking.
func makeTargets(count int, r *rand.Rand) []target {
	templates := model.Templates()
	out := make([]target, 0, count)
	for i := range count {
		lvl := levels[r.Intn(len(levels))]
		out = append(out, target{
			Project:  fmt.Sprintf("project-%03d", i/len(metricNames)),
			Metric:   metricNames[i%len(metricNames)],
			Template: templates[r.Intn(len(templates))],
			Blinking: r.Intn(4) == 0,
			Value:    strconv.Itoa(r.Intn(100)),
			Level:    lvl,
		})
	}
	return out
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
