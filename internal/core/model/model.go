// Package model defines request types shared by the HTTP layer.
package model

import (
	"fmt"

	badge "github.com/mohammed-shakir/measure-badges/internal/badge/model"
)

// BadgeRequest is a validated measure badge query
type BadgeRequest struct {
	Project  string
	Metric   string
	Template badge.Template
	Blinking bool
}

// String identifies the badge in logs and events
func (q BadgeRequest) String() string {
	return fmt.Sprintf("%s/%s", q.Project, q.Metric)
}
