// Package history persists suite reports so that runs can be compared over time.
package history

import (
	"context"
	"time"

	"github.com/aint-no-code/reclaw-conformance/internal/report"
)

// Summary is one stored report without its outcomes.
type Summary struct {
	ID        string    `json:"id"`
	BaseURL   string    `json:"baseUrl"`
	StartedAt time.Time `json:"startedAt"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}

// Store defines report persistence.
type Store interface {
	SaveReport(ctx context.Context, r *report.Report) (string, error)
	ListReports(ctx context.Context, limit int) ([]Summary, error)
	GetOutcomes(ctx context.Context, reportID string) ([]report.Outcome, error)
	Close() error
}
