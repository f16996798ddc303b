// Package report aggregates scenario outcomes and renders them.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Process exit codes.
const (
	ExitPass         = 0
	ExitFail         = 1
	ExitHarnessError = 2
)

// Outcome is the result of one scenario.
type Outcome struct {
	Name       string          `json:"name"`
	Passed     bool            `json:"passed"`
	Skipped    bool            `json:"skipped,omitempty"`
	Detail     string          `json:"detail"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// Pass builds a passing outcome.
func Pass(name, detail string) Outcome {
	return Outcome{Name: name, Passed: true, Detail: detail}
}

// Fail builds a failing outcome.
func Fail(name, format string, args ...any) Outcome {
	return Outcome{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// Skip builds a skipped outcome. Skipped outcomes count as passing.
func Skip(name, reason string) Outcome {
	return Outcome{Name: name, Passed: true, Skipped: true, Detail: reason}
}

// WithPayload attaches the observed payload to the outcome.
func (o Outcome) WithPayload(v any) Outcome {
	if v == nil {
		return o
	}
	if data, err := json.Marshal(v); err == nil {
		o.Payload = data
	}
	return o
}

// Report is the aggregated result of a suite run.
type Report struct {
	BaseURL   string    `json:"baseUrl"`
	StartedAt time.Time `json:"startedAt"`
	Total     int       `json:"total"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Outcomes  []Outcome `json:"outcomes"`
}

// New aggregates outcomes, keeping their order.
func New(baseURL string, startedAt time.Time, outcomes []Outcome) *Report {
	r := &Report{
		BaseURL:   baseURL,
		StartedAt: startedAt,
		Total:     len(outcomes),
		Outcomes:  outcomes,
	}
	if r.Outcomes == nil {
		r.Outcomes = []Outcome{}
	}
	for _, o := range outcomes {
		if o.Skipped {
			r.Skipped++
		}
		if !o.Passed {
			r.Failed++
		}
	}
	return r
}

// IsPassing reports whether no scenario failed.
func (r *Report) IsPassing() bool {
	return r.Failed == 0
}

// ExitCode maps the report to the process exit code.
func (r *Report) ExitCode() int {
	if r.IsPassing() {
		return ExitPass
	}
	return ExitFail
}

// WriteText renders one line per outcome under a summary header.
func (r *Report) WriteText(w io.Writer, colored bool) error {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	skip := color.New(color.FgYellow)
	for _, c := range []*color.Color{pass, fail, skip} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	if _, err := fmt.Fprintf(w, "scenarios: %d total, %d failed\n", r.Total, r.Failed); err != nil {
		return err
	}
	for _, o := range r.Outcomes {
		var marker string
		switch {
		case o.Skipped:
			marker = skip.Sprint("SKIP")
		case o.Passed:
			marker = pass.Sprint("PASS")
		default:
			marker = fail.Sprint("FAIL")
		}
		if _, err := fmt.Fprintf(w, "[%s] %s - %s\n", marker, o.Name, o.Detail); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
