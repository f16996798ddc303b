// Package runner executes the scenario catalog against a gateway and aggregates
// the outcomes into a report.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/policy"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/scenario"
)

// Runner runs scenarios concurrently, each under its own deadline.
type Runner struct {
	env             *scenario.Env
	catalog         []scenario.Scenario
	filters         []string
	policy          *policy.Engine
	concurrency     int
	scenarioTimeout time.Duration
	log             zerolog.Logger
	metrics         *observability.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds how many scenarios run at once.
func WithConcurrency(n int) Option { return func(r *Runner) { r.concurrency = n } }

// WithScenarioTimeout sets the per-scenario deadline.
func WithScenarioTimeout(d time.Duration) Option { return func(r *Runner) { r.scenarioTimeout = d } }

// WithFilter keeps only scenarios matching one of the filters.
func WithFilter(filters []string) Option { return func(r *Runner) { r.filters = filters } }

// WithPolicy lets a policy skip scenarios.
func WithPolicy(e *policy.Engine) Option { return func(r *Runner) { r.policy = e } }

// WithCatalog replaces the built-in catalog.
func WithCatalog(c []scenario.Scenario) Option { return func(r *Runner) { r.catalog = c } }

// WithLogger sets the runner logger.
func WithLogger(log zerolog.Logger) Option { return func(r *Runner) { r.log = log } }

// WithMetrics records scenario results.
func WithMetrics(m *observability.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// New creates a runner over env.
func New(env *scenario.Env, opts ...Option) *Runner {
	r := &Runner{
		env:             env,
		catalog:         scenario.All(),
		concurrency:     4,
		scenarioTimeout: 30 * time.Second,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Selected returns the scenarios the filter keeps, in catalog order.
func (r *Runner) Selected() []scenario.Scenario {
	var out []scenario.Scenario
	for _, s := range r.catalog {
		if scenario.Matches(s.Name, r.filters) {
			out = append(out, s)
		}
	}
	return out
}

// Run executes the selected scenarios. The returned error is non-nil only for
// harness failures: an unreachable gateway, a filter that selects nothing, or a
// policy that cannot be evaluated.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	started := time.Now()

	selected := r.Selected()
	if len(selected) == 0 {
		return nil, fmt.Errorf("no scenario matches %v", r.filters)
	}
	if err := r.env.HTTP.Probe(ctx); err != nil {
		return nil, err
	}

	outcomes := make([]report.Outcome, len(selected))
	skips := make([]bool, len(selected))
	for i, s := range selected {
		skip, reason, err := r.skipped(ctx, s)
		if err != nil {
			return nil, err
		}
		if skip {
			skips[i] = true
			outcomes[i] = report.Skip(s.Name, reason)
			r.record(outcomes[i])
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, s := range selected {
		if skips[i] {
			continue
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, r.scenarioTimeout)
			defer cancel()

			outcomes[i] = scenario.RunScenario(sctx, r.env, s)
			r.record(outcomes[i])
			return nil
		})
	}
	g.Wait()

	rep := report.New(r.env.HTTP.BaseURL(), started, outcomes)
	r.log.Info().
		Int("total", rep.Total).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Dur("elapsed", time.Since(started)).
		Msg("suite finished")
	return rep, nil
}

func (r *Runner) skipped(ctx context.Context, s scenario.Scenario) (bool, string, error) {
	if r.policy == nil {
		return false, "", nil
	}
	decision, reason, err := r.policy.Evaluate(ctx, policy.Input{Name: s.Name, Tags: s.Tags, Kind: string(s.Kind)})
	if err != nil {
		return false, "", fmt.Errorf("policy for %s: %w", s.Name, err)
	}
	if decision != policy.DecisionSkip {
		return false, "", nil
	}
	if reason == "" {
		reason = "skipped by policy"
	}
	return true, reason, nil
}

func (r *Runner) record(o report.Outcome) {
	result := "fail"
	switch {
	case o.Skipped:
		result = "skip"
	case o.Passed:
		result = "pass"
	}

	if r.metrics != nil {
		r.metrics.ScenarioResultsTotal.WithLabelValues(result).Inc()
		if !o.Skipped {
			r.metrics.ScenarioDuration.Observe(float64(o.DurationMs) / 1000)
		}
	}

	ev := r.log.Info()
	if result == "fail" {
		ev = r.log.Warn()
	}
	ev.Str("scenario", o.Name).Str("result", result).Int64("duration_ms", o.DurationMs).Msg(o.Detail)
}
