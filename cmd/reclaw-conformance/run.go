package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/aint-no-code/reclaw-conformance/internal/config"
	"github.com/aint-no-code/reclaw-conformance/internal/history"
	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/policy"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/runner"
	"github.com/aint-no-code/reclaw-conformance/internal/scenario"
)

// runSuite runs the selected scenarios and prints the report. A returned error
// always comes with ExitHarnessError.
func runSuite(ctx context.Context, cfg *config.Config, stdout io.Writer, log zerolog.Logger) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	env, err := scenario.NewEnv(cfg.BaseURL, cfg.WSPath,
		scenario.WithToken(cfg.Token),
		scenario.WithWaitTimeout(cfg.WaitTimeout),
		scenario.WithLogger(log),
		scenario.WithMetrics(metrics),
	)
	if err != nil {
		return report.ExitHarnessError, err
	}

	opts := []runner.Option{
		runner.WithConcurrency(cfg.Concurrency),
		runner.WithScenarioTimeout(cfg.ScenarioTimeout),
		runner.WithFilter(cfg.Scenarios),
		runner.WithLogger(log),
		runner.WithMetrics(metrics),
	}
	if cfg.PolicyFile != "" {
		engine, err := policy.LoadFile(ctx, cfg.PolicyFile)
		if err != nil {
			return report.ExitHarnessError, err
		}
		opts = append(opts, runner.WithPolicy(engine))
	}

	log.Debug().Str("base_url", cfg.BaseURL).Str("ws_url", env.WSURL).Msg("starting suite")
	rep, err := runner.New(env, opts...).Run(ctx)
	if err != nil {
		return report.ExitHarnessError, err
	}

	if cfg.JSON {
		err = rep.WriteJSON(stdout)
	} else {
		err = rep.WriteText(stdout, !cfg.NoColor && !color.NoColor)
	}
	if err != nil {
		return report.ExitHarnessError, err
	}

	if cfg.HistoryDB != "" {
		if err := saveHistory(ctx, cfg.HistoryDB, rep); err != nil {
			log.Warn().Err(err).Str("db", cfg.HistoryDB).Msg("failed to record report")
		}
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn().Err(err).Msg("failed to write metrics")
		}
	}

	return rep.ExitCode(), nil
}

func saveHistory(ctx context.Context, dsn string, rep *report.Report) error {
	store, err := history.NewSQLiteStore(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = store.SaveReport(ctx, rep)
	return err
}
