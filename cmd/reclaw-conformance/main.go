package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aint-no-code/reclaw-conformance/internal/config"
	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and maps the outcome to an exit code: 0 when every
// scenario passed, 1 when any failed, 2 when the harness itself failed.
func execute(args []string, stdout, stderr io.Writer) int {
	code := report.ExitPass
	root := newRootCmd(stdout, stderr, &code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return report.ExitHarnessError
	}
	return code
}

// flags holds raw flag values; only flags the user set override the config.
type flags struct {
	configPath      string
	baseURL         string
	wsPath          string
	token           string
	scenarios       []string
	concurrency     int
	scenarioTimeout time.Duration
	waitTimeout     time.Duration
	json            bool
	noColor         bool
	policyFile      string
	historyDB       string
	metricsFile     string
	logLevel        string
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	var f flags
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "reclaw-conformance",
		Short:         "Run the Reclaw gateway conformance suite",
		Version:       fmt.Sprintf("%s (%s %s)", observability.Version, observability.Commit, observability.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return resolveConfig(cmd, cfg, &f)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := observability.NewConsoleLogger(cfg.LogLevel, stderr)
			c, err := runSuite(cmd.Context(), cfg, stdout, log)
			*code = c
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML or TOML config file")
	pf.StringVar(&f.baseURL, "base-url", config.DefaultBaseURL, "gateway base URL")
	pf.StringVar(&f.wsPath, "ws-path", "/ws", "gateway WebSocket path")
	pf.StringVar(&f.token, "token", "", "gateway auth token")
	pf.StringArrayVar(&f.scenarios, "scenario", nil, "run only this scenario or dotted prefix (repeatable)")
	pf.IntVar(&f.concurrency, "concurrency", 4, "scenarios run at once")
	pf.DurationVar(&f.scenarioTimeout, "timeout", 30*time.Second, "per-scenario deadline")
	pf.DurationVar(&f.waitTimeout, "wait-timeout", 10*time.Second, "agent.wait timeout")
	pf.BoolVar(&f.json, "json", false, "print the report as JSON")
	pf.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	pf.StringVar(&f.policyFile, "policy", "", "Rego policy deciding which scenarios run")
	pf.StringVar(&f.historyDB, "history-db", "", "SQLite database recording reports")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	pf.StringVar(&f.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newListCmd(stdout, cfg))
	root.AddCommand(newHistoryCmd(stdout, cfg))
	return root
}

// resolveConfig layers environment, config file and explicitly set flags.
func resolveConfig(cmd *cobra.Command, cfg *config.Config, f *flags) error {
	if f.configPath != "" {
		if err := cfg.MergeFile(f.configPath); err != nil {
			return err
		}
	}

	set := cmd.Flags().Changed
	if set("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if set("ws-path") {
		cfg.WSPath = f.wsPath
	}
	if set("token") {
		cfg.Token = f.token
	}
	if set("scenario") {
		cfg.Scenarios = f.scenarios
	}
	if set("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if set("timeout") {
		cfg.ScenarioTimeout = f.scenarioTimeout
	}
	if set("wait-timeout") {
		cfg.WaitTimeout = f.waitTimeout
	}
	if set("json") {
		cfg.JSON = f.json
	}
	if set("no-color") {
		cfg.NoColor = f.noColor
	}
	if set("policy") {
		cfg.PolicyFile = f.policyFile
	}
	if set("history-db") {
		cfg.HistoryDB = f.historyDB
	}
	if set("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg.Validate()
}
