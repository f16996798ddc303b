package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aint-no-code/reclaw-conformance/internal/history"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/scenario"
	"github.com/aint-no-code/reclaw-conformance/internal/testhelpers"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExecuteSuiteJSON(t *testing.T) {
	gw := testhelpers.NewTestGateway(t, testhelpers.FastOptions())

	code, out, stderr := run(t, "--base-url", gw.URL(), "--json", "--wait-timeout", "3s")
	require.Equal(t, report.ExitPass, code, "stderr: %s\nstdout: %s", stderr, out)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, len(scenario.All()), rep.Total)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, gw.URL(), rep.BaseURL)
}

func TestExecuteSuiteText(t *testing.T) {
	gw := testhelpers.NewTestGateway(t, testhelpers.FastOptions())

	code, out, _ := run(t, "--base-url", gw.URL(), "--no-color", "--scenario", "healthz.")
	assert.Equal(t, report.ExitPass, code)
	assert.Contains(t, out, "[PASS] healthz.ok_true")
	assert.NotContains(t, out, "gateway.connect_ok")
}

func TestExecuteFailingGateway(t *testing.T) {
	opts := testhelpers.FastOptions()
	opts.Faults.ReportProtocol = 2
	gw := testhelpers.NewTestGateway(t, opts)

	code, out, _ := run(t, "--base-url", gw.URL(), "--no-color", "--scenario", "info.protocol_version")
	assert.Equal(t, report.ExitFail, code)
	assert.Contains(t, out, "[FAIL] info.protocol_version")
}

func TestExecuteUnreachableIsHarnessError(t *testing.T) {
	code, _, stderr := run(t, "--base-url", "http://127.0.0.1:1")
	assert.Equal(t, report.ExitHarnessError, code)
	assert.Contains(t, stderr, "error:")
}

func TestExecuteInvalidBaseURL(t *testing.T) {
	code, _, stderr := run(t, "--base-url", "ftp://example.com")
	assert.Equal(t, report.ExitHarnessError, code)
	assert.NotEmpty(t, stderr)
}

func TestExecuteConfigFile(t *testing.T) {
	gw := testhelpers.NewTestGateway(t, testhelpers.FastOptions())
	path := filepath.Join(t.TempDir(), "conformance.yaml")
	content := "base_url: " + gw.URL() + "\nscenarios:\n  - channels.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	code, out, stderr := run(t, "--config", path, "--json")
	require.Equal(t, report.ExitPass, code, "stderr: %s", stderr)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 3, rep.Total)
}

func TestListCommand(t *testing.T) {
	code, out, _ := run(t, "list", "--json")
	require.Equal(t, report.ExitPass, code)

	var listed []listedScenario
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, len(scenario.All()))
	assert.Equal(t, "healthz.ok_true", listed[0].Name)

	code, out, _ = run(t, "list", "--scenario", "chat.")
	assert.Equal(t, report.ExitPass, code)
	assert.Contains(t, out, "chat.abort_deferred")
	assert.NotContains(t, out, "healthz")
}

func TestHistoryRecordsRuns(t *testing.T) {
	gw := testhelpers.NewTestGateway(t, testhelpers.FastOptions())
	db := filepath.Join(t.TempDir(), "history.db")

	code, _, _ := run(t, "--base-url", gw.URL(), "--history-db", db, "--scenario", "readyz.", "--json")
	require.Equal(t, report.ExitPass, code)

	code, out, stderr := run(t, "history", "--history-db", db, "--json")
	require.Equal(t, report.ExitPass, code, "stderr: %s", stderr)

	var summaries []history.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Total)
	assert.WithinDuration(t, time.Now(), summaries[0].StartedAt, time.Minute)

	code, out, _ = run(t, "history", summaries[0].ID, "--history-db", db)
	assert.Equal(t, report.ExitPass, code)
	assert.Contains(t, out, "readyz.ok_true")
}

func TestHistoryRequiresDB(t *testing.T) {
	t.Setenv("RECLAW_HISTORY_DB", "")
	code, _, stderr := run(t, "history")
	assert.Equal(t, report.ExitHarnessError, code)
	assert.Contains(t, stderr, "history-db")
}
