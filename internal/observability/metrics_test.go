package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountAndExport(t *testing.T) {
	m := NewMetrics()
	m.FramesTotal.WithLabelValues("out", "connect").Inc()
	m.FramesTotal.WithLabelValues("out", "connect").Inc()
	m.ScenarioResultsTotal.WithLabelValues("pass").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("out", "connect")))

	path := filepath.Join(t.TempDir(), "conformance.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `reclaw_conformance_frames_total{direction="out",method="connect"} 2`)
	assert.Contains(t, string(data), `reclaw_conformance_scenario_results_total{result="pass"} 1`)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", &buf)
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, `"message":"shown"`)
}
