package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const skipWSPolicy = `
package conformance

default decision = "run"

decision = {"decision": "skip", "reason": "websocket disabled"} {
	input.kind == "ws"
}
`

func TestDefaultPolicyRunsEverything(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	decision, _, err := e.Evaluate(ctx, Input{Name: "gateway.connect_ok", Kind: "ws"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRun, decision)
}

func TestPolicySkipsByKind(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, skipWSPolicy)
	require.NoError(t, err)

	decision, reason, err := e.Evaluate(ctx, Input{Name: "gateway.connect_ok", Kind: "ws"})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, decision)
	assert.Equal(t, "websocket disabled", reason)

	decision, _, err = e.Evaluate(ctx, Input{Name: "healthz.ok_true", Kind: "http"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRun, decision)
}

func TestPolicyByTag(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, `
package conformance

decision = "skip" {
	input.tags[_] == "slow"
}
`)
	require.NoError(t, err)

	decision, _, err := e.Evaluate(ctx, Input{Name: "a", Tags: []string{"runs", "slow"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, decision)

	decision, reason, err := e.Evaluate(ctx, Input{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRun, decision)
	assert.Equal(t, "default", reason)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte(skipWSPolicy), 0o600))

	_, err := LoadFile(context.Background(), path)
	require.NoError(t, err)

	_, err = LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), "package conformance\ndecision = {")
	assert.Error(t, err)
}
