package scenario_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aint-no-code/reclaw-conformance/internal/fakegateway"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/scenario"
	"github.com/aint-no-code/reclaw-conformance/internal/testhelpers"
)

func newEnv(t *testing.T, opts fakegateway.Options) *scenario.Env {
	t.Helper()
	gw := testhelpers.NewTestGateway(t, opts)
	env, err := scenario.NewEnv(gw.URL(), "/ws", scenario.WithWaitTimeout(3*time.Second))
	require.NoError(t, err)
	return env
}

func run(t *testing.T, env *scenario.Env, name string) report.Outcome {
	t.Helper()
	s, ok := scenario.Find(name)
	require.True(t, ok, "scenario %s not in catalog", name)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return scenario.RunScenario(ctx, env, s)
}

func TestCatalogOrderAndNames(t *testing.T) {
	all := scenario.All()
	require.Len(t, all, 16)
	assert.Equal(t, "healthz.ok_true", all[0].Name)
	assert.Equal(t, "gateway.connect_ok", all[5].Name)

	seen := map[string]bool{}
	for _, s := range all {
		assert.False(t, seen[s.Name], "duplicate scenario %s", s.Name)
		seen[s.Name] = true
		assert.NotEmpty(t, s.Description)
		assert.NotNil(t, s.Run)
	}
}

func TestAllScenariosPassAgainstReferenceGateway(t *testing.T) {
	env := newEnv(t, testhelpers.FastOptions())

	for _, s := range scenario.All() {
		t.Run(s.Name, func(t *testing.T) {
			out := run(t, env, s.Name)
			assert.True(t, out.Passed, "%s: %s", s.Name, out.Detail)
			assert.Equal(t, s.Name, out.Name)
		})
	}
}

func TestWrongProtocolFails(t *testing.T) {
	opts := testhelpers.FastOptions()
	opts.Faults = fakegateway.Faults{ReportProtocol: 2}
	env := newEnv(t, opts)

	out := run(t, env, "info.protocol_version")
	assert.False(t, out.Passed)
	assert.Equal(t, "expected protocolVersion=3, found 2", out.Detail)

	out = run(t, env, "gateway.connect_ok")
	assert.False(t, out.Passed)
}

func TestAcceptAnyFirstFrameFails(t *testing.T) {
	opts := testhelpers.FastOptions()
	opts.Faults = fakegateway.Faults{AcceptAnyFirstFrame: true}
	env := newEnv(t, opts)

	out := run(t, env, "gateway.first_frame_must_be_connect")
	assert.False(t, out.Passed)
	assert.Contains(t, out.Detail, "INVALID_REQUEST")
}

func TestCompletedAfterAbortFails(t *testing.T) {
	opts := testhelpers.FastOptions()
	opts.Faults = fakegateway.Faults{CompletedAfterAbort: true}
	env := newEnv(t, opts)

	out := run(t, env, "chat.abort_deferred_run")
	assert.False(t, out.Passed)
}

func TestRunScenarioRecoversPanics(t *testing.T) {
	env := newEnv(t, testhelpers.FastOptions())
	s := scenario.Scenario{
		Name: "test.panics",
		Kind: scenario.KindHTTP,
		Run: func(context.Context, *scenario.Env) report.Outcome {
			panic("boom")
		},
	}

	out := scenario.RunScenario(context.Background(), env, s)
	assert.False(t, out.Passed)
	assert.Equal(t, "test.panics", out.Name)
	assert.Contains(t, out.Detail, "boom")
}

func TestRunScenarioDeadline(t *testing.T) {
	env := newEnv(t, testhelpers.FastOptions())
	s := scenario.Scenario{
		Name: "test.slow",
		Kind: scenario.KindWS,
		Run: func(ctx context.Context, env *scenario.Env) report.Outcome {
			<-ctx.Done()
			return report.Fail("test.slow", "gave up: %v", ctx.Err())
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := scenario.RunScenario(ctx, env, s)
	assert.False(t, out.Passed)
	assert.Contains(t, out.Detail, "deadline exceeded")
}

func TestUnreachableGatewayFails(t *testing.T) {
	env, err := scenario.NewEnv("http://127.0.0.1:1", "/ws")
	require.NoError(t, err)

	out := run(t, env, "gateway.connect_ok")
	assert.False(t, out.Passed)
	assert.Contains(t, out.Detail, "connect failed")
}

func TestMatches(t *testing.T) {
	assert.True(t, scenario.Matches("chat.abort_session_wide", nil))
	assert.True(t, scenario.Matches("chat.abort_session_wide", []string{"chat."}))
	assert.True(t, scenario.Matches("chat.abort_session_wide", []string{"chat.abort_session_wide"}))
	assert.False(t, scenario.Matches("chat.abort_session_wide", []string{"chat"}))
	assert.False(t, scenario.Matches("agent.wait_unknown_run_times_out", []string{"chat."}))
}

func TestProtocolViolationFailsScenarioFast(t *testing.T) {
	cases := map[string]struct {
		handle func(*websocket.Conn)
		kind   string
	}{
		"wrong response id": {testhelpers.RespondWithWrongID, "unexpected_id"},
		"malformed frame":   {testhelpers.RespondMalformed, "malformed_frame"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stub := testhelpers.NewStubGateway(t, tc.handle)
			env, err := scenario.NewEnv(stub.URL(), "/ws")
			require.NoError(t, err)
			s, ok := scenario.Find("channels.status_ok")
			require.True(t, ok)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			start := time.Now()
			out := scenario.RunScenario(ctx, env, s)

			assert.False(t, out.Passed)
			assert.Less(t, time.Since(start), time.Second)
			assert.True(t, strings.HasPrefix(out.Detail, "protocol violation ("+tc.kind+")"), "detail: %s", out.Detail)
			assert.NotContains(t, out.Detail, "deadline exceeded")
		})
	}
}
