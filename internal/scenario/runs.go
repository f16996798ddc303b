package scenario

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/aint-no-code/reclaw-conformance/internal/gateway"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/runs"
)

const unknownRunWait = 250 * time.Millisecond

func runDeferredWaitCompletes(ctx context.Context, env *Env) report.Outcome {
	const name = "agent.deferred_wait_completes"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	accepted, err := c.Agent(ctx, protocol.AgentParams{
		Message:        "conformance deferred run",
		SessionKey:     newSessionKey(),
		Deferred:       true,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return report.Fail(name, "agent failed: %v", err)
	}
	if accepted.Status != string(runs.StatusQueued) {
		return report.Fail(name, "expected deferred agent status=queued, found %q", accepted.Status).WithPayload(accepted)
	}

	result, err := c.Wait(ctx, accepted.RunID, env.WaitTimeout)
	if err != nil {
		return report.Fail(name, "agent.wait failed: %v", err)
	}
	switch {
	case result.Status != string(runs.StatusCompleted):
		return report.Fail(name, "expected wait status=completed, found %q", result.Status).WithPayload(result)
	case result.RunID != accepted.RunID:
		return report.Fail(name, "wait echoed runId %q, want %q", result.RunID, accepted.RunID).WithPayload(result)
	case result.Result == nil || result.Result.Output == nil:
		return report.Fail(name, "completed run has no result.output").WithPayload(result)
	case result.Result.SessionKey == "":
		return report.Fail(name, "completed run has no result.sessionKey").WithPayload(result)
	}
	return report.Pass(name, "deferred run queued then completed with output").WithPayload(result)
}

func runWaitUnknownTimesOut(ctx context.Context, env *Env) report.Outcome {
	const name = "agent.wait_unknown_run_times_out"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	runID := "conformance-missing-" + uuid.New().String()
	timeout := min(unknownRunWait, env.WaitTimeout)

	result, err := c.Wait(ctx, runID, timeout)
	if err != nil {
		return report.Fail(name, "agent.wait failed: %v", err)
	}
	if result.Status != runs.OutcomeTimeout || result.RunID != runID {
		return report.Fail(name, "expected status=timeout echoing %q, found status=%q runId=%q",
			runID, result.Status, result.RunID).WithPayload(result)
	}
	return report.Pass(name, "unknown run reported as timeout").WithPayload(result)
}

func runAbortDeferred(ctx context.Context, env *Env) report.Outcome {
	const name = "chat.abort_deferred_run"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	sessionKey := newSessionKey()
	accepted, err := c.ChatSend(ctx, deferredChat(sessionKey))
	if err != nil {
		return report.Fail(name, "chat.send failed: %v", err)
	}

	aborted, err := c.Abort(ctx, sessionKey, accepted.RunID)
	if err != nil {
		return report.Fail(name, "chat.abort failed: %v", err)
	}
	if !aborted.Aborted || !slices.Equal(aborted.RunIDs, []string{accepted.RunID}) {
		return report.Fail(name, "expected aborted=true runIds=[%s]", accepted.RunID).WithPayload(aborted)
	}

	if out, ok := expectAborted(ctx, env, c, name, accepted.RunID); !ok {
		return out
	}
	return report.Pass(name, "deferred run aborted and wait reported aborted").WithPayload(aborted)
}

func runAbortSessionWide(ctx context.Context, env *Env) report.Outcome {
	const name = "chat.abort_session_wide"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	sessionKey := newSessionKey()

	first, err := c.Agent(ctx, protocol.AgentParams{
		Message:    "conformance session-wide abort",
		SessionKey: sessionKey,
		Deferred:   true,
	})
	if err != nil {
		return report.Fail(name, "agent failed: %v", err)
	}
	second, err := c.ChatSend(ctx, deferredChat(sessionKey))
	if err != nil {
		return report.Fail(name, "chat.send failed: %v", err)
	}

	// A run in another session must survive.
	bystanderKey := newSessionKey()
	bystander, err := c.ChatSend(ctx, deferredChat(bystanderKey))
	if err != nil {
		return report.Fail(name, "chat.send failed: %v", err)
	}

	aborted, err := c.Abort(ctx, sessionKey, "")
	if err != nil {
		return report.Fail(name, "chat.abort failed: %v", err)
	}
	if !aborted.Aborted || !slices.Contains(aborted.RunIDs, first.RunID) || !slices.Contains(aborted.RunIDs, second.RunID) {
		return report.Fail(name, "expected runIds to contain %s and %s", first.RunID, second.RunID).WithPayload(aborted)
	}
	if slices.Contains(aborted.RunIDs, bystander.RunID) {
		return report.Fail(name, "session-wide abort cancelled run %s of another session", bystander.RunID).WithPayload(aborted)
	}

	for _, id := range []string{first.RunID, second.RunID} {
		if out, ok := expectAborted(ctx, env, c, name, id); !ok {
			return out
		}
	}

	again, err := c.Abort(ctx, sessionKey, "")
	if err != nil {
		return report.Fail(name, "second chat.abort failed: %v", err)
	}
	if len(again.RunIDs) != 0 {
		return report.Fail(name, "second session-wide abort returned runIds %v, want none", again.RunIDs).WithPayload(again)
	}

	_, _ = c.Abort(ctx, bystanderKey, bystander.RunID)
	return report.Pass(name, "session-wide abort cancelled both runs exactly once").WithPayload(aborted)
}

func runAbortCrossSession(ctx context.Context, env *Env) report.Outcome {
	const name = "chat.abort_cross_session_rejected"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	owner := newSessionKey()
	accepted, err := c.ChatSend(ctx, deferredChat(owner))
	if err != nil {
		return report.Fail(name, "chat.send failed: %v", err)
	}

	result, err := c.Abort(ctx, newSessionKey(), accepted.RunID)
	switch {
	case err == nil:
		return report.Fail(name, "cross-session abort was accepted").WithPayload(result)
	case errorCode(err) != protocol.ErrorCodeInvalidRequest:
		return report.Fail(name, "expected error.code=INVALID_REQUEST, found: %v", err)
	}

	// The owner can still abort it, so the rejected call changed nothing.
	own, err := c.Abort(ctx, owner, accepted.RunID)
	if err != nil {
		return report.Fail(name, "owner chat.abort failed: %v", err)
	}
	if !own.Aborted {
		return report.Fail(name, "run was no longer active after the rejected cross-session abort").WithPayload(own)
	}
	return report.Pass(name, "cross-session abort rejected with INVALID_REQUEST")
}

func runAbortCompletedNoop(ctx context.Context, env *Env) report.Outcome {
	const name = "chat.abort_completed_is_noop"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	sessionKey := newSessionKey()
	accepted, err := c.ChatSend(ctx, protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        "conformance completed run",
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return report.Fail(name, "chat.send failed: %v", err)
	}
	if accepted.Status != string(runs.StatusCompleted) {
		result, err := c.Wait(ctx, accepted.RunID, env.WaitTimeout)
		if err != nil {
			return report.Fail(name, "agent.wait failed: %v", err)
		}
		if result.Status != string(runs.StatusCompleted) {
			return report.Fail(name, "run did not complete: status=%q", result.Status).WithPayload(result)
		}
	}

	for attempt := 1; attempt <= 2; attempt++ {
		result, err := c.Abort(ctx, sessionKey, accepted.RunID)
		if err != nil {
			return report.Fail(name, "chat.abort #%d failed: %v", attempt, err)
		}
		if result.Aborted || !slices.Contains(result.RunIDs, accepted.RunID) {
			return report.Fail(name, "abort #%d on completed run: expected aborted=false with runIds naming %s",
				attempt, accepted.RunID).WithPayload(result)
		}
	}

	result, err := c.Wait(ctx, accepted.RunID, env.WaitTimeout)
	if err != nil {
		return report.Fail(name, "agent.wait failed: %v", err)
	}
	if result.Status != string(runs.StatusCompleted) {
		return report.Fail(name, "completed run changed to %q after abort", result.Status).WithPayload(result)
	}
	return report.Pass(name, "abort on completed run is an idempotent no-op").WithPayload(result)
}

func deferredChat(sessionKey string) protocol.ChatSendParams {
	return protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        "conformance deferred chat",
		Deferred:       true,
		IdempotencyKey: uuid.New().String(),
	}
}

// expectAborted waits on runID and checks it reports aborted without output.
func expectAborted(ctx context.Context, env *Env, c *gateway.Client, name, runID string) (report.Outcome, bool) {
	result, err := c.Wait(ctx, runID, env.WaitTimeout)
	if err != nil {
		return report.Fail(name, "agent.wait %s failed: %v", runID, err), false
	}
	if result.Status != string(runs.StatusAborted) {
		return report.Fail(name, "expected wait status=aborted for %s, found %q", runID, result.Status).WithPayload(result), false
	}
	if result.Result != nil && result.Result.Output != nil {
		return report.Fail(name, "aborted run %s has non-null result.output", runID).WithPayload(result), false
	}
	return report.Outcome{}, true
}
