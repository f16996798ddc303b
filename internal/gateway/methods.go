package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/runs"
)

// call sends method and decodes a successful result into out. A response with
// ok == false is returned as the server's *protocol.Error.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if !resp.OK {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		c.violate(ViolationMalformedFrame, err.Error())
		return err
	}
	return nil
}

// Agent invokes an agent run.
func (c *Client) Agent(ctx context.Context, params protocol.AgentParams) (*protocol.RunAccepted, error) {
	var accepted protocol.RunAccepted
	if err := c.call(ctx, protocol.MethodAgent, params, &accepted); err != nil {
		return nil, err
	}
	c.trackAccepted(protocol.MethodAgent, params.SessionKey, params.IdempotencyKey, &accepted)
	return &accepted, nil
}

// ChatSend sends a chat message; with Deferred set the server answers with a queued run.
func (c *Client) ChatSend(ctx context.Context, params protocol.ChatSendParams) (*protocol.RunAccepted, error) {
	var accepted protocol.RunAccepted
	if err := c.call(ctx, protocol.MethodChatSend, params, &accepted); err != nil {
		return nil, err
	}
	c.trackAccepted(protocol.MethodChatSend, params.SessionKey, params.IdempotencyKey, &accepted)
	return &accepted, nil
}

// Wait issues agent.wait for runID with the given server-side timeout.
func (c *Client) Wait(ctx context.Context, runID string, timeout time.Duration) (*protocol.WaitResult, error) {
	var result protocol.WaitResult
	params := protocol.NewWaitParams(runID, timeout)
	if err := c.call(ctx, protocol.MethodAgentWait, params, &result); err != nil {
		return nil, err
	}
	c.trackWait(&result)
	return &result, nil
}

// Abort issues chat.abort. An empty runID aborts every active run of the session.
func (c *Client) Abort(ctx context.Context, sessionKey, runID string) (*protocol.AbortResult, error) {
	var result protocol.AbortResult
	params := protocol.AbortParams{SessionKey: sessionKey, RunID: runID}
	if err := c.call(ctx, protocol.MethodChatAbort, params, &result); err != nil {
		return nil, err
	}
	c.trackAbort(&result)
	return &result, nil
}

// ChannelsStatus issues channels.status.
func (c *Client) ChannelsStatus(ctx context.Context) (*protocol.ChannelsStatusResult, error) {
	var result protocol.ChannelsStatusResult
	if err := c.call(ctx, protocol.MethodChannelsStatus, struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChannelsLogout issues channels.logout.
func (c *Client) ChannelsLogout(ctx context.Context, channel string) (*protocol.Response, error) {
	resp, err := c.Call(ctx, protocol.MethodChannelsLogout, protocol.ChannelsLogoutParams{Channel: channel})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return resp, resp.Error
	}
	return resp, nil
}

// trackAccepted records a run the server accepted in the shadow registry.
func (c *Client) trackAccepted(method, sessionKey, idempotencyKey string, accepted *protocol.RunAccepted) {
	if accepted.RunID == "" {
		c.violate(ViolationRunState, fmt.Sprintf("%s accepted without runId", method))
		return
	}

	key := accepted.SessionKey
	if key == "" {
		key = sessionKey
	}
	if key == "" {
		key = c.SessionKey()
	}
	if key == "" {
		key = "main"
	}

	status := runs.Status(accepted.Status)
	if !status.Valid() {
		c.violate(ViolationRunState, fmt.Sprintf("%s returned unknown status %q for run %s", method, accepted.Status, accepted.RunID))
		return
	}

	initial := status
	if status.Terminal() {
		initial = runs.StatusRunning
	}
	if _, err := c.runs.Create(accepted.RunID, key, initial); err != nil {
		if errors.Is(err, runs.ErrDuplicateRun) && c.replayed(idempotencyKey, accepted.RunID) {
			return
		}
		c.violate(ViolationDuplicateRun, err.Error())
		return
	}
	if idempotencyKey != "" {
		c.idemMu.Lock()
		c.idemRuns[idempotencyKey] = accepted.RunID
		c.idemMu.Unlock()
	}
	if status.Terminal() {
		c.applyTerminal(accepted.RunID, status, accepted.Result)
	}
}

// replayed reports whether runID was already returned for the same idempotency key.
func (c *Client) replayed(idempotencyKey, runID string) bool {
	if idempotencyKey == "" {
		return false
	}
	c.idemMu.Lock()
	defer c.idemMu.Unlock()
	return c.idemRuns[idempotencyKey] == runID
}

func (c *Client) trackWait(result *protocol.WaitResult) {
	switch result.Status {
	case string(runs.StatusCompleted), string(runs.StatusAborted):
		c.applyTerminal(result.RunID, runs.Status(result.Status), result.Result)
	case runs.OutcomeTimeout:
	default:
		c.violate(ViolationRunState, fmt.Sprintf("agent.wait returned unknown status %q for run %s", result.Status, result.RunID))
	}
}

func (c *Client) trackAbort(result *protocol.AbortResult) {
	if !result.Aborted {
		return
	}
	for _, id := range result.RunIDs {
		c.applyTerminal(id, runs.StatusAborted, nil)
	}
}

// applyTerminal moves a tracked run to a terminal state. A server report that
// contradicts an earlier terminal report is a violation; reports for runs this
// connection never saw are ignored.
func (c *Client) applyTerminal(runID string, status runs.Status, result *protocol.RunResult) {
	var res *runs.Result
	if status == runs.StatusCompleted && result != nil {
		res = &runs.Result{SessionKey: result.SessionKey}
		if result.Output != nil {
			res.Output = *result.Output
		}
	}

	_, err := c.runs.Transition(runID, status, res)
	switch {
	case err == nil, errors.Is(err, runs.ErrRunNotFound):
	case errors.Is(err, runs.ErrInvalidTransition):
		current, getErr := c.runs.Get(runID)
		if getErr == nil && current.Status != status {
			c.violate(ViolationRunState, fmt.Sprintf("run %s reported %s after %s", runID, status, current.Status))
		}
	default:
		c.log.Warn().Err(err).Str("run_id", runID).Msg("tracking run transition")
	}
}
