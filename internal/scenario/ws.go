package scenario

import (
	"context"
	"errors"

	"github.com/aint-no-code/reclaw-conformance/internal/gateway"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
)

var wsScenarios = []Scenario{
	{
		Name:        "gateway.connect_ok",
		Description: "connect as the first frame succeeds with the expected protocol",
		Tags:        []string{"ws", "handshake"},
		Kind:        KindWS,
		Run:         runConnectOK,
	},
	{
		Name:        "gateway.first_frame_must_be_connect",
		Description: "a non-connect first frame is rejected with INVALID_REQUEST",
		Tags:        []string{"ws", "handshake"},
		Kind:        KindWS,
		Run:         runFirstFrameMustBeConnect,
	},
	{
		Name:        "gateway.connect_protocol_mismatch_rejected",
		Description: "connect with an unsupported protocol range is rejected",
		Tags:        []string{"ws", "handshake"},
		Kind:        KindWS,
		Run:         runProtocolMismatch,
	},
	{
		Name:        "agent.deferred_wait_completes",
		Description: "a deferred agent run is queued and agent.wait reports completed with output",
		Tags:        []string{"ws", "runs", "wait"},
		Kind:        KindWS,
		Run:         runDeferredWaitCompletes,
	},
	{
		Name:        "agent.wait_unknown_run_times_out",
		Description: "agent.wait on an unknown runId reports timeout echoing the runId",
		Tags:        []string{"ws", "runs", "wait"},
		Kind:        KindWS,
		Run:         runWaitUnknownTimesOut,
	},
	{
		Name:        "chat.abort_deferred_run",
		Description: "aborting a deferred chat run is observed as aborted by agent.wait",
		Tags:        []string{"ws", "runs", "abort"},
		Kind:        KindWS,
		Run:         runAbortDeferred,
	},
	{
		Name:        "chat.abort_session_wide",
		Description: "chat.abort without runId cancels every active run of the session once",
		Tags:        []string{"ws", "runs", "abort"},
		Kind:        KindWS,
		Run:         runAbortSessionWide,
	},
	{
		Name:        "chat.abort_cross_session_rejected",
		Description: "aborting a run under another session is rejected and leaves it running",
		Tags:        []string{"ws", "runs", "abort"},
		Kind:        KindWS,
		Run:         runAbortCrossSession,
	},
	{
		Name:        "chat.abort_completed_is_noop",
		Description: "aborting a completed run is an idempotent no-op",
		Tags:        []string{"ws", "runs", "abort"},
		Kind:        KindWS,
		Run:         runAbortCompletedNoop,
	},
	{
		Name:        "channels.status_ok",
		Description: "channels.status returns a channels object",
		Tags:        []string{"ws", "channels"},
		Kind:        KindWS,
		Run:         runChannelsStatus,
	},
	{
		Name:        "channels.logout_unknown_rejected",
		Description: "channels.logout for an unknown channel is rejected with INVALID_REQUEST",
		Tags:        []string{"ws", "channels"},
		Kind:        KindWS,
		Run:         runChannelsLogoutUnknown,
	},
}

func runConnectOK(ctx context.Context, env *Env) report.Outcome {
	const name = "gateway.connect_ok"

	_, hello, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	if hello.Protocol != protocol.ProtocolVersion {
		return report.Fail(name, "expected protocol=%d, found %d", protocol.ProtocolVersion, hello.Protocol).WithPayload(hello)
	}
	return report.Pass(name, "connect ok").WithPayload(hello)
}

func runFirstFrameMustBeConnect(ctx context.Context, env *Env) report.Outcome {
	const name = "gateway.first_frame_must_be_connect"

	c, err := env.Dial(ctx)
	if err != nil {
		return report.Fail(name, "dial failed: %v", err)
	}
	p, err := c.SendUnguarded(protocol.MethodChannelsStatus, struct{}{})
	if err != nil {
		return report.Fail(name, "send failed: %v", err)
	}
	resp, err := p.Await(ctx)
	if err != nil {
		return report.Fail(name, "no response to non-connect first frame: %v", err)
	}
	if resp.OK || resp.ErrorCode() != protocol.ErrorCodeInvalidRequest {
		return report.Fail(name, "expected ok=false and error.code=INVALID_REQUEST, found ok=%t error.code=%q",
			resp.OK, resp.ErrorCode()).WithPayload(resp)
	}
	return report.Pass(name, "non-connect first frame rejected with INVALID_REQUEST").WithPayload(resp)
}

func runProtocolMismatch(ctx context.Context, env *Env) report.Outcome {
	const name = "gateway.connect_protocol_mismatch_rejected"

	c, err := env.Dial(ctx)
	if err != nil {
		return report.Fail(name, "dial failed: %v", err)
	}
	params := gateway.DefaultConnectParams(env.Token)
	params.MinProtocol = protocol.ProtocolVersion + 100
	params.MaxProtocol = protocol.ProtocolVersion + 100

	hello, err := c.Handshake(ctx, params)
	switch {
	case err == nil:
		return report.Fail(name, "connect with protocol %d was accepted", params.MinProtocol).WithPayload(hello)
	case !errors.Is(err, gateway.ErrHandshakeRejected):
		return report.Fail(name, "connect failed without a response: %v", err)
	case errorCode(err) != protocol.ErrorCodeInvalidRequest:
		return report.Fail(name, "expected error.code=INVALID_REQUEST, found %q", errorCode(err))
	}
	return report.Pass(name, "protocol mismatch rejected with INVALID_REQUEST")
}

func runChannelsStatus(ctx context.Context, env *Env) report.Outcome {
	const name = "channels.status_ok"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	status, err := c.ChannelsStatus(ctx)
	if err != nil {
		return report.Fail(name, "channels.status failed: %v", err)
	}
	if status.Channels == nil {
		return report.Fail(name, "channels.status result has no channels object").WithPayload(status)
	}
	return report.Pass(name, "channels.status ok").WithPayload(status)
}

func runChannelsLogoutUnknown(ctx context.Context, env *Env) report.Outcome {
	const name = "channels.logout_unknown_rejected"

	c, _, err := env.Connect(ctx)
	if err != nil {
		return report.Fail(name, "connect failed: %v", err)
	}
	resp, err := c.ChannelsLogout(ctx, "nonexistent")
	switch {
	case err == nil:
		return report.Fail(name, "logout of unknown channel succeeded").WithPayload(resp)
	case errorCode(err) != protocol.ErrorCodeInvalidRequest:
		return report.Fail(name, "expected error.code=INVALID_REQUEST, found: %v", err)
	}
	return report.Pass(name, "unknown channel logout rejected with INVALID_REQUEST").WithPayload(resp)
}
