// Package protocol defines the WebSocket frame protocol spoken by Reclaw/OpenClaw gateways.
package protocol

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the gateway protocol version the harness expects.
const ProtocolVersion = 3

// Frame types
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Methods consumed by the harness.
const (
	MethodConnect        = "connect"
	MethodAgent          = "agent"
	MethodAgentWait      = "agent.wait"
	MethodChatSend       = "chat.send"
	MethodChatAbort      = "chat.abort"
	MethodChannelsStatus = "channels.status"
	MethodChannelsLogout = "channels.logout"
)

// EventRun announces run state changes.
const EventRun = "run"

// RunEvent is the payload of EventRun.
type RunEvent struct {
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
	Status     string `json:"status"`
}

// Error codes
const (
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeUnavailable    = "UNAVAILABLE"
	ErrorCodeInternal       = "INTERNAL"
)

// Request is a correlated command frame sent by the client.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request with the same ID.
type Response struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Event is an uncorrelated server push.
type Event struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Error is the error object carried by a failed Response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// ClientInfo identifies the harness to the gateway.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// AuthInfo carries optional connect credentials.
type AuthInfo struct {
	Token string `json:"token,omitempty"`
}

// ConnectParams is the payload of the mandatory first frame.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Auth        *AuthInfo  `json:"auth,omitempty"`
}

// ServerInfo describes the gateway in a HelloResult.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HelloResult is the result of a successful connect.
type HelloResult struct {
	Protocol   int        `json:"protocol"`
	Server     ServerInfo `json:"server"`
	SessionKey string     `json:"sessionKey,omitempty"`
}

// AgentParams invokes an agent run.
type AgentParams struct {
	Message        string `json:"message"`
	SessionKey     string `json:"sessionKey,omitempty"`
	Deferred       bool   `json:"deferred,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// ChatSendParams sends a chat message, optionally as a deferred run.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	Deferred       bool   `json:"deferred,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RunAccepted is returned by agent and chat.send.
type RunAccepted struct {
	RunID      string     `json:"runId"`
	Status     string     `json:"status"`
	SessionKey string     `json:"sessionKey,omitempty"`
	Result     *RunResult `json:"result,omitempty"`
}

// WaitParams asks the gateway to wait for a run.
type WaitParams struct {
	RunID string `json:"runId"`
	// TimeoutMs is absent when the server default applies; 0 means do not wait.
	TimeoutMs *int64 `json:"timeoutMs,omitempty"`
}

// NewWaitParams waits on runID for timeout. A positive timeout under a
// millisecond is sent as 1ms so that it never turns into the server default.
func NewWaitParams(runID string, timeout time.Duration) WaitParams {
	ms := timeout.Milliseconds()
	switch {
	case timeout <= 0:
		ms = 0
	case ms == 0:
		ms = 1
	}
	return WaitParams{RunID: runID, TimeoutMs: &ms}
}

// RunResult is the output of a finished run. Output is nil for aborted runs.
type RunResult struct {
	Output     *string `json:"output"`
	SessionKey string  `json:"sessionKey,omitempty"`
}

// WaitResult is the result of agent.wait.
type WaitResult struct {
	RunID  string     `json:"runId"`
	Status string     `json:"status"`
	Result *RunResult `json:"result,omitempty"`
}

// AbortParams cancels one run, or every active run of a session when RunID is empty.
type AbortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
}

// AbortResult is the result of chat.abort.
type AbortResult struct {
	Aborted bool     `json:"aborted"`
	RunIDs  []string `json:"runIds"`
}

// ChannelStatus describes one messaging channel.
type ChannelStatus struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// ChannelsStatusResult is the result of channels.status.
type ChannelsStatusResult struct {
	Channels map[string]ChannelStatus `json:"channels"`
}

// ChannelsLogoutParams logs a channel out.
type ChannelsLogoutParams struct {
	Channel string `json:"channel"`
}

// ChannelsLogoutResult is the result of channels.logout.
type ChannelsLogoutResult struct {
	Channel   string `json:"channel"`
	LoggedOut bool   `json:"loggedOut"`
}
