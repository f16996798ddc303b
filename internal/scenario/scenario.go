// Package scenario holds the conformance scenario catalog and the logic that
// runs one scenario against a gateway.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aint-no-code/reclaw-conformance/internal/gateway"
	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
	"github.com/aint-no-code/reclaw-conformance/internal/transport"
)

// Kind tells which surface a scenario exercises.
type Kind string

const (
	KindHTTP Kind = "http"
	KindWS   Kind = "ws"
)

// Scenario is one named conformance check.
type Scenario struct {
	Name        string
	Description string
	Tags        []string
	Kind        Kind
	Run         func(ctx context.Context, env *Env) report.Outcome
}

// Env is what scenarios run against.
type Env struct {
	HTTP        *transport.HTTPTransport
	WSURL       string
	Token       string
	WaitTimeout time.Duration
	Log         zerolog.Logger
	Metrics     *observability.Metrics

	mu      sync.Mutex
	clients []*gateway.Client
}

// NewEnv builds an environment for baseURL with the WebSocket endpoint at wsPath.
func NewEnv(baseURL, wsPath string, opts ...EnvOption) (*Env, error) {
	t, err := transport.NewHTTPTransport(baseURL)
	if err != nil {
		return nil, err
	}
	env := &Env{
		HTTP:        t,
		WSURL:       t.WebSocketURL(wsPath),
		WaitTimeout: 10 * time.Second,
		Log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithToken sets the gateway token sent on upgrade and in connect.
func WithToken(token string) EnvOption { return func(e *Env) { e.Token = token } }

// WithWaitTimeout bounds every agent.wait issued by scenarios.
func WithWaitTimeout(d time.Duration) EnvOption { return func(e *Env) { e.WaitTimeout = d } }

// WithLogger sets the scenario logger.
func WithLogger(log zerolog.Logger) EnvOption { return func(e *Env) { e.Log = log } }

// WithMetrics records client metrics.
func WithMetrics(m *observability.Metrics) EnvOption { return func(e *Env) { e.Metrics = m } }

// scoped returns a copy that tracks the clients one scenario opens.
func (e *Env) scoped(name string) *Env {
	return &Env{
		HTTP:        e.HTTP,
		WSURL:       e.WSURL,
		Token:       e.Token,
		WaitTimeout: e.WaitTimeout,
		Log:         e.Log.With().Str("scenario", name).Logger(),
		Metrics:     e.Metrics,
	}
}

// Dial opens a gateway connection without handshaking.
func (e *Env) Dial(ctx context.Context) (*gateway.Client, error) {
	opts := []gateway.Option{
		gateway.WithLogger(e.Log),
		gateway.WithBearerToken(e.Token),
	}
	if e.Metrics != nil {
		opts = append(opts, gateway.WithMetrics(e.Metrics))
	}
	c, err := gateway.Dial(ctx, e.WSURL, opts...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.clients = append(e.clients, c)
	e.mu.Unlock()
	return c, nil
}

// Connect opens a connection and completes the handshake.
func (e *Env) Connect(ctx context.Context) (*gateway.Client, *protocol.HelloResult, error) {
	c, err := e.Dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	hello, err := c.Handshake(ctx, gateway.DefaultConnectParams(e.Token))
	if err != nil {
		return nil, nil, fmt.Errorf("handshake: %w", err)
	}
	return c, hello, nil
}

// release closes the scenario's clients and returns the violations they saw.
func (e *Env) release() []gateway.Violation {
	e.mu.Lock()
	clients := e.clients
	e.clients = nil
	e.mu.Unlock()

	var violations []gateway.Violation
	for _, c := range clients {
		c.Close()
		violations = append(violations, c.Violations()...)
	}
	return violations
}

// RunScenario runs one scenario. Panics and recorded protocol violations turn
// into failed outcomes, a violation leading the detail; a deadline hit without a
// violation is reported as a tooling failure.
func RunScenario(ctx context.Context, env *Env, s Scenario) (out report.Outcome) {
	scoped := env.scoped(s.Name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out = report.Fail(s.Name, "scenario panicked: %v", r)
		}
		if violations := scoped.release(); len(violations) > 0 {
			v := violations[0]
			detail := fmt.Sprintf("protocol violation (%s): %s", v.Kind, v.Detail)
			if !out.Passed && out.Detail != "" {
				detail += "; " + out.Detail
			}
			out = report.Fail(s.Name, "%s", detail).WithPayload(violations)
		} else if !out.Passed && errors.Is(ctx.Err(), context.DeadlineExceeded) && !strings.Contains(out.Detail, "deadline exceeded") {
			out.Detail = "deadline exceeded: " + out.Detail
		}
		out.Name = s.Name
		out.DurationMs = time.Since(start).Milliseconds()
	}()

	return s.Run(ctx, scoped)
}

// All returns the catalog in its fixed order.
func All() []Scenario {
	out := make([]Scenario, 0, len(httpScenarios)+len(wsScenarios))
	out = append(out, httpScenarios...)
	out = append(out, wsScenarios...)
	return out
}

// Find returns the scenario with the given name.
func Find(name string) (Scenario, bool) {
	for _, s := range All() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// Matches reports whether a scenario name is selected by filter, which is either
// an exact name or a dotted prefix such as "chat.".
func Matches(name string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f == name || (strings.HasSuffix(f, ".") && strings.HasPrefix(name, f)) {
			return true
		}
	}
	return false
}

func newSessionKey() string {
	return "conformance-" + uuid.New().String()[:8]
}

func errorCode(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}
