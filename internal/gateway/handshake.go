package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
)

var (
	ErrHandshakeRequired  = errors.New("connect handshake required before other commands")
	ErrHandshakeAttempted = errors.New("connect handshake already attempted on this connection")
	ErrHandshakeRejected  = errors.New("connect handshake rejected")
	ErrHandshakeFailed    = errors.New("connect handshake failed; connection unusable")
)

type handshakeState int

const (
	stateFresh handshakeState = iota
	stateConnecting
	stateReady
	stateFailed
)

// DefaultConnectParams identifies the harness and asks for the expected protocol.
func DefaultConnectParams(token string) protocol.ConnectParams {
	params := protocol.ConnectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client: protocol.ClientInfo{
			ID:       "reclaw-conformance",
			Version:  observability.Version,
			Platform: "go",
			Mode:     "test",
		},
	}
	if token != "" {
		params.Auth = &protocol.AuthInfo{Token: token}
	}
	return params
}

// Handshake sends connect as the first frame and waits for its response. There is
// exactly one attempt per connection: a rejection leaves the connection unusable
// and a second call fails with ErrHandshakeAttempted.
func (c *Client) Handshake(ctx context.Context, params protocol.ConnectParams) (*protocol.HelloResult, error) {
	c.stateMu.Lock()
	if c.state != stateFresh {
		c.stateMu.Unlock()
		return nil, ErrHandshakeAttempted
	}
	c.state = stateConnecting
	c.stateMu.Unlock()

	p, err := c.send(protocol.MethodConnect, params)
	if err != nil {
		c.setState(stateFailed)
		return nil, err
	}
	resp, err := p.Await(ctx)
	if err != nil {
		c.setState(stateFailed)
		return nil, err
	}
	if !resp.OK {
		c.setState(stateFailed)
		return nil, fmt.Errorf("%w: %w", ErrHandshakeRejected, resp.Error)
	}

	var hello protocol.HelloResult
	if len(resp.Result) > 0 {
		if err := resp.Decode(&hello); err != nil {
			c.setState(stateFailed)
			c.violate(ViolationMalformedFrame, err.Error())
			return nil, err
		}
	}

	c.stateMu.Lock()
	c.state = stateReady
	c.sessionKey = hello.SessionKey
	c.stateMu.Unlock()

	c.log.Debug().Int("protocol", hello.Protocol).Msg("handshake completed")
	return &hello, nil
}

// Send issues a command after a successful handshake and returns its pending handle.
func (c *Client) Send(method string, params any) (*Pending, error) {
	if method == protocol.MethodConnect {
		return nil, fmt.Errorf("%w: use Handshake for connect", ErrHandshakeAttempted)
	}

	c.stateMu.Lock()
	state := c.state
	c.stateMu.Unlock()

	switch state {
	case stateReady:
		return c.send(method, params)
	case stateFailed:
		return nil, ErrHandshakeFailed
	default:
		return nil, ErrHandshakeRequired
	}
}

// SendUnguarded writes a frame without the handshake guard. It exists to check how
// a server treats a non-connect first frame; sending anything but connect on a
// fresh connection consumes its single handshake attempt.
func (c *Client) SendUnguarded(method string, params any) (*Pending, error) {
	c.stateMu.Lock()
	if c.state == stateFresh && method != protocol.MethodConnect {
		c.state = stateFailed
	}
	c.stateMu.Unlock()

	return c.send(method, params)
}

// Handshaked reports whether the connect handshake succeeded.
func (c *Client) Handshaked() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == stateReady
}

func (c *Client) setState(s handshakeState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}
