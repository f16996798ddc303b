// Package gateway implements the WebSocket conformance client: the mandatory
// connect handshake, correlated request/response exchanges over one duplex
// connection, and a shadow registry of the runs the server reports.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/runs"
)

var (
	// ErrConnectionClosed is returned to pending requests when the read loop stops.
	ErrConnectionClosed = errors.New("gateway connection closed")
	// ErrProtocolViolation is returned to pending and later requests once the
	// server broke the protocol on this connection.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Violation kinds
const (
	ViolationMalformedFrame    = "malformed_frame"
	ViolationUnexpectedID      = "unexpected_id"
	ViolationUnexpectedRequest = "unexpected_request"
	ViolationDuplicateRun      = "duplicate_run"
	ViolationRunState          = "run_state"
)

// Violation is a protocol anomaly observed on the connection. The first one fails
// every outstanding request and the client refuses new ones.
type Violation struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Client is one gateway connection, owned by a single scenario.
type Client struct {
	conn         *websocket.Conn
	log          zerolog.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration

	nextID  atomic.Uint64
	pending *pendingTable
	writeMu sync.Mutex

	stateMu    sync.Mutex
	state      handshakeState
	sessionKey string

	runs     *runs.Registry
	idemMu   sync.Mutex
	idemRuns map[string]string

	violMu     sync.Mutex
	violations []Violation

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*options)

type options struct {
	log              zerolog.Logger
	metrics          *observability.Metrics
	header           http.Header
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	readLimit        int64
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records frame and violation counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithBearerToken adds an Authorization header to the upgrade request.
func WithBearerToken(token string) Option {
	return func(o *options) {
		if token != "" {
			o.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// Dial opens a gateway connection. The returned client has not sent any frame yet.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{
		log:              zerolog.Nop(),
		header:           http.Header{},
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		readLimit:        1 << 20,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, o.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(o.readLimit)

	c := &Client{
		conn:         conn,
		log:          o.log.With().Str("component", "gateway").Str("url", url).Logger(),
		metrics:      o.metrics,
		writeTimeout: o.writeTimeout,
		pending:      newPendingTable(),
		runs:         runs.NewRegistry(),
		idemRuns:     make(map[string]string),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Runs returns the shadow registry of runs reported by the server.
func (c *Client) Runs() *runs.Registry { return c.runs }

// SessionKey returns the session key announced in the connect result, if any.
func (c *Client) SessionKey() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.sessionKey
}

// Done is closed when the read loop has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }

// Violations returns the protocol anomalies recorded so far.
func (c *Client) Violations() []Violation {
	c.violMu.Lock()
	defer c.violMu.Unlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Call sends a guarded request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params any) (*protocol.Response, error) {
	p, err := c.Send(method, params)
	if err != nil {
		return nil, err
	}
	return p.Await(ctx)
}

// Close sends a normal close frame and tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
		c.writeMu.Unlock()

		err = c.conn.Close()
		<-c.done
	})
	return err
}

// send registers a pending entry and writes the request frame. The entry is
// registered first so that a fast response is never reported as unexpected.
func (c *Client) send(method string, params any) (*Pending, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	p, err := c.pending.register(id, method)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		err = fmt.Errorf("write %s #%s: %w", method, id, err)
		c.pending.drop(id, err)
		return nil, err
	}

	c.countFrame("out", method)
	c.log.Debug().Str("id", id).Str("method", method).Msg("request sent")
	return p, nil
}

// readLoop reads frames until the connection fails and resolves pending requests.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("connection closed")
			}
			c.pending.failAll(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		c.violate(ViolationMalformedFrame, err.Error())
		return
	}

	switch {
	case frame.Response != nil:
		p := c.pending.resolve(frame.Response)
		if p == nil {
			c.violate(ViolationUnexpectedID, fmt.Sprintf("response id %q matches no outstanding request", frame.Response.ID))
			return
		}
		c.countFrame("in", p.Method)
		c.log.Debug().Str("id", p.ID).Str("method", p.Method).Bool("ok", frame.Response.OK).Msg("response received")
	case frame.Event != nil:
		c.countFrame("in", "event:"+frame.Event.Event)
		c.log.Debug().Str("event", frame.Event.Event).Msg("event received")
	case frame.Request != nil:
		c.violate(ViolationUnexpectedRequest, fmt.Sprintf("server sent request %s", frame.Request.Method))
	}
}

func (c *Client) violate(kind, detail string) {
	c.violMu.Lock()
	c.violations = append(c.violations, Violation{Kind: kind, Detail: detail, At: time.Now()})
	c.violMu.Unlock()

	c.pending.failAll(fmt.Errorf("%w (%s): %s", ErrProtocolViolation, kind, detail))

	if c.metrics != nil {
		c.metrics.ProtocolViolationsTotal.WithLabelValues(kind).Inc()
	}
	c.log.Warn().Str("kind", kind).Msg(detail)
}

func (c *Client) countFrame(direction, method string) {
	if c.metrics != nil {
		c.metrics.FramesTotal.WithLabelValues(direction, method).Inc()
	}
}
