package testhelpers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
)

// StubGateway is a bare WebSocket endpoint scripted frame by frame by a test.
type StubGateway struct {
	HTTP *httptest.Server
}

// URL returns the stub base URL.
func (g *StubGateway) URL() string { return g.HTTP.URL }

// WSURL returns the WebSocket endpoint.
func (g *StubGateway) WSURL() string {
	return "ws" + strings.TrimPrefix(g.HTTP.URL, "http") + "/ws"
}

// NewStubGateway serves handle on every WebSocket connection, whatever the path.
func NewStubGateway(t *testing.T, handle func(conn *websocket.Conn)) *StubGateway {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(ts.Close)

	return &StubGateway{HTTP: ts}
}

// ReadRequest reads the next request frame.
func ReadRequest(conn *websocket.Conn) (*protocol.Request, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	if frame.Request == nil {
		return nil, fmt.Errorf("expected a request frame, got %s", data)
	}
	return frame.Request, nil
}

// WriteResult answers id with a successful response.
func WriteResult(conn *websocket.Conn, id string, result any) error {
	resp, err := protocol.OKResponse(id, result)
	if err != nil {
		return err
	}
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// AcceptConnect completes the handshake the way a conforming gateway does.
func AcceptConnect(conn *websocket.Conn) error {
	req, err := ReadRequest(conn)
	if err != nil {
		return err
	}
	return WriteResult(conn, req.ID, protocol.HelloResult{
		Protocol:   protocol.ProtocolVersion,
		Server:     protocol.ServerInfo{Name: "stub"},
		SessionKey: "main",
	})
}

// RespondWithWrongID accepts connect, then answers every request under an id
// the client never used.
func RespondWithWrongID(conn *websocket.Conn) {
	if err := AcceptConnect(conn); err != nil {
		return
	}
	for {
		req, err := ReadRequest(conn)
		if err != nil {
			return
		}
		if err := WriteResult(conn, "bogus-"+req.ID, map[string]any{}); err != nil {
			return
		}
	}
}

// RespondMalformed accepts connect, then answers every request with text that is
// not a frame.
func RespondMalformed(conn *websocket.Conn) {
	if err := AcceptConnect(conn); err != nil {
		return
	}
	for {
		if _, err := ReadRequest(conn); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
			return
		}
	}
}
