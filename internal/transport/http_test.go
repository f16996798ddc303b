package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBaseURLTrimsAndStripsTrailingSlash(t *testing.T) {
	normalized, err := NormalizeBaseURL(" https://localhost:18789/ ")
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:18789", normalized)
}

func TestNormalizeBaseURLRejectsNonHTTPScheme(t *testing.T) {
	_, err := NormalizeBaseURL("ws://localhost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBaseURL))
	assert.Contains(t, err.Error(), "base URL must start with http:// or https://")

	_, err = NormalizeBaseURL("   ")
	assert.True(t, errors.Is(err, ErrInvalidBaseURL))
}

func TestWebSocketURL(t *testing.T) {
	tr, err := NewHTTPTransport("https://gw.example/")
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example/ws", tr.WebSocketURL("ws"))

	tr, err = NewHTTPTransport("http://127.0.0.1:18789")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:18789/gateway", tr.WebSocketURL("/gateway"))
}

func TestPostJSONReturnsStatusAndPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/nonexistent/webhook" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"ok":false,"error":{"code":"NOT_FOUND"}}`))
	}))
	defer server.Close()

	tr, err := NewHTTPTransport(server.URL)
	require.NoError(t, err)

	status, payload, err := tr.PostJSON(context.Background(), "channels/nonexistent/webhook", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", payload["error"].(map[string]any)["code"])
}

func TestGetJSONRejectsNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	tr, err := NewHTTPTransport(server.URL)
	require.NoError(t, err)

	_, err = tr.GetJSON(context.Background(), "/readyz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	tr, err := NewHTTPTransport(server.URL)
	require.NoError(t, err)
	assert.NoError(t, tr.Probe(context.Background()))

	server.Close()
	err = tr.Probe(context.Background())
	assert.True(t, errors.Is(err, ErrUnreachable))
}
