package testhelpers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aint-no-code/reclaw-conformance/internal/fakegateway"
)

// Gateway is a reference gateway served over httptest.
type Gateway struct {
	Server *fakegateway.Server
	HTTP   *httptest.Server
}

// URL returns the gateway base URL.
func (g *Gateway) URL() string { return g.HTTP.URL }

// WSURL returns the WebSocket endpoint.
func (g *Gateway) WSURL() string {
	return "ws" + strings.TrimPrefix(g.HTTP.URL, "http") + "/ws"
}

// FastOptions keeps deferred runs short but long enough to abort.
func FastOptions() fakegateway.Options {
	return fakegateway.Options{
		RunStartDelay: 10 * time.Millisecond,
		RunDuration:   300 * time.Millisecond,
	}
}

// NewTestGateway starts a reference gateway and stops it at cleanup.
func NewTestGateway(t *testing.T, opts fakegateway.Options) *Gateway {
	t.Helper()

	srv := fakegateway.New(opts)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	return &Gateway{Server: srv, HTTP: ts}
}
