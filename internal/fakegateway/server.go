// Package fakegateway is a reference Reclaw gateway: the HTTP surface and the
// WebSocket command protocol the conformance suite checks, backed by an
// in-memory run registry and a simulated run executor.
package fakegateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aint-no-code/reclaw-conformance/internal/config"
	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
)

// Faults make the gateway misbehave in specific ways.
type Faults struct {
	// ReportProtocol, when non-zero, is announced instead of the real protocol version.
	ReportProtocol int
	// AcceptAnyFirstFrame serves commands without a prior connect.
	AcceptAnyFirstFrame bool
	// CompletedAfterAbort makes agent.wait report aborted runs as completed.
	CompletedAfterAbort bool
}

// Options configures the reference gateway.
type Options struct {
	RunStartDelay  time.Duration
	RunDuration    time.Duration
	Token          string
	WriteTimeout   time.Duration
	MaxMessageSize int64
	MaxWait        time.Duration

	Faults  Faults
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// OptionsFromConfig maps the environment configuration onto Options.
func OptionsFromConfig(cfg *config.GatewayConfig) Options {
	return Options{
		RunStartDelay:  cfg.RunStartDelay,
		RunDuration:    cfg.RunDuration,
		Token:          cfg.Token,
		WriteTimeout:   cfg.WriteTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}
}

// Server is the reference gateway.
type Server struct {
	echo     *echo.Echo
	hub      *Hub
	opts     Options
	log      zerolog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	channels map[string]protocol.ChannelStatus
}

// New creates the gateway and registers its routes.
func New(opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 65536
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		hub:     NewHub(opts.Metrics),
		opts:    opts,
		log:     opts.Logger.With().Str("component", "fake-gateway").Logger(),
		metrics: opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		channels: map[string]protocol.ChannelStatus{
			"telegram": {Configured: true, Connected: true},
			"discord":  {Configured: false, Connected: false},
			"slack":    {Configured: false, Connected: false},
		},
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/info", s.handleInfo)
	e.POST("/channels/:channel/webhook", s.handleWebhook)
	e.POST("/tools/invoke", s.handleToolInvoke)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{})))
	e.GET("/ws", s.HandleWebSocket)

	return s
}

// Handler returns the gateway as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Hub returns the connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server and drops every WebSocket connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.hub.CloseAll()
	return err
}

// Close drops every WebSocket connection without touching the listener.
func (s *Server) Close() {
	s.hub.CloseAll()
}

func (s *Server) protocolVersion() int {
	if s.opts.Faults.ReportProtocol != 0 {
		return s.opts.Faults.ReportProtocol
	}
	return protocol.ProtocolVersion
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleReady(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ok":          true,
		"connections": s.hub.ConnectionCount(),
	})
}

func (s *Server) handleInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"protocolVersion": s.protocolVersion(),
		"server": protocol.ServerInfo{
			Name:    "fake-gateway",
			Version: observability.Version,
		},
		"methods": []string{
			protocol.MethodConnect,
			protocol.MethodAgent,
			protocol.MethodAgentWait,
			protocol.MethodChatSend,
			protocol.MethodChatAbort,
			protocol.MethodChannelsStatus,
			protocol.MethodChannelsLogout,
		},
	})
}

func (s *Server) handleWebhook(c echo.Context) error {
	channel := c.Param("channel")
	if _, ok := s.channels[channel]; !ok {
		return errorJSON(c, http.StatusNotFound, protocol.ErrorCodeNotFound, "unknown channel: "+channel)
	}

	var body map[string]any
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "invalid request body")
	}
	return c.JSON(http.StatusAccepted, map[string]any{"ok": true, "channel": channel})
}

// ToolInvokeRequest is the body of POST /tools/invoke.
type ToolInvokeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func (s *Server) handleToolInvoke(c echo.Context) error {
	var req ToolInvokeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "invalid request body")
	}
	if req.Tool == "" {
		return errorJSON(c, http.StatusBadRequest, protocol.ErrorCodeInvalidRequest, "tool is required")
	}
	if req.Tool != "echo" {
		return errorJSON(c, http.StatusNotFound, protocol.ErrorCodeNotFound, "unknown tool: "+req.Tool)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "result": req.Args})
}

func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]any{
		"ok":    false,
		"error": protocol.Error{Code: code, Message: message},
	})
}
