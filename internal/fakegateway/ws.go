package fakegateway

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aint-no-code/reclaw-conformance/internal/observability"
	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/runs"
)

const defaultSessionKey = "main"

// HandleWebSocket upgrades the request and serves the command protocol.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads frames until the client goes away or the connection must close.
// Unregistering closes Send, after which the writer flushes and closes the socket.
func (s *Server) readPump(conn *Connection) {
	defer s.hub.Unregister(conn)

	log := s.log.With().Str("conn_id", conn.ID).Logger()
	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		if !s.handleMessage(conn, message) {
			log.Debug().Msg("closing connection after rejected frame")
			return
		}
	}
}

// writePump writes queued frames to the socket.
func (s *Server) writePump(conn *Connection) {
	defer conn.Close()

	for message := range conn.Send {
		if err := conn.WriteMessage(websocket.TextMessage, message, s.opts.WriteTimeout); err != nil {
			s.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket write failed")
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Second)
}

// handleMessage dispatches one frame. It returns false when the connection must close.
func (s *Server) handleMessage(conn *Connection, data []byte) bool {
	frame, err := protocol.DecodeFrame(data)
	if err != nil || frame.Request == nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidRequest, "expected a request frame")
		return conn.handshakeState() == connReady
	}
	req := frame.Request
	s.countFrame("in", req.Method)

	if req.Method == protocol.MethodConnect {
		return s.handleConnect(conn, req)
	}

	if conn.handshakeState() != connReady {
		if !s.opts.Faults.AcceptAnyFirstFrame {
			s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "first frame must be connect")
			return false
		}
		conn.markReady(defaultSessionKey)
	}

	switch req.Method {
	case protocol.MethodAgent:
		s.handleAgent(conn, req)
	case protocol.MethodChatSend:
		s.handleChatSend(conn, req)
	case protocol.MethodAgentWait:
		s.handleWait(conn, req)
	case protocol.MethodChatAbort:
		s.handleAbort(conn, req)
	case protocol.MethodChannelsStatus:
		s.reply(conn, req.ID, protocol.ChannelsStatusResult{Channels: s.channels})
	case protocol.MethodChannelsLogout:
		s.handleLogout(conn, req)
	default:
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "unknown method: "+req.Method)
	}
	return true
}

func (s *Server) handleConnect(conn *Connection, req *protocol.Request) bool {
	if conn.handshakeState() == connReady {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "connect already completed")
		return true
	}

	var params protocol.ConnectParams
	if err := req.DecodeParams(&params); err != nil {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid connect params")
		return false
	}
	if s.opts.Token != "" && (params.Auth == nil || params.Auth.Token != s.opts.Token) {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid auth token")
		return false
	}
	if params.MinProtocol > protocol.ProtocolVersion || params.MaxProtocol < protocol.ProtocolVersion {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "protocol mismatch")
		return false
	}

	conn.markReady(defaultSessionKey)
	s.reply(conn, req.ID, protocol.HelloResult{
		Protocol:   s.protocolVersion(),
		Server:     protocol.ServerInfo{Name: "fake-gateway", Version: observability.Version},
		SessionKey: defaultSessionKey,
	})
	s.log.Debug().Str("conn_id", conn.ID).Str("client", params.Client.ID).Msg("connect completed")
	return true
}

func (s *Server) handleAgent(conn *Connection, req *protocol.Request) {
	var params protocol.AgentParams
	if err := req.DecodeParams(&params); err != nil {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid agent params")
		return
	}
	if strings.TrimSpace(params.Message) == "" {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "message is required")
		return
	}
	sessionKey := params.SessionKey
	if sessionKey == "" {
		sessionKey = conn.session()
	}
	s.startRun(conn, req.ID, sessionKey, params.Message, params.Deferred, params.IdempotencyKey)
}

func (s *Server) handleChatSend(conn *Connection, req *protocol.Request) {
	var params protocol.ChatSendParams
	if err := req.DecodeParams(&params); err != nil {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid chat.send params")
		return
	}
	if params.SessionKey == "" {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "sessionKey is required")
		return
	}
	if strings.TrimSpace(params.Message) == "" {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "message is required")
		return
	}
	s.startRun(conn, req.ID, params.SessionKey, params.Message, params.Deferred, params.IdempotencyKey)
}

// startRun creates a run. Deferred runs are answered as queued and driven by the
// executor; others complete before the response is sent.
func (s *Server) startRun(conn *Connection, reqID, sessionKey, message string, deferred bool, idemKey string) {
	if runID, ok := conn.idempotent(idemKey); ok {
		run, err := conn.runs.Get(runID)
		if err == nil {
			s.reply(conn, reqID, acceptedFor(run))
			return
		}
	}

	runID := "run_" + uuid.New().String()
	if deferred {
		run, err := conn.runs.Create(runID, sessionKey, runs.StatusQueued)
		if err != nil {
			s.sendError(conn, reqID, protocol.ErrorCodeInternal, err.Error())
			return
		}
		conn.remember(idemKey, runID)
		s.reply(conn, reqID, acceptedFor(run))
		go s.execute(conn, runID, sessionKey, message)
		return
	}

	if _, err := conn.runs.Create(runID, sessionKey, runs.StatusRunning); err != nil {
		s.sendError(conn, reqID, protocol.ErrorCodeInternal, err.Error())
		return
	}
	run, err := conn.runs.Transition(runID, runs.StatusCompleted, &runs.Result{Output: replyText(message)})
	if err != nil {
		s.sendError(conn, reqID, protocol.ErrorCodeInternal, err.Error())
		return
	}
	conn.remember(idemKey, runID)
	s.countRun(run.Status)
	s.reply(conn, reqID, acceptedFor(run))
}

func (s *Server) handleWait(conn *Connection, req *protocol.Request) {
	var params protocol.WaitParams
	if err := req.DecodeParams(&params); err != nil {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid agent.wait params")
		return
	}
	if params.RunID == "" {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "runId is required")
		return
	}

	timeout := s.opts.MaxWait
	if params.TimeoutMs != nil {
		timeout = min(time.Duration(max(*params.TimeoutMs, 0))*time.Millisecond, s.opts.MaxWait)
	}

	// Waits must not block the read loop: aborts for the same run arrive on it.
	go func() {
		outcome, err := conn.runs.Wait(conn.ctx, params.RunID, timeout)
		if err != nil {
			return
		}
		s.reply(conn, req.ID, s.waitResult(outcome))
	}()
}

func (s *Server) waitResult(outcome runs.WaitOutcome) protocol.WaitResult {
	result := protocol.WaitResult{RunID: outcome.RunID, Status: outcome.Status}
	switch outcome.Status {
	case string(runs.StatusCompleted):
		res := &protocol.RunResult{SessionKey: outcome.SessionKey}
		if outcome.Result != nil {
			output := outcome.Result.Output
			res.Output = &output
			res.SessionKey = outcome.Result.SessionKey
		}
		result.Result = res
	case string(runs.StatusAborted):
		if s.opts.Faults.CompletedAfterAbort {
			output := "late output"
			result.Status = string(runs.StatusCompleted)
			result.Result = &protocol.RunResult{Output: &output, SessionKey: outcome.SessionKey}
			break
		}
		result.Result = &protocol.RunResult{SessionKey: outcome.SessionKey}
	}
	return result
}

func (s *Server) handleAbort(conn *Connection, req *protocol.Request) {
	var params protocol.AbortParams
	if err := req.DecodeParams(&params); err != nil {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid chat.abort params")
		return
	}

	outcome, err := conn.runs.Abort(params.SessionKey, params.RunID)
	switch {
	case errors.Is(err, runs.ErrSessionRequired), errors.Is(err, runs.ErrRunNotInSession):
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, err.Error())
		return
	case err != nil:
		s.sendError(conn, req.ID, protocol.ErrorCodeInternal, err.Error())
		return
	}

	if outcome.Aborted {
		for _, id := range outcome.RunIDs {
			s.countRun(runs.StatusAborted)
			s.emitRun(conn, id, params.SessionKey, runs.StatusAborted)
		}
	}
	ids := outcome.RunIDs
	if ids == nil {
		ids = []string{}
	}
	s.reply(conn, req.ID, protocol.AbortResult{Aborted: outcome.Aborted, RunIDs: ids})
}

func (s *Server) handleLogout(conn *Connection, req *protocol.Request) {
	var params protocol.ChannelsLogoutParams
	if err := req.DecodeParams(&params); err != nil {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "invalid channels.logout params")
		return
	}
	if _, ok := s.channels[params.Channel]; !ok {
		s.sendError(conn, req.ID, protocol.ErrorCodeInvalidRequest, "unknown channel: "+params.Channel)
		return
	}
	s.reply(conn, req.ID, protocol.ChannelsLogoutResult{Channel: params.Channel, LoggedOut: true})
}

func (s *Server) reply(conn *Connection, id string, result any) {
	resp, err := protocol.OKResponse(id, result)
	if err != nil {
		s.sendError(conn, id, protocol.ErrorCodeInternal, err.Error())
		return
	}
	s.send(conn, resp)
}

func (s *Server) sendError(conn *Connection, id, code, message string) {
	s.send(conn, protocol.ErrorResponse(id, code, message))
}

func (s *Server) send(conn *Connection, resp *protocol.Response) {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("encode response")
		return
	}
	if err := conn.Enqueue(data); err != nil {
		s.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("drop response")
		return
	}
	s.countFrame("out", "res")
}

func (s *Server) countFrame(direction, method string) {
	s.metrics.FramesTotal.WithLabelValues(direction, method).Inc()
}

func acceptedFor(run runs.Run) protocol.RunAccepted {
	accepted := protocol.RunAccepted{
		RunID:      run.RunID,
		Status:     string(run.Status),
		SessionKey: run.SessionKey,
	}
	if run.Status == runs.StatusCompleted && run.Result != nil {
		output := run.Result.Output
		accepted.Result = &protocol.RunResult{Output: &output, SessionKey: run.Result.SessionKey}
	}
	return accepted
}

func replyText(message string) string {
	return "echo: " + message
}
