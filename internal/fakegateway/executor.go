package fakegateway

import (
	"errors"
	"time"

	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/runs"
)

// execute drives a deferred run through running to completed. An abort that lands
// first wins: the executor stops as soon as the run turns terminal, and the
// registry rejects any transition that still races it.
func (s *Server) execute(conn *Connection, runID, sessionKey, message string) {
	log := s.log.With().Str("conn_id", conn.ID).Str("run_id", runID).Logger()

	terminal, ok := conn.runs.Done(runID)
	if !ok {
		log.Warn().Msg("run vanished before execution")
		return
	}

	if !sleep(conn, terminal, s.opts.RunStartDelay) {
		return
	}
	if _, err := conn.runs.Transition(runID, runs.StatusRunning, nil); err != nil {
		if !errors.Is(err, runs.ErrInvalidTransition) {
			log.Warn().Err(err).Msg("start run")
		}
		return
	}
	s.emitRun(conn, runID, sessionKey, runs.StatusRunning)

	if !sleep(conn, terminal, s.opts.RunDuration) {
		return
	}
	run, err := conn.runs.Transition(runID, runs.StatusCompleted, &runs.Result{Output: replyText(message)})
	if err != nil {
		if !errors.Is(err, runs.ErrInvalidTransition) {
			log.Warn().Err(err).Msg("complete run")
		}
		return
	}
	s.countRun(run.Status)
	s.emitRun(conn, runID, sessionKey, runs.StatusCompleted)
	log.Debug().Msg("run completed")
}

// sleep waits d unless the run turns terminal or the connection goes away first.
func sleep(conn *Connection, terminal <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-terminal:
			return false
		default:
			return conn.ctx.Err() == nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-terminal:
		return false
	case <-conn.ctx.Done():
		return false
	}
}

func (s *Server) emitRun(conn *Connection, runID, sessionKey string, status runs.Status) {
	data, err := protocol.EncodeEvent(protocol.EventRun, protocol.RunEvent{
		RunID:      runID,
		SessionKey: sessionKey,
		Status:     string(status),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("encode run event")
		return
	}
	if err := conn.Enqueue(data); err == nil {
		s.countFrame("out", "event:"+protocol.EventRun)
	}
}

func (s *Server) countRun(status runs.Status) {
	s.metrics.RunsTotal.WithLabelValues(string(status)).Inc()
}
