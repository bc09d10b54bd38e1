package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/framewire/internal/dispatch"
	"github.com/mattjoyce/framewire/internal/events"
	"github.com/mattjoyce/framewire/internal/journal"
)

// SessionEvent is the data of session.started and session.finished events.
type SessionEvent struct {
	SessionID  string `json:"session_id,omitempty"`
	Protocol   string `json:"protocol"`
	RemoteAddr string `json:"remote_addr"`
	Outcome    string `json:"outcome,omitempty"`
	Error      string `json:"error,omitempty"`
	Requests   int64  `json:"requests"`
	Responses  int64  `json:"responses"`
	DurationMS int64  `json:"duration_ms"`
}

// tally counts one session's traffic for the journal. Admitted and Written
// run on the dispatcher goroutine and are read after Run returns.
type tally struct {
	requests  int64
	responses int64
}

func (t *tally) Admitted()      { t.requests++ }
func (t *tally) Written()       { t.responses++ }
func (t *tally) Finished(error) {}

// runSession journals, observes and logs one connection around run. The
// caller must have added the session to s.sessions.
func (s *Server) runSession(ctx context.Context, protocol, remoteAddr string, run func(opts ...dispatch.Option) error) error {
	defer s.sessions.Done()
	s.active.Add(1)
	defer s.active.Add(-1)

	logger := s.logger.With(
		slog.String("protocol", protocol),
		slog.String("remote_addr", remoteAddr),
	)

	var id string
	if s.recorder != nil {
		var err error
		id, err = s.recorder.Start(ctx, protocol, remoteAddr)
		if err != nil {
			logger.Warn("failed to journal session start", "error", err)
		} else {
			logger = logger.With(slog.String("session_id", id))
		}
	}
	logger.Debug("session started")
	ev := SessionEvent{SessionID: id, Protocol: protocol, RemoteAddr: remoteAddr}
	s.events.Publish(events.SessionStarted, ev)
	started := time.Now()

	t := &tally{}
	err := run(
		dispatch.WithLogger(logger),
		dispatch.WithObserver(dispatch.Observers(s.metrics.Observer(protocol), t)),
	)

	outcome := dispatch.Outcome(err)
	ev.Outcome = outcome
	ev.Requests, ev.Responses = t.requests, t.responses
	ev.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		ev.Error = err.Error()
	}
	s.events.Publish(events.SessionFinished, ev)
	switch outcome {
	case "ok", "cancelled":
		logger.Info("session finished", "outcome", outcome, "requests", t.requests, "responses", t.responses)
	default:
		logger.Warn("session failed", "outcome", outcome, "error", err, "requests", t.requests, "responses", t.responses)
	}

	if id != "" {
		// The session may have ended because ctx was cancelled; the record
		// still has to be closed.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		defer cancel()
		res := journal.Result{
			Outcome:   outcome,
			Error:     err,
			Requests:  t.requests,
			Responses: t.responses,
		}
		if ferr := s.recorder.Finish(fctx, id, res); ferr != nil {
			logger.Warn("failed to journal session finish", "error", ferr)
		}
	}
	return err
}
