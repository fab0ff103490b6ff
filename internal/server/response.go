package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spetersoncode/liteagent"
	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/turn"
)

// responseRequest is the body of the response and chat endpoints.
type responseRequest struct {
	Message   string `json:"message"`
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
}

// handleResponse runs a persisted turn and streams it as snake_case frames.
// ?naming=camel switches the key convention.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := s.readTurn(w, r)
	if !ok {
		return
	}
	log := s.logger.With("task_hint", req.TaskID, "session_hint", req.SessionID)

	sse, err := startSSE(w, s.heartbeat)
	if err != nil {
		log.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Close()

	naming := event.ParseNaming(r.URL.Query().Get("naming"))
	var sent int
	res, err := s.svc.Respond(r.Context(), turn.Request{
		Message:   req.Message,
		TaskID:    req.TaskID,
		SessionID: req.SessionID,
	}, func(ev event.Event) error {
		sent++
		return sendEvent(sse, ev, naming)
	})
	s.logDone(log, start, sent, err, "run_id", res.RunID, "task_id", res.TaskID, "session_id", res.SessionID, "switched", res.Switched)
}

// handleChat runs a stateless turn and streams it as camelCase frames.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := s.readTurn(w, r)
	if !ok {
		return
	}
	log := s.logger.With("session_hint", req.SessionID)

	sse, err := startSSE(w, s.heartbeat)
	if err != nil {
		log.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Close()

	var sent int
	err = s.svc.Chat(r.Context(), turn.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
	}, func(ev event.Event) error {
		sent++
		return sendEvent(sse, ev, event.CamelCase)
	})
	s.logDone(log, start, sent, err)
}

// readTurn decodes and validates a turn body, answering 400 itself.
func (s *Server) readTurn(w http.ResponseWriter, r *http.Request) (responseRequest, bool) {
	var req responseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, liteagent.ErrEmptyMessage.Error())
		return req, false
	}
	return req, true
}

func sendEvent(sse *sseWriter, ev event.Event, naming event.Naming) error {
	data, err := event.Marshal(ev, naming)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return sse.Send(data)
}

func (s *Server) logDone(log *slog.Logger, start time.Time, sent int, err error, attrs ...any) {
	attrs = append(attrs, "duration_ms", time.Since(start).Milliseconds(), "events_sent", sent)
	switch {
	case err == nil:
		log.Info("request completed", attrs...)
	case errors.Is(err, liteagent.ErrEmptyMessage):
		log.Warn("request rejected", append(attrs, "error", err)...)
	default:
		log.Error("request failed", append(attrs, "error", err)...)
	}
}
