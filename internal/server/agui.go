package server

import (
	"fmt"
	"net/http"
	"time"

	aguievents "github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/liteagent/agui"
	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/turn"
)

// handleAGUI runs a persisted turn from a RunAgentInput and streams it as
// AG-UI SDK events. The thread id names the task.
func (s *Server) handleAGUI(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var input agui.RunAgentInput
	if err := decodeBody(w, r, &input); err != nil {
		s.logger.Warn("invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	log := s.logger.With("run_id", input.RunID, "thread_id", input.ThreadID)

	prepared, err := input.Prepare()
	if err != nil {
		log.Warn("invalid input", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info("request started", "message_count", len(input.Messages))

	sse, err := startSSE(w, s.heartbeat)
	if err != nil {
		log.Error("streaming not supported")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Close()

	mapper := agui.NewMapper(prepared.ThreadID, prepared.RunID)

	var sent int
	res, err := s.svc.Respond(r.Context(), turn.Request{
		Message:   prepared.Prompt,
		TaskID:    input.ThreadID,
		SessionID: prepared.SessionID,
		NewTaskID: mapper.ThreadID(),
	}, func(ev event.Event) error {
		if ev.Type == event.Custom && ev.Name == event.NameSessionInfo {
			if id, ok := ev.Data["task_id"].(string); ok {
				mapper.SetThreadID(id)
			}
		}
		if usage := mapper.Usage(ev); usage != nil {
			if err := writeAGUI(sse, usage); err != nil {
				return err
			}
			sent++
		}
		out := mapper.MapEvent(ev)
		if out == nil {
			return nil
		}
		sent++
		return writeAGUI(sse, out)
	})
	s.logDone(log, start, sent, err, "task_id", res.TaskID, "session_id", res.SessionID, "switched", res.Switched)
}

// writeAGUI writes an AG-UI event in SSE format.
func writeAGUI(sse *sseWriter, ev aguievents.Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return sse.SendNamed(string(ev.Type()), data)
}
