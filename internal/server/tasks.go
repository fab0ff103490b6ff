package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/spetersoncode/liteagent/agui"
	"github.com/spetersoncode/liteagent/store"
)

// Paging defaults of GET /api/v1/tasks.
const (
	DefaultTaskLimit = 100
	MaxTaskLimit     = 1000
)

type createTaskRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type updateTaskRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	task, err := s.svc.Store().CreateTask(r.Context(), store.NewTask{
		ID:    strings.TrimSpace(req.ID),
		Title: strings.TrimSpace(req.Title),
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.logger.Info("task created", "task_id", task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", DefaultTaskLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, MaxTaskLimit)

	tasks, err := s.svc.Store().ListTasks(r.Context(), skip, limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.Store().GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	task, err := s.svc.Store().UpdateTaskTitle(r.Context(), r.PathValue("id"), title)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteTask(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.logger.Info("task deleted", "task_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, ok := s.conversations(w, r)
	if !ok {
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// handleMessages returns the conversation as an AG-UI MESSAGES_SNAPSHOT.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	convs, ok := s.conversations(w, r)
	if !ok {
		return
	}
	data, err := agui.Snapshot(convs).ToJSON()
	if err != nil {
		s.logger.Error("failed to serialize snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) conversations(w http.ResponseWriter, r *http.Request) ([]store.Conversation, bool) {
	id := r.PathValue("id")
	if _, err := s.svc.Store().GetTask(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return nil, false
	}
	convs, err := s.svc.Store().ListConversations(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return nil, false
	}
	return convs, true
}

// handleEvents replays a task's records in sequence order, as a JSON array
// or, for Accept: text/event-stream, as one SSE frame per record.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.Store().GetTask(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	records, err := s.svc.Store().ListEvents(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		if records == nil {
			records = []store.EventRecord{}
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	sse, err := startSSE(w, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Close()
	for _, rec := range records {
		if err := sse.Send(rec.Payload); err != nil {
			s.logger.Debug("event replay interrupted", "task_id", id, "sequence", rec.Sequence, "error", err)
			return
		}
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

