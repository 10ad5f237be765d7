// Package web is the thin request layer over the task core. It decodes
// requests, pulls the pre-verified owner from the X-User-ID header, and maps
// core error codes to HTTP statuses. No business rules live here.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/jvilhena/taskember/internal/apperr"
	"github.com/jvilhena/taskember/internal/db"
	"github.com/jvilhena/taskember/internal/engine"
	"github.com/jvilhena/taskember/internal/ledger"
	"github.com/jvilhena/taskember/internal/model"
	"github.com/jvilhena/taskember/internal/notify"
)

type Server struct {
	engine *engine.Engine
	ledger *ledger.Ledger
	broker *notify.Broker
	logger *log.Logger
}

func NewServer(eng *engine.Engine, led *ledger.Ledger, broker *notify.Broker, logger *log.Logger) *Server {
	return &Server{engine: eng, ledger: led, broker: broker, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("POST /api/tasks", s.createTask)
	mux.HandleFunc("PUT /api/tasks/order", s.reorderTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /api/worklogs/{taskId}", s.recordWork)
	mux.HandleFunc("GET /api/worklogs/{taskId}", s.listWorkLogs)
	mux.HandleFunc("GET /api/events", s.streamEvents)
	return mux
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	tasks, err := s.engine.ListTasks(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var input engine.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, apperr.Newf(apperr.InvalidArgument, "invalid request body: %v", err))
		return
	}

	task, err := s.engine.CreateTask(r.Context(), owner, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	task, err := s.engine.GetTask(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var patch engine.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, apperr.Newf(apperr.InvalidArgument, "invalid request body: %v", err))
		return
	}

	task, err := s.engine.ApplyUpdate(r.Context(), r.PathValue("id"), owner, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.engine.DeleteTask(r.Context(), r.PathValue("id"), owner); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"msg": "task removed"})
}

func (s *Server) reorderTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var body struct {
		OrderedTasks []db.TaskOrder `json:"orderedTasks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, apperr.Newf(apperr.InvalidArgument, "invalid request body: %v", err))
		return
	}

	modified, err := s.engine.ReorderTasks(r.Context(), owner, body.OrderedTasks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"msg": "task order updated", "modifiedCount": modified})
}

func (s *Server) recordWork(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var input ledger.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, apperr.Newf(apperr.InvalidArgument, "invalid request body: %v", err))
		return
	}

	workLog, err := s.ledger.RecordWork(r.Context(), r.PathValue("taskId"), owner, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workLog)
}

func (s *Server) listWorkLogs(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	logs, err := s.ledger.ListWorkLogs(r.Context(), r.PathValue("taskId"), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []model.WorkLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// streamEvents pushes core events to the client as server-sent events.
// It holds the connection open until the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			payload, err := json.Marshal(event.Payload)
			if err != nil {
				s.logger.Printf("encode event %s: %v", event.Name, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload)
			flusher.Flush()
		}
	}
}

// requireOwner pulls the already-authenticated identity from the request.
// Authentication itself happens upstream; an absent header is a bad request,
// not an authorization failure.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.Header.Get("X-User-ID")
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "missing X-User-ID header"})
		return "", false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperr.NotFound:
			status = http.StatusNotFound
		case apperr.Forbidden:
			status = http.StatusForbidden
		case apperr.InvalidArgument, apperr.InvalidTransition:
			status = http.StatusBadRequest
		case apperr.StoreUnavailable:
			status = http.StatusServiceUnavailable
		}
		if status >= 500 {
			s.logger.Printf("request failed: %v", err)
		}
		writeJSON(w, status, map[string]string{"msg": appErr.Message, "code": appErr.Code})
		return
	}

	s.logger.Printf("request failed: %v", err)
	writeJSON(w, status, map[string]string{"msg": "internal error"})
}
