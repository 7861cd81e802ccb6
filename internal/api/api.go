// Package api exposes the task manager over a JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/manager"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/settings"
)

// ServerConfig is the configuration of the API server.
type ServerConfig struct {
	Manager  *manager.Service
	Settings *settings.Service
	Addr     string
	Logger   log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Settings == nil {
		return fmt.Errorf("settings service is required")
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Server"})
	return nil
}

// Server serves the HTTP API.
type Server struct {
	manager    *manager.Service
	settings   *settings.Service
	httpServer *http.Server
	logger     log.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		manager:  cfg.Manager,
		settings: cfg.Settings,
		logger:   cfg.Logger,
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.routes(),
		// WriteTimeout stays unset so SSE streams are not cut off.
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe serves the API until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("HTTP API listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	v1.HandleFunc("/tasks/{id}/start", s.handleStartTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/cancel", s.handleCancelTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/restart", s.handleRestartTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/clone", s.handleCloneTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}/logs", s.handleTaskLogs).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}/results", s.handleTaskResults).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}/events", s.handleTaskEvents).Methods(http.MethodGet)
	v1.HandleFunc("/settings", s.handleListSettings).Methods(http.MethodGet)
	v1.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("invalid request body: %s: %w", err, model.ErrNotValid))
		return
	}

	task, err := s.manager.Create(r.Context(), manager.CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config.toModel(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newTaskResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.manager.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, newTaskResponse(&tasks[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Start(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleRestartTask(w http.ResponseWriter, r *http.Request) {
	resume := r.URL.Query().Get("resume") != "false"
	if err := s.manager.Restart(r.Context(), mux.Vars(r)["id"], resume); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarted"})
}

func (s *Server) handleCloneTask(w http.ResponseWriter, r *http.Request) {
	clone, err := s.manager.Clone(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTaskResponse(clone))
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.manager.Logs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]logResponse, 0, len(logs))
	for _, entry := range logs {
		resp = append(resp, logResponse{
			Level:     string(entry.Level),
			Message:   entry.Message,
			Timestamp: entry.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.manager.Results(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]resultResponse, 0, len(results))
	for _, result := range results {
		resp = append(resp, resultResponse{
			StepIndex:  result.StepIndex,
			Parameters: result.Parameters,
			Values:     result.Values,
			Success:    result.Success,
			Error:      result.Error,
			Timestamp:  result.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTaskEvents streams live task events as server-sent events. The stream
// ends when the task reaches a terminal state or the client goes away.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.manager.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	events, cancel := s.manager.Streams().Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(newEventResponse(event))
			if err != nil {
				s.logger.Errorf("Could not marshal event: %s", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.settings.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]settingResponse, 0, len(stored))
	for _, setting := range stored {
		resp = append(resp, settingResponse{
			Key:         setting.Key,
			Value:       setting.Value,
			Description: setting.Description,
			UpdatedAt:   setting.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req []settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("invalid request body: %s: %w", err, model.ErrNotValid))
		return
	}

	for _, setting := range req {
		err := s.settings.Set(r.Context(), model.Setting{
			Key:         setting.Key,
			Value:       setting.Value,
			Description: setting.Description,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, model.ErrNotValid):
		status = http.StatusBadRequest
	case errors.Is(err, manager.ErrTooManyTasks):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		s.logger.WithCtxValues(r.Context()).Errorf("Request %s %s failed: %s", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
