package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
)

type submitRequest struct {
	WorkflowType string         `json:"workflowType"`
	UserID       string         `json:"userId"`
	Context      map[string]any `json:"context"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.WorkflowType == "" {
		writeError(w, http.StatusBadRequest, "workflowType is required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	task, err := s.manager.Submit(r.Context(), req.WorkflowType, req.Context, req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, task.Snapshot())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		UserID:       q.Get("userId"),
		Status:       a2a.TaskStatus(q.Get("status")),
		WorkflowType: q.Get("workflowType"),
	}
	if raw := q.Get("createdAfter"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid createdAfter: %v", err)
			return
		}
		filter.CreatedAfter = ts
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit: %s", raw)
			return
		}
		filter.Limit = limit
	}

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list tasks: %v", err)
		return
	}
	snapshots := make([]a2a.Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, t.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": snapshots, "total": len(snapshots)})
}

// taskDetail augments the snapshot with what a status poller wants in
// one round trip.
type taskDetail struct {
	a2a.Snapshot
	Context       map[string]any `json:"context"`
	ArtifactCount int            `json:"artifactCount"`
	LastMessage   *a2a.Message   `json:"lastMessage,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	task, err := s.store.LoadTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found: %s", taskID)
			return
		}
		writeError(w, http.StatusInternalServerError, "load task: %v", err)
		return
	}

	detail := taskDetail{Snapshot: task.Snapshot(), Context: task.Context}
	if count, err := s.store.CountArtifacts(r.Context(), taskID); err == nil {
		detail.ArtifactCount = count
	}
	if messages, err := s.store.ListMessages(r.Context(), taskID, 0); err == nil && len(messages) > 0 {
		detail.LastMessage = messages[len(messages)-1]
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if err := s.manager.Cancel(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "%v", err)
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "%v", err)
		default:
			writeError(w, http.StatusInternalServerError, "cancel: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"taskId": taskID, "status": "cancelling"})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	task, err := s.manager.Replay(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "%v", err)
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "%v", err)
		default:
			writeError(w, http.StatusInternalServerError, "replay: %v", err)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, task.Snapshot())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after: %s", raw)
			return
		}
		after = parsed
	}

	if _, err := s.store.LoadTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found: %s", taskID)
			return
		}
		writeError(w, http.StatusInternalServerError, "load task: %v", err)
		return
	}

	messages, err := s.store.ListMessages(r.Context(), taskID, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list messages: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "total": len(messages)})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if _, err := s.store.LoadTask(r.Context(), taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found: %s", taskID)
			return
		}
		writeError(w, http.StatusInternalServerError, "load task: %v", err)
		return
	}

	artifacts, err := s.store.ListArtifacts(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list artifacts: %v", err)
		return
	}

	q := r.URL.Query()
	if agentType, artifactType := q.Get("agentType"), q.Get("type"); agentType != "" || artifactType != "" {
		filtered := artifacts[:0]
		for _, art := range artifacts {
			if agentType != "" && art.AgentType != agentType {
				continue
			}
			if artifactType != "" && art.Type != artifactType {
				continue
			}
			filtered = append(filtered, art)
		}
		artifacts = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts, "total": len(artifacts)})
}
