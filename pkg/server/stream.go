package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
)

// handleStream serves the task progress feed as server-sent events: a
// status snapshot first, then live deltas until the task reaches a
// terminal status.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before reading the snapshot so no event published in
	// between is missed.
	sub := s.hub.Subscribe(taskID)
	defer sub.Close()

	task, err := s.store.LoadTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found: %s", taskID)
			return
		}
		writeError(w, http.StatusInternalServerError, "load task: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot := task.Snapshot()
	writeSSE(w, a2a.StreamEvent{
		Type:   a2a.StreamEventStatus,
		TaskID: taskID,
		Status: &snapshot,
	})
	flusher.Flush()
	if task.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
			if event.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event a2a.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}
