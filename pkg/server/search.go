package server

import (
	"net/http"
	"strconv"

	"github.com/halcasteel/bookmark-pipeline/pkg/vector"
)

const defaultSearchLimit = 10

// handleSearch embeds the query text and returns the owner's nearest
// bookmarks from the vector index.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.embed == nil || s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "semantic search is not configured")
		return
	}

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	userID := q.Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit := defaultSearchLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit: %s", raw)
			return
		}
		limit = parsed
	}

	vectors, err := s.embed.Embed(r.Context(), []string{query})
	if err != nil {
		writeError(w, http.StatusBadGateway, "embed query: %v", err)
		return
	}

	results, err := s.index.Search(r.Context(), userID, vectors[0], limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search: %v", err)
		return
	}
	if results == nil {
		results = []vector.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"total":   len(results),
	})
}
