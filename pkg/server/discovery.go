package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// withEndpoints fills the card's endpoint URLs from the server base URL.
func (s *Server) withEndpoints(card *a2a.AgentCard) *a2a.AgentCard {
	c := *card
	c.Endpoints = a2a.AgentEndpoints{
		Capabilities: s.cfg.BaseURL + "/api/agents/" + c.AgentType + "/capabilities",
		Health:       s.cfg.BaseURL + "/api/agents/" + c.AgentType + "/health",
	}
	return &c
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	cards := s.agents.Cards()
	out := make([]*a2a.AgentCard, 0, len(cards))
	for _, card := range cards {
		out = append(out, s.withEndpoints(card))
	}
	writeJSON(w, http.StatusOK, a2a.Directory{
		Name:      "bookmark-pipeline",
		Version:   ServiceVersion,
		Protocols: []string{"a2a", "http"},
		Agents:    out,
		Total:     len(out),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	cards := s.agents.Cards()
	out := make([]*a2a.AgentCard, 0, len(cards))
	for _, card := range cards {
		out = append(out, s.withEndpoints(card))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out, "total": len(out)})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	agentType := chi.URLParam(r, "type")
	card, ok := s.agents.Card(agentType)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent type: %s", agentType)
		return
	}
	writeJSON(w, http.StatusOK, s.withEndpoints(card))
}

func (s *Server) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	agentType := chi.URLParam(r, "type")
	card, ok := s.agents.Card(agentType)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent type: %s", agentType)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agentType":     agentType,
		"status":        card.Status,
		"healthy":       s.agents.Healthy(agentType, heartbeatStaleAfter),
		"lastHeartbeat": card.LastHeartbeat,
	})
}
