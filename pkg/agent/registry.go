package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// Registry holds the registered agents and their capability cards.
// Dispatch resolves agents through Lookup, which refuses inactive and
// deprecated agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	cards  map[string]*a2a.AgentCard
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		cards:  make(map[string]*a2a.AgentCard),
	}
}

// Register adds an agent, replacing any previous registration for the
// same type. The card is marked active with a fresh heartbeat.
func (r *Registry) Register(ag Agent) {
	card := ag.Card()
	card.Status = a2a.AgentActive
	card.LastHeartbeat = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[ag.AgentType()] = ag
	r.cards[ag.AgentType()] = card
}

// Lookup resolves an agent for dispatch. Unknown or non-active agents
// are an error.
func (r *Registry) Lookup(agentType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[agentType]
	if !ok {
		return nil, fmt.Errorf("unknown agent type: %s", agentType)
	}
	if card := r.cards[agentType]; card != nil && card.Status != a2a.AgentActive {
		return nil, fmt.Errorf("agent %s is %s", agentType, card.Status)
	}
	return ag, nil
}

// Card returns the capability card for agentType.
func (r *Registry) Card(agentType string) (*a2a.AgentCard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[agentType]
	return card, ok
}

// Cards returns all cards ordered by agent type.
func (r *Registry) Cards() []*a2a.AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.cards))
	for t := range r.cards {
		types = append(types, t)
	}
	sort.Strings(types)
	cards := make([]*a2a.AgentCard, 0, len(types))
	for _, t := range types {
		cards = append(cards, r.cards[t])
	}
	return cards
}

// SetStatus changes an agent's registry status. Tasks already running
// on the agent are unaffected; only new dispatch is blocked.
func (r *Registry) SetStatus(agentType string, status a2a.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[agentType]
	if !ok {
		return fmt.Errorf("unknown agent type: %s", agentType)
	}
	card.Status = status
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (r *Registry) Heartbeat(agentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[agentType]
	if !ok {
		return fmt.Errorf("unknown agent type: %s", agentType)
	}
	card.LastHeartbeat = time.Now().UTC()
	return nil
}

// Healthy reports whether the agent is active and heartbeated within
// the staleness window.
func (r *Registry) Healthy(agentType string, staleAfter time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.cards[agentType]
	if !ok || card.Status != a2a.AgentActive {
		return false
	}
	return time.Since(card.LastHeartbeat) <= staleAfter
}
