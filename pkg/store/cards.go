package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

// SaveAgentCard upserts the durable record of a registered agent's
// capability card. One row per agent type; registration replaces the
// prior version.
func (s *Store) SaveAgentCard(ctx context.Context, card *a2a.AgentCard) error {
	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card %s: %w", card.AgentType, err)
	}
	now := time.Now().UTC()

	query := `INSERT INTO agent_cards (agent_type, version, status, card, last_heartbeat, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_type) DO UPDATE SET
			version = excluded.version,
			status = excluded.status,
			card = excluded.card,
			last_heartbeat = excluded.last_heartbeat,
			updated = excluded.updated`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		card.AgentType, card.Version, string(card.Status), string(payload),
		card.LastHeartbeat, now)
	if err != nil {
		return fmt.Errorf("save agent card %s: %w", card.AgentType, err)
	}
	return nil
}

// ListAgentCards returns the stored cards ordered by agent type.
func (s *Store) ListAgentCards(ctx context.Context) ([]*a2a.AgentCard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT card FROM agent_cards ORDER BY agent_type`)
	if err != nil {
		return nil, fmt.Errorf("list agent cards: %w", err)
	}
	defer rows.Close()

	var cards []*a2a.AgentCard
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan agent card: %w", err)
		}
		card := &a2a.AgentCard{}
		if err := json.Unmarshal([]byte(raw), card); err != nil {
			return nil, fmt.Errorf("decode agent card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}
