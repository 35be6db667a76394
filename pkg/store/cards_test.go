package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcasteel/bookmark-pipeline/pkg/a2a"
)

func TestSaveAgentCardUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgentCard(ctx, a2a.NewAgentCard("import", "1.0.0", "imports bookmarks")))
	require.NoError(t, s.SaveAgentCard(ctx, a2a.NewAgentCard("validation", "1.0.0", "validates bookmarks")))

	cards, err := s.ListAgentCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "import", cards[0].AgentType)
	assert.Equal(t, "validation", cards[1].AgentType)

	// Re-registering replaces the stored version.
	require.NoError(t, s.SaveAgentCard(ctx, a2a.NewAgentCard("import", "2.0.0", "imports bookmarks")))
	cards, err = s.ListAgentCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "2.0.0", cards[0].Version)
}
