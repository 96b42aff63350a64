package replaystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FirstSightingThenReplay(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	replayed, err := s.CheckAndStore(ctx, "github", "evt-1", 300)
	require.NoError(t, err)
	require.False(t, replayed)

	replayed, err = s.CheckAndStore(ctx, "github", "evt-1", 300)
	require.NoError(t, err)
	require.True(t, replayed)
}

func TestMemoryStore_DistinctProvidersDoNotCollide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	replayed, err := s.CheckAndStore(ctx, "github", "evt-1", 300)
	require.NoError(t, err)
	require.False(t, replayed)

	replayed, err = s.CheckAndStore(ctx, "stripe", "evt-1", 300)
	require.NoError(t, err)
	require.False(t, replayed, "same event id under a different provider is not a replay")
}

func TestMemoryStore_ExpiredEntryIsForgotten(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	replayed, err := s.CheckAndStore(ctx, "slack", "evt-1", 1)
	require.NoError(t, err)
	require.False(t, replayed)

	s.nowFunc = func() time.Time { return now.Add(2 * time.Second) }
	replayed, err = s.CheckAndStore(ctx, "slack", "evt-1", 1)
	require.NoError(t, err)
	require.False(t, replayed, "entry past its ttl must be swept, not treated as a replay")
}
