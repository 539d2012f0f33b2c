// internal/registry/registry_test.go
package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

// ==========================
// Dedup Registry
// ==========================

func TestDedup_MarkProcessedIdempotent(t *testing.T) {
	d := NewDedup()

	assert.False(t, d.Has("lead-1"))

	d.MarkProcessed("lead-1")
	d.MarkProcessed("lead-1")

	assert.True(t, d.Has("lead-1"))
	assert.Equal(t, 1, d.Size(), "double mark must not duplicate counters")
}

func TestDedup_IndependentIDs(t *testing.T) {
	d := NewDedup()
	d.MarkProcessed("lead-1")

	assert.True(t, d.Has("lead-1"))
	assert.False(t, d.Has("lead-2"))
}

// ==========================
// Skip Registry
// ==========================

func TestSkip_MarkAndLookup(t *testing.T) {
	_, client := setupTestRedis(t)
	s := NewSkip(client)
	ctx := context.Background()

	ok, err := s.Has(ctx, "lead-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkSkipped(ctx, "lead-1"))

	ok, err = s.Has(ctx, "lead-1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSkip_SurvivesRestart(t *testing.T) {
	srv, client := setupTestRedis(t)
	ctx := context.Background()

	s := NewSkip(client)
	require.NoError(t, s.MarkSkipped(ctx, "lead-rejected"))
	require.NoError(t, client.Close())

	// Simulated restart: a fresh client against the same store.
	client2 := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client2.Close()

	s2 := NewSkip(client2)
	ok, err := s2.Has(ctx, "lead-rejected")
	require.NoError(t, err)
	assert.True(t, ok, "skip entries must be durable across restarts")
}
