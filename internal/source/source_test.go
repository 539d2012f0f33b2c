// internal/source/source_test.go
package source

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSource(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisSource) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := NewRedisSource(client, Config{
		SettleTimeout: 300 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, logger.NewTestLogger(t))
	return srv, client, src
}

func writeSnapshot(t *testing.T, srv *miniredis.Miniredis, seq int, leads []models.Lead) {
	t.Helper()
	data, err := json.Marshal(leads)
	require.NoError(t, err)
	srv.Set(snapshotKey, string(data))
	srv.Set(sequenceKey, strconv.Itoa(seq))
}

func someLeads(n int) []models.Lead {
	leads := make([]models.Lead, n)
	for i := range leads {
		leads[i] = models.Lead{ID: "lead-" + strconv.Itoa(i), EnquiryTitle: "cotton fabric"}
	}
	return leads
}

func TestExtractLeads_ReadsSnapshot(t *testing.T) {
	srv, _, src := setupSource(t)
	writeSnapshot(t, srv, 1, someLeads(3))

	leads, err := src.ExtractLeads(context.Background())
	require.NoError(t, err)
	require.Len(t, leads, 3)
	assert.Equal(t, "lead-0", leads[0].ID)
}

func TestExtractLeads_MissingSnapshotIsEmptyNotError(t *testing.T) {
	_, _, src := setupSource(t)

	leads, err := src.ExtractLeads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestRefresh_PublishesCommand(t *testing.T) {
	_, client, src := setupSource(t)

	sub := client.Subscribe(context.Background(), commandChannel)
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, src.Refresh(context.Background()))

	select {
	case msg := <-sub.Channel():
		var cmd map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
		assert.Equal(t, "refresh", cmd["type"])
	case <-time.After(time.Second):
		t.Fatal("refresh command never published")
	}
}

func TestEnsureLoaded_WaitsForFreshSnapshot(t *testing.T) {
	srv, _, src := setupSource(t)
	writeSnapshot(t, srv, 1, someLeads(2))
	require.NoError(t, src.Refresh(context.Background()))

	// The agent answers after a delay with a full batch.
	go func() {
		time.Sleep(50 * time.Millisecond)
		data, _ := json.Marshal(someLeads(10))
		srv.Set(snapshotKey, string(data))
		srv.Set(sequenceKey, "2")
	}()

	start := time.Now()
	require.NoError(t, src.EnsureLoaded(context.Background(), 5))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"must not accept the pre-refresh snapshot")
}

func TestEnsureLoaded_AcceptsShortButFreshBatchAfterTimeout(t *testing.T) {
	srv, _, src := setupSource(t)
	writeSnapshot(t, srv, 1, someLeads(2))
	require.NoError(t, src.Refresh(context.Background()))

	// Fresh snapshot, but the page really only has two leads.
	writeSnapshot(t, srv, 2, someLeads(2))

	require.NoError(t, src.EnsureLoaded(context.Background(), 10))
}

func TestEnsureLoaded_NoSnapshotAtAllFails(t *testing.T) {
	srv, _, src := setupSource(t)
	writeSnapshot(t, srv, 3, someLeads(2))
	require.NoError(t, src.Refresh(context.Background()))

	// Sequence never advances past the pre-refresh value.
	err := src.EnsureLoaded(context.Background(), 5)
	require.Error(t, err)
}

func TestExtractLeads_AgentExhaustionStatusIsSessionTerminal(t *testing.T) {
	srv, _, src := setupSource(t)
	writeSnapshot(t, srv, 1, someLeads(3))
	srv.Set(statusKey, `{"code":"balance_exhausted","error":"buy more credits to contact buyers"}`)

	_, err := src.ExtractLeads(context.Background())
	require.Error(t, err)
	stdErr, category := errors.Categorize(err)
	assert.Equal(t, errors.ErrCodeBalanceExhausted, stdErr.Code)
	assert.Equal(t, errors.CategorySessionTerminal, category)

	// One-shot: the consumed report must not re-suspend a resumed session.
	leads, err := src.ExtractLeads(context.Background())
	require.NoError(t, err)
	assert.Len(t, leads, 3)
}

func TestExtractLeads_OtherAgentStatusIsTransient(t *testing.T) {
	srv, _, src := setupSource(t)
	writeSnapshot(t, srv, 1, someLeads(2))
	srv.Set(statusKey, `{"code":"page_crashed","error":"tab went away"}`)

	_, err := src.ExtractLeads(context.Background())
	require.Error(t, err)
	_, category := errors.Categorize(err)
	assert.Equal(t, errors.CategoryTransient, category)
}
