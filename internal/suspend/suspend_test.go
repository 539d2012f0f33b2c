// internal/suspend/suspend_test.go
package suspend

import (
	"context"
	"testing"
	"time"

	"leadpilot/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func setupController(t *testing.T, clock Clock) (*miniredis.Miniredis, *Controller) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewController(client, logger.NewTestLogger(t))
	if clock != nil {
		c.WithClock(clock)
	}
	return srv, c
}

func TestSuspend_ResumeAtNextLocalMidnight(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 18, 45, 0, 0, time.Local)}
	_, c := setupController(t, clock)

	state, err := c.Suspend(context.Background(), true)
	require.NoError(t, err)

	resumeAt := time.UnixMilli(state.ResumeAtEpochMs)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.Local), resumeAt)
	assert.True(t, state.Active)
	assert.True(t, state.RestoreAutomationOnResume)
}

func TestSuspend_RoundTripAcrossRestart(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 23, 0, 0, 0, time.Local)}
	srv, c := setupController(t, clock)
	ctx := context.Background()

	_, err := c.Suspend(ctx, true)
	require.NoError(t, err)

	// Advance the clock past resumeAt, then "restart" with a new
	// controller against the same store.
	clock.Advance(2 * time.Hour)

	client2 := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client2.Close()
	c2 := NewController(client2, logger.NewNoOpLogger()).WithClock(clock)

	loaded, err := c2.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded, "suspension state must survive restart")
	assert.True(t, loaded.RestoreAutomationOnResume,
		"pre-suspension automation state must be restorable")
	assert.Zero(t, c2.RemainingDelay(*loaded), "past-due suspension resumes immediately")
}

func TestSuspend_RemainingDelayBeforeResumeTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 22, 0, 0, 0, time.Local)}
	_, c := setupController(t, clock)

	state, err := c.Suspend(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, c.RemainingDelay(state))
	assert.False(t, state.RestoreAutomationOnResume)
}

func TestSuspend_ClearDestroysState(t *testing.T) {
	_, c := setupController(t, nil)
	ctx := context.Background()

	_, err := c.Suspend(ctx, true)
	require.NoError(t, err)

	require.NoError(t, c.Clear(ctx))

	loaded, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoad_NoState(t *testing.T) {
	_, c := setupController(t, nil)

	loaded, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
