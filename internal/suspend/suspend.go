// internal/suspend/suspend.go

// Package suspend handles session-wide pauses triggered by the portal's
// balance-exhaustion signal. The state is durable so a restart mid-pause
// neither loses the pause nor forgets whether automation should come back.
package suspend

import (
	"context"
	"encoding/json"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/models"

	"github.com/redis/go-redis/v9"
)

const stateKey = "leadpilot:suspension"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Controller struct {
	client *redis.Client
	logger logger.Logger
	clock  Clock
}

func NewController(client *redis.Client, log logger.Logger) *Controller {
	return &Controller{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "suspend"}),
		clock:  systemClock{},
	}
}

// WithClock replaces the time source; used by tests.
func (c *Controller) WithClock(clock Clock) *Controller {
	c.clock = clock
	return c
}

// Suspend records a capacity-exhaustion pause. The resume time is the next
// local midnight, when the portal's daily quota replenishes.
func (c *Controller) Suspend(ctx context.Context, restoreAutomation bool) (models.SuspensionState, error) {
	resumeAt := nextLocalMidnight(c.clock.Now())
	state := models.SuspensionState{
		Active:                    true,
		ResumeAtEpochMs:           resumeAt.UnixMilli(),
		RestoreAutomationOnResume: restoreAutomation,
	}

	if err := c.persist(ctx, state); err != nil {
		return models.SuspensionState{}, err
	}

	c.logger.Info("session suspended", map[string]interface{}{
		"resumeAt":          resumeAt.Format(time.RFC3339),
		"restoreAutomation": restoreAutomation,
	})
	return state, nil
}

// Load returns the persisted suspension state, if any.
func (c *Controller) Load(ctx context.Context) (*models.SuspensionState, error) {
	raw, err := c.client.Get(ctx, stateKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "suspension state read failed", err)
	}

	var state models.SuspensionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "suspension state corrupt", err)
	}
	return &state, nil
}

// Clear destroys the persisted state on resume.
func (c *Controller) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, stateKey).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "suspension state clear failed", err)
	}
	return nil
}

// RemainingDelay computes how long to wait before resuming. Zero means the
// resume time is already past and the caller should resume immediately.
func (c *Controller) RemainingDelay(state models.SuspensionState) time.Duration {
	resumeAt := time.UnixMilli(state.ResumeAtEpochMs)
	delay := resumeAt.Sub(c.clock.Now())
	if delay < 0 {
		return 0
	}
	return delay
}

func (c *Controller) persist(ctx context.Context, state models.SuspensionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "suspension state marshal failed", err)
	}
	if err := c.client.Set(ctx, stateKey, data, 0).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "suspension state write failed", err)
	}
	return nil
}

// nextLocalMidnight returns the start of the next day in local time.
func nextLocalMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}
