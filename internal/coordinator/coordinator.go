// internal/coordinator/coordinator.go

// Package coordinator is the command surface over the automation engine. It
// relays scheduler events to observers over redis pub/sub, owns the
// suspension resume timer across restarts, and watches engine liveness.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"leadpilot/internal/common/logger"
	"leadpilot/internal/models"
	"leadpilot/internal/rules"
	"leadpilot/internal/scheduler"
	"leadpilot/internal/suspend"

	"github.com/redis/go-redis/v9"
)

// eventsChannel carries engine events for external observers (dashboards,
// ops tooling). Delivery is fire-and-forget.
const eventsChannel = "leadpilot:events"

const (
	EventSuspended = "suspended"
	EventResumed   = "resumed"
)

// Automation is the scheduler surface the coordinator drives.
type Automation interface {
	Run(ctx context.Context)
	Stop()
	Suspend()
	Resume()
	SetAutoContact(enabled bool)
	RequestCycle()
	Status() models.Status
	Heartbeat() models.AutomationState
	SetSessionTerminalHook(hook func(ctx context.Context))
}

// OperatorNotifier delivers suspend/resume notices to a human.
type OperatorNotifier interface {
	SessionSuspended(ctx context.Context, resumeAt time.Time)
	SessionResumed(ctx context.Context)
}

// HeartbeatConfig controls the liveness watcher.
type HeartbeatConfig struct {
	Interval          time.Duration
	InactiveThreshold time.Duration
}

type Coordinator struct {
	client     *redis.Client
	suspension *suspend.Controller
	notifier   OperatorNotifier
	holder     *rules.Holder
	hbCfg      HeartbeatConfig
	logger     logger.Logger

	sched Automation

	mu          sync.Mutex
	resumeTimer *time.Timer
	resumeAt    time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(client *redis.Client, suspension *suspend.Controller, notifier OperatorNotifier,
	holder *rules.Holder, hbCfg HeartbeatConfig, log logger.Logger) *Coordinator {
	return &Coordinator{
		client:     client,
		suspension: suspension,
		notifier:   notifier,
		holder:     holder,
		hbCfg:      hbCfg,
		logger:     log.WithFields(map[string]interface{}{"component": "coordinator"}),
		stopped:    make(chan struct{}),
	}
}

// Attach binds the scheduler. Separate from New because the scheduler takes
// the coordinator as its event sink.
func (c *Coordinator) Attach(sched Automation) {
	c.sched = sched
	sched.SetSessionTerminalHook(c.onSessionTerminal)
}

// Start restores any persisted suspension, then launches the automation
// loop and the liveness watcher.
func (c *Coordinator) Start(ctx context.Context) error {
	state, err := c.suspension.Load(ctx)
	if err != nil {
		return err
	}
	if state != nil && state.Active {
		c.restoreSuspension(ctx, *state)
	}

	go c.sched.Run(ctx)
	if c.hbCfg.Interval > 0 {
		go c.watchLiveness(ctx)
	}
	return nil
}

// restoreSuspension re-arms a pause that survived a restart. A past-due
// resume time resumes immediately.
func (c *Coordinator) restoreSuspension(ctx context.Context, state models.SuspensionState) {
	remaining := c.suspension.RemainingDelay(state)
	if remaining == 0 {
		c.logger.Info("persisted suspension already past due, resuming", nil)
		c.finishSuspension(ctx, state.RestoreAutomationOnResume)
		return
	}

	c.sched.Suspend()
	c.armResumeTimer(ctx, remaining, state.RestoreAutomationOnResume)
	c.logger.Info("suspension restored from store", map[string]interface{}{
		"remaining": remaining.String(),
	})
}

// onSessionTerminal is the scheduler's balance-exhaustion hook. The
// scheduler has already parked itself; this persists the pause, notifies
// the operator and arms the resume timer.
func (c *Coordinator) onSessionTerminal(ctx context.Context) {
	state, err := c.suspension.Suspend(ctx, true)
	if err != nil {
		c.logger.Error("failed to persist suspension", map[string]interface{}{
			"error": err.Error(),
		})
		// Still arm an in-memory timer so this session resumes even if
		// the store is down.
		state = models.SuspensionState{
			Active:                    true,
			ResumeAtEpochMs:           time.Now().Add(12 * time.Hour).UnixMilli(),
			RestoreAutomationOnResume: true,
		}
	}

	resumeAt := time.UnixMilli(state.ResumeAtEpochMs)
	c.armResumeTimer(ctx, c.suspension.RemainingDelay(state), state.RestoreAutomationOnResume)

	c.Publish(scheduler.Event{Type: EventSuspended, Payload: map[string]interface{}{
		"resumeAt": resumeAt.Format(time.RFC3339),
	}})
	if c.notifier != nil {
		c.notifier.SessionSuspended(ctx, resumeAt)
	}
}

func (c *Coordinator) armResumeTimer(ctx context.Context, delay time.Duration, restoreAutomation bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.resumeAt = time.Now().Add(delay)
	c.resumeTimer = time.AfterFunc(delay, func() {
		c.finishSuspension(ctx, restoreAutomation)
	})
}

func (c *Coordinator) finishSuspension(ctx context.Context, restoreAutomation bool) {
	if err := c.suspension.Clear(ctx); err != nil {
		c.logger.Error("failed to clear suspension state", map[string]interface{}{
			"error": err.Error(),
		})
	}
	c.mu.Lock()
	c.resumeAt = time.Time{}
	c.mu.Unlock()

	if restoreAutomation {
		c.sched.Resume()
		c.sched.RequestCycle()
	}

	c.Publish(scheduler.Event{Type: EventResumed})
	if c.notifier != nil {
		c.notifier.SessionResumed(ctx)
	}
	c.logger.Info("session resumed", map[string]interface{}{
		"automationRestored": restoreAutomation,
	})
}

// ==========================
// Command Surface
// ==========================

// Stop is the hard stop for the whole engine.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.mu.Unlock()
	c.sched.Stop()
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *Coordinator) SetAutoContact(enabled bool) {
	c.sched.SetAutoContact(enabled)
}

func (c *Coordinator) RequestCycle() {
	c.sched.RequestCycle()
}

// UpdateRules swaps in a new rules document; the current filtering pass
// keeps its snapshot, the next one sees the update.
func (c *Coordinator) UpdateRules(data []byte) error {
	if err := c.holder.UpdateFromJSON(data); err != nil {
		return err
	}
	c.logger.Info("rules updated", nil)
	c.sched.RequestCycle()
	return nil
}

// Status augments the scheduler snapshot with the pending resume time.
func (c *Coordinator) Status() models.Status {
	status := c.sched.Status()
	c.mu.Lock()
	if !c.resumeAt.IsZero() {
		status.ResumeAt = c.resumeAt
	}
	c.mu.Unlock()
	return status
}

// ==========================
// Event Relay
// ==========================

// Publish relays an engine event over redis pub/sub. Failures are logged
// and dropped; observers are optional.
func (c *Coordinator) Publish(event scheduler.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		c.logger.Warn("event publish failed", map[string]interface{}{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

// ==========================
// Liveness
// ==========================

// watchLiveness nudges the scheduler at the heartbeat interval and logs a
// diagnostic snapshot when the engine sits in a working state longer than
// the inactive threshold, which usually means the source is wedged.
func (c *Coordinator) watchLiveness(ctx context.Context) {
	ticker := time.NewTicker(c.hbCfg.Interval)
	defer ticker.Stop()

	lastProgress := time.Now()
	lastState := c.sched.Heartbeat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-ticker.C:
		}

		state := c.sched.Heartbeat()
		if state != lastState {
			lastState = state
			lastProgress = time.Now()
			continue
		}
		if isRestingState(state) {
			lastProgress = time.Now()
			continue
		}
		if time.Since(lastProgress) > c.hbCfg.InactiveThreshold {
			c.logger.Warn("engine appears inactive", map[string]interface{}{
				"state":    string(state),
				"stuckFor": time.Since(lastProgress).String(),
				"status":   c.Status(),
			})
			lastProgress = time.Now() // rate-limit the diagnostic
		}
	}
}

func isRestingState(state models.AutomationState) bool {
	switch state {
	case models.StateIdle, models.StateWaiting, models.StateSuspended, models.StateStopped:
		return true
	}
	return false
}
