// internal/scheduler/scheduler.go

// Package scheduler owns the top-level automation state machine: repeating
// scrape-filter-dispatch cycles, refresh pacing and the periodic log flush.
package scheduler

import (
	"context"
	"sync"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/common/metrics"
	"leadpilot/internal/contact"
	"leadpilot/internal/models"
	"leadpilot/internal/registry"
	"leadpilot/internal/rules"

	"github.com/google/uuid"
)

// LeadSource is the extraction adapter. ExtractLeads is idempotent and may
// return fewer leads than exist before the page settles; EnsureLoaded is
// the cardinality probe invoked before trusting a short result.
type LeadSource interface {
	ExtractLeads(ctx context.Context) ([]models.Lead, error)
	EnsureLoaded(ctx context.Context, minCount int) error
	Refresh(ctx context.Context) error
}

// ContactRunner executes one contact flow; the contact package's executor
// satisfies this.
type ContactRunner interface {
	Run(ctx context.Context, lead models.Lead) contact.Outcome
}

// CycleSink receives completed cycle stats; the cyclelog store satisfies
// this.
type CycleSink interface {
	CycleCompleted(ctx context.Context, stats models.CycleStats) (bool, error)
}

// Event is relayed to the coordinator and on to observers.
type Event struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

const (
	EventCycleSummaryUpdated = "cycle-summary-updated"
	EventLeadContacted       = "lead-contacted"
	EventScrapingError       = "scraping-error"
)

// EventSink consumes scheduler events. Delivery is best-effort; a missing
// or slow observer never blocks the scheduler.
type EventSink interface {
	Publish(event Event)
}

// CycleRecorder feeds the otel metric pipeline; optional.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, status string)
	RecordCycleDuration(ctx context.Context, duration time.Duration, status string)
}

// Config carries resolved pacing durations.
type Config struct {
	RefreshGap     time.Duration
	FlushTick      time.Duration
	PollInterval   time.Duration
	MinLeadsOnPage int

	// DelayUnit is the unit for verdict delay values, one minute in
	// production. Tests shrink it.
	DelayUnit time.Duration
}

type Scheduler struct {
	cfg      Config
	logger   logger.Logger
	source   LeadSource
	holder   *rules.Holder
	dedup    *registry.Dedup
	skip     *registry.Skip
	contacts ContactRunner
	sink     CycleSink
	events   EventSink

	// onSessionTerminal fires when the balance-exhaustion signal is
	// seen; the coordinator wires the suspension controller here.
	onSessionTerminal func(ctx context.Context)

	recorder CycleRecorder

	mu              sync.Mutex
	state           models.AutomationState
	autoContact     bool
	filtering       bool // overlap guard for the flush tick
	sessionID       string
	sessionStarted  time.Time
	lastRefresh     time.Time
	cyclesCompleted int
	leadsScraped    int
	leadsQualified  int
	contacted       int
	rejectionCounts map[string]int

	cycleRequest chan struct{}
	stopOnce     sync.Once
	stopped      chan struct{}
}

func New(cfg Config, source LeadSource, holder *rules.Holder, dedup *registry.Dedup,
	skip *registry.Skip, contacts ContactRunner, sink CycleSink, events EventSink,
	log logger.Logger) *Scheduler {
	if cfg.DelayUnit == 0 {
		cfg.DelayUnit = time.Minute
	}
	return &Scheduler{
		cfg:             cfg,
		logger:          log.WithFields(map[string]interface{}{"component": "scheduler"}),
		source:          source,
		holder:          holder,
		dedup:           dedup,
		skip:            skip,
		contacts:        contacts,
		sink:            sink,
		events:          events,
		state:           models.StateIdle,
		autoContact:     true,
		sessionID:       uuid.NewString(),
		sessionStarted:  time.Now(),
		rejectionCounts: make(map[string]int),
		cycleRequest:    make(chan struct{}, 1),
		stopped:         make(chan struct{}),
	}
}

// SetSessionTerminalHook installs the suspension trigger.
func (s *Scheduler) SetSessionTerminalHook(hook func(ctx context.Context)) {
	s.onSessionTerminal = hook
}

// SetCycleRecorder installs the otel cycle recorder.
func (s *Scheduler) SetCycleRecorder(recorder CycleRecorder) {
	s.recorder = recorder
}

// ShouldContinue is the shared abort check handed to the contact executor.
func (s *Scheduler) ShouldContinue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != models.StateStopped && s.state != models.StateSuspended
}

// Run executes the automation loop until Stop or context cancellation.
// Suspension parks the loop without exiting it.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("automation session started", map[string]interface{}{
		"sessionId": s.sessionID,
	})

	flush := time.NewTicker(s.cfg.FlushTick)
	defer flush.Stop()

	for {
		if s.isStopped(ctx) {
			return
		}
		if s.currentState() == models.StateSuspended {
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}

		s.RunCycle(ctx)

		// Wait out the remaining refresh gap; the flush tick re-runs
		// filtering and log flushing without a refresh, and an
		// immediate-cycle request cuts the wait short.
		if !s.waitForNext(ctx, flush.C) {
			return
		}
	}
}

// waitForNext returns false when the loop should exit.
func (s *Scheduler) waitForNext(ctx context.Context, flush <-chan time.Time) bool {
	for {
		s.setState(models.StateWaiting)

		s.mu.Lock()
		elapsed := time.Since(s.lastRefresh)
		s.mu.Unlock()
		if elapsed >= s.cfg.RefreshGap {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-s.stopped:
			return false
		case <-s.cycleRequest:
			return true
		case <-flush:
			s.flushPass(ctx)
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// RunCycle performs one scrape-filter-dispatch pass.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.ShouldContinue() {
		return
	}

	cycleID := uuid.NewString()
	started := time.Now()

	// --- Scraping ---
	s.setState(models.StateScraping)
	if err := s.source.Refresh(ctx); err != nil {
		s.handleScrapeError(ctx, err)
		return
	}
	s.mu.Lock()
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	if err := s.source.EnsureLoaded(ctx, s.cfg.MinLeadsOnPage); err != nil {
		if _, category := errors.Categorize(err); category == errors.CategorySessionTerminal {
			s.handleScrapeError(ctx, err)
			return
		}
		s.logger.Warn("cardinality probe failed, scraping anyway", map[string]interface{}{
			"error": err.Error(),
		})
	}
	leads, err := s.source.ExtractLeads(ctx)
	if err != nil {
		s.handleScrapeError(ctx, err)
		return
	}
	if len(leads) == 0 {
		// Transient: the page may not have loaded; next cycle retries.
		s.publish(Event{Type: EventScrapingError, Payload: map[string]interface{}{
			"reason": "extraction returned nothing",
		}})
		s.setState(models.StateIdle)
		return
	}

	s.mu.Lock()
	s.leadsScraped += len(leads)
	s.mu.Unlock()
	metrics.LeadsScraped.Add(float64(len(leads)))

	// --- Filtering ---
	stats, qualified, deferred := s.runFiltering(ctx, cycleID, leads, true)
	if deferred {
		s.setState(models.StateIdle)
		return
	}

	// --- Dispatching ---
	if s.autoContactEnabled() && len(qualified) > 0 {
		s.setState(models.StateDispatching)
		s.dispatch(ctx, qualified, &stats)
	}

	stats.CompletedAt = time.Now()
	s.completeCycle(ctx, stats)

	if s.recorder != nil {
		s.recorder.RecordCycle(ctx, "completed")
		s.recorder.RecordCycleDuration(ctx, time.Since(started), "completed")
	}

	s.logger.Info("cycle completed", map[string]interface{}{
		"cycleId":   cycleID,
		"total":     stats.Total,
		"qualified": stats.Qualified,
		"contacted": stats.Contacted,
		"duration":  time.Since(started).String(),
	})
	s.setState(models.StateIdle)
}

type qualifiedLead struct {
	lead    models.Lead
	verdict models.Verdict
}

// runFiltering evaluates every lead not already handled. A nil rule
// snapshot defers the whole pass; it is a transient skip, never a
// rejection. Overlapping invocations degrade to a no-op. record controls
// the cumulative per-lead counters: flush passes re-evaluate the same
// unchanged leads and must not count them again.
func (s *Scheduler) runFiltering(ctx context.Context, cycleID string, leads []models.Lead, record bool) (models.CycleStats, []qualifiedLead, bool) {
	s.mu.Lock()
	if s.filtering {
		s.mu.Unlock()
		return models.CycleStats{}, nil, true
	}
	s.filtering = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.filtering = false
		s.mu.Unlock()
	}()

	s.setState(models.StateFiltering)

	rs := s.holder.Get()
	if rs == nil {
		s.logger.Warn("rules not loaded yet, deferring cycle", nil)
		return models.CycleStats{}, nil, true
	}

	stats := models.CycleStats{CycleID: cycleID, Total: len(leads)}
	var qualified []qualifiedLead

	for _, lead := range leads {
		if s.dedup.Has(lead.ID) {
			continue
		}
		skipped, err := s.skip.Has(ctx, lead.ID)
		if err != nil {
			s.logger.Warn("skip registry unavailable, deferring lead", map[string]interface{}{
				"leadId": lead.ID,
				"error":  err.Error(),
			})
			continue
		}
		if skipped {
			continue
		}

		v := rules.Evaluate(lead, rs)
		stats.Verdicts = append(stats.Verdicts, v)
		if v.Passed {
			stats.Qualified++
			stats.QualifiedIDs = append(stats.QualifiedIDs, lead.ID)
			qualified = append(qualified, qualifiedLead{lead: lead, verdict: v})
			if record {
				metrics.LeadsQualified.Inc()
			}
		} else if record {
			metrics.LeadsRejected.WithLabelValues(v.Reason).Inc()
			s.mu.Lock()
			s.rejectionCounts[v.Reason]++
			s.mu.Unlock()
		}
	}

	if record {
		s.mu.Lock()
		s.leadsQualified += stats.Qualified
		s.mu.Unlock()
	}

	return stats, qualified, false
}

// dispatch processes qualified leads strictly sequentially. After each
// confirmed contact the loop sleeps for that lead's assigned delay; the
// pacing wait is scoped to this loop and cancellable at poll granularity.
func (s *Scheduler) dispatch(ctx context.Context, qualified []qualifiedLead, stats *models.CycleStats) {
	for i, q := range qualified {
		if !s.ShouldContinue() {
			return
		}

		outcome := s.contacts.Run(ctx, q.lead)
		switch {
		case outcome.Confirmed():
			s.dedup.MarkProcessed(q.lead.ID)
			s.mu.Lock()
			s.contacted++
			s.mu.Unlock()
			stats.Contacted++
			s.publish(Event{Type: EventLeadContacted, Payload: map[string]interface{}{
				"leadId":  q.lead.ID,
				"company": q.lead.CompanyName,
			}})
		case outcome.Aborted():
			return
		default:
			stats.ContactsFailed++
			if outcome.Code == errors.ErrCodeRejectedByRemote {
				// Executor already wrote the skip registry; keep it
				// out of this session's dedup churn too.
				s.dedup.MarkProcessed(q.lead.ID)
			}
			if outcome.Code == errors.ErrCodeBalanceExhausted {
				s.triggerSessionTerminal(ctx)
				return
			}
		}

		// Human pacing between dispatches, skipped after the last lead.
		if outcome.Confirmed() && i < len(qualified)-1 {
			if !s.sleep(ctx, time.Duration(q.verdict.DelayMinutes)*s.cfg.DelayUnit) {
				return
			}
		}
	}
}

// flushPass re-runs filtering and the log flush without refreshing the
// source, so long-idle leads still get logged when the host throttles the
// main timer.
func (s *Scheduler) flushPass(ctx context.Context) {
	if !s.ShouldContinue() {
		return
	}
	leads, err := s.source.ExtractLeads(ctx)
	if err != nil || len(leads) == 0 {
		return
	}
	stats, _, deferred := s.runFiltering(ctx, uuid.NewString(), leads, false)
	if deferred {
		return
	}
	stats.CompletedAt = time.Now()
	s.completeCycle(ctx, stats)
	s.setState(models.StateWaiting)
}

func (s *Scheduler) completeCycle(ctx context.Context, stats models.CycleStats) {
	s.mu.Lock()
	s.cyclesCompleted++
	s.mu.Unlock()
	metrics.CyclesCompleted.Inc()

	wrote, err := s.sink.CycleCompleted(ctx, stats)
	if err != nil {
		s.logger.Error("cycle log write failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if wrote {
		s.publish(Event{Type: EventCycleSummaryUpdated, Payload: map[string]interface{}{
			"cycleId":   stats.CycleID,
			"total":     stats.Total,
			"qualified": stats.Qualified,
		}})
	}
}

func (s *Scheduler) handleScrapeError(ctx context.Context, err error) {
	stdErr, category := errors.Categorize(err)
	if category == errors.CategorySessionTerminal {
		s.triggerSessionTerminal(ctx)
		return
	}

	s.logger.Warn("scrape failed", map[string]interface{}{
		"code":  string(stdErr.Code),
		"error": stdErr.Error(),
	})
	if s.recorder != nil {
		s.recorder.RecordCycle(ctx, "scrape_failed")
	}
	s.publish(Event{Type: EventScrapingError, Payload: map[string]interface{}{
		"code":   string(stdErr.Code),
		"reason": stdErr.Message,
	}})
	s.setState(models.StateIdle)
}

func (s *Scheduler) triggerSessionTerminal(ctx context.Context) {
	s.logger.Warn("balance exhausted, suspending session", nil)
	s.Suspend()
	if s.onSessionTerminal != nil {
		s.onSessionTerminal(ctx)
	}
}

// ==========================
// Command Surface
// ==========================

// Stop is the hard stop: all waits unblock and the loop exits.
func (s *Scheduler) Stop() {
	s.setState(models.StateStopped)
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Suspend parks the loop; Resume unparks it.
func (s *Scheduler) Suspend() {
	s.setState(models.StateSuspended)
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state == models.StateSuspended {
		s.state = models.StateIdle
	}
	s.mu.Unlock()
	s.updateStateGauge()
}

// SetAutoContact toggles dispatching without touching scraping/filtering.
func (s *Scheduler) SetAutoContact(enabled bool) {
	s.mu.Lock()
	s.autoContact = enabled
	s.mu.Unlock()
}

// RequestCycle asks for an immediate pass; coalesces when one is pending.
func (s *Scheduler) RequestCycle() {
	select {
	case s.cycleRequest <- struct{}{}:
	default:
	}
}

// Heartbeat answers the coordinator's liveness nudge.
func (s *Scheduler) Heartbeat() models.AutomationState {
	return s.currentState()
}

// Status returns the operator-facing snapshot.
func (s *Scheduler) Status() models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejections := make(map[string]int, len(s.rejectionCounts))
	for k, v := range s.rejectionCounts {
		rejections[k] = v
	}

	return models.Status{
		SessionID:       s.sessionID,
		State:           s.state,
		AutoContact:     s.autoContact,
		SessionStarted:  s.sessionStarted,
		SessionDuration: time.Since(s.sessionStarted),
		CyclesCompleted: s.cyclesCompleted,
		LeadsScraped:    s.leadsScraped,
		LeadsQualified:  s.leadsQualified,
		Contacted:       s.contacted,
		RejectionCounts: rejections,
		Suspended:       s.state == models.StateSuspended,
	}
}

// ==========================
// Internals
// ==========================

func (s *Scheduler) currentState() models.AutomationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state models.AutomationState) {
	s.mu.Lock()
	// Stopped is terminal for the session; Suspended is only left via
	// Resume or Stop, never by an in-flight cycle's own transitions.
	if s.state == models.StateStopped && state != models.StateStopped {
		s.mu.Unlock()
		return
	}
	if s.state == models.StateSuspended && state != models.StateStopped && state != models.StateSuspended {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.updateStateGauge()
}

func (s *Scheduler) updateStateGauge() {
	switch s.currentState() {
	case models.StateSuspended:
		metrics.AutomationState.Set(2)
	case models.StateStopped:
		metrics.AutomationState.Set(3)
	case models.StateIdle, models.StateWaiting:
		metrics.AutomationState.Set(0)
	default:
		metrics.AutomationState.Set(1)
	}
}

func (s *Scheduler) autoContactEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoContact
}

func (s *Scheduler) isStopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.stopped:
		return true
	default:
		return s.currentState() == models.StateStopped
	}
}

// sleep waits cancellably; false means the wait was interrupted by a stop.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if !s.ShouldContinue() {
			return false
		}
		remaining := time.Until(deadline)
		tick := s.cfg.PollInterval
		if remaining < tick {
			tick = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.stopped:
			return false
		case <-time.After(tick):
		}
	}
	return s.ShouldContinue()
}

func (s *Scheduler) publish(event Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}
