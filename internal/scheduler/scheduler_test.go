// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/contact"
	"leadpilot/internal/models"
	"leadpilot/internal/registry"
	"leadpilot/internal/rules"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Doubles
// ==========================

type fakeSource struct {
	mu        sync.Mutex
	leads     []models.Lead
	err       error
	ensureErr error
	extracts  int
	refreshs  int
}

func (f *fakeSource) ExtractLeads(_ context.Context) ([]models.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Lead(nil), f.leads...), nil
}

func (f *fakeSource) EnsureLoaded(_ context.Context, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureErr
}

func (f *fakeSource) Refresh(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs++
	if f.err != nil {
		return f.err
	}
	return nil
}

type contactCall struct {
	leadID string
	at     time.Time
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []contactCall
	outcomes map[string]contact.Outcome // per-lead override; default confirmed
}

func (f *fakeRunner) Run(_ context.Context, lead models.Lead) contact.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, contactCall{leadID: lead.ID, at: time.Now()})
	if out, ok := f.outcomes[lead.ID]; ok {
		return out
	}
	return contact.Outcome{State: contact.StateConfirmed}
}

func (f *fakeRunner) Calls() []contactCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contactCall(nil), f.calls...)
}

type fakeSink struct {
	mu    sync.Mutex
	stats []models.CycleStats
}

func (f *fakeSink) CycleCompleted(_ context.Context, stats models.CycleStats) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, stats)
	return true, nil
}

func (f *fakeSink) Stats() []models.CycleStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CycleStats(nil), f.stats...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEvents) Publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeEvents) Types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

// ==========================
// Fixtures
// ==========================

func testConfig() Config {
	return Config{
		RefreshGap:     200 * time.Millisecond,
		FlushTick:      time.Hour, // disabled unless a test shrinks it
		PollInterval:   5 * time.Millisecond,
		MinLeadsOnPage: 3,
		DelayUnit:      10 * time.Millisecond,
	}
}

func testRules() *rules.RuleSet {
	rs := &rules.RuleSet{
		Keywords:          []string{"fabric"},
		ExcludedLocations: []string{"foreign"},
		MinQuantity:       100,
		QuantityUnit:      "meter",
	}
	return rs
}

func lead(id, title, location, qtyRaw string, qty float64) models.Lead {
	l := models.Lead{
		ID:           id,
		CompanyName:  "Co " + id,
		EnquiryTitle: title,
		Location:     location,
	}
	l.Quantity = models.Quantity{Raw: qtyRaw, Amount: &qty, Unit: "meter"}
	return l
}

type fixture struct {
	sched  *Scheduler
	source *fakeSource
	runner *fakeRunner
	sink   *fakeSink
	events *fakeEvents
	holder *rules.Holder
	dedup  *registry.Dedup
	skip   *registry.Skip
	redis  *miniredis.Miniredis
}

func setup(t *testing.T, leads []models.Lead) *fixture {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	holder := rules.NewHolder()
	holder.Swap(testRules())

	f := &fixture{
		source: &fakeSource{leads: leads},
		runner: &fakeRunner{outcomes: map[string]contact.Outcome{}},
		sink:   &fakeSink{},
		events: &fakeEvents{},
		holder: holder,
		dedup:  registry.NewDedup(),
		skip:   registry.NewSkip(client),
		redis:  srv,
	}
	f.sched = New(testConfig(), f.source, holder, f.dedup, f.skip,
		f.runner, f.sink, f.events, logger.NewTestLogger(t))
	return f
}

// ==========================
// Single Cycle Behavior
// ==========================

func TestRunCycle_EndToEnd(t *testing.T) {
	// Ten scraped leads, three qualifying, one of which was already
	// contacted this session.
	leads := []models.Lead{
		lead("q1", "cotton fabric rolls", "Mumbai", "500 meter", 500),
		lead("q2", "printed fabric", "Delhi", "1000 meter", 1000),
		lead("q3", "denim fabric", "Surat", "300 meter", 300),
		lead("dup", "linen fabric", "Pune", "800 meter", 800),
		lead("r1", "steel pipes", "Mumbai", "500 meter", 500),
		lead("r2", "silk fabric", "foreign port", "500 meter", 500),
		lead("r3", "wool fabric", "Jaipur", "50 meter", 50),
		lead("r4", "cotton fabric", "Kolkata", "", 0),
		lead("r5", "plastic sheets", "Chennai", "500 meter", 500),
		lead("r6", "jute fabric", "Indore", "200 pieces", 200),
	}
	leads[7].Quantity.Amount = nil // r4: no parseable quantity

	f := setup(t, leads)
	f.dedup.MarkProcessed("dup")

	f.sched.RunCycle(context.Background())

	// Three qualified leads dispatched sequentially, in scrape order; the
	// already-handled lead never reaches the contact flow.
	calls := f.runner.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "q1", calls[0].leadID)
	assert.Equal(t, "q2", calls[1].leadID)
	assert.Equal(t, "q3", calls[2].leadID)

	// One completed cycle with the full verdict breakdown. The deduped
	// lead is absent from the stats entirely.
	stats := f.sink.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 10, stats[0].Total)
	assert.Equal(t, 3, stats[0].Qualified)
	assert.Equal(t, 3, stats[0].Contacted)
	assert.Len(t, stats[0].Verdicts, 9)

	// Confirmed leads land in dedup so the next cycle skips them.
	assert.True(t, f.dedup.Has("q1"))
	assert.True(t, f.dedup.Has("q3"))

	types := f.events.Types()
	assert.Contains(t, types, EventLeadContacted)
	assert.Contains(t, types, EventCycleSummaryUpdated)
}

func TestRunCycle_PacingBetweenDispatches(t *testing.T) {
	leads := []models.Lead{
		lead("q1", "cotton fabric", "Mumbai", "500 meter", 500),
		lead("q2", "silk fabric", "Delhi", "500 meter", 500),
	}
	f := setup(t, leads)

	f.sched.RunCycle(context.Background())

	calls := f.runner.Calls()
	require.Len(t, calls, 2)
	gap := calls[1].at.Sub(calls[0].at)
	// q1's assigned delay is at least 2 units of 10ms.
	assert.GreaterOrEqual(t, gap, 20*time.Millisecond,
		"second dispatch must wait out the first lead's pacing delay")
}

func TestRunCycle_DefersWhenRulesNotLoaded(t *testing.T) {
	f := setup(t, []models.Lead{lead("q1", "cotton fabric", "Mumbai", "500 meter", 500)})
	f.holder.Swap(nil)

	f.sched.RunCycle(context.Background())

	assert.Empty(t, f.runner.Calls(), "no dispatch before rules load")
	assert.Empty(t, f.sink.Stats(), "a deferred pass is not a completed cycle")
	// The deferral is transient; once rules load the same leads qualify.
	f.holder.Swap(testRules())
	f.sched.RunCycle(context.Background())
	assert.Len(t, f.runner.Calls(), 1)
}

func TestRunCycle_SkipRegistryExcludesLeads(t *testing.T) {
	f := setup(t, []models.Lead{
		lead("skipped", "cotton fabric", "Mumbai", "500 meter", 500),
		lead("fresh", "silk fabric", "Delhi", "500 meter", 500),
	})
	require.NoError(t, f.skip.MarkSkipped(context.Background(), "skipped"))

	f.sched.RunCycle(context.Background())

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "fresh", calls[0].leadID)
}

func TestRunCycle_RemoteRejectionEntersDedup(t *testing.T) {
	f := setup(t, []models.Lead{lead("rej", "cotton fabric", "Mumbai", "500 meter", 500)})
	f.runner.outcomes["rej"] = contact.Outcome{
		State: contact.StateFailed,
		Code:  errors.ErrCodeRejectedByRemote,
	}

	f.sched.RunCycle(context.Background())

	assert.True(t, f.dedup.Has("rej"))
	stats := f.sink.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 0, stats[0].Contacted)
	assert.Equal(t, 1, stats[0].ContactsFailed)
}

func TestRunCycle_AutoContactDisabledStillFiltersAndLogs(t *testing.T) {
	f := setup(t, []models.Lead{lead("q1", "cotton fabric", "Mumbai", "500 meter", 500)})
	f.sched.SetAutoContact(false)

	f.sched.RunCycle(context.Background())

	assert.Empty(t, f.runner.Calls())
	stats := f.sink.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Qualified, "filtering and logging continue without dispatch")
}

func TestRunCycle_EmptyExtractionIsTransient(t *testing.T) {
	f := setup(t, nil)

	f.sched.RunCycle(context.Background())

	assert.Empty(t, f.sink.Stats())
	assert.Contains(t, f.events.Types(), EventScrapingError)
	assert.NotEqual(t, models.StateStopped, f.sched.Heartbeat(),
		"an empty page never kills the session")
}

func TestRunCycle_BalanceExhaustedSuspends(t *testing.T) {
	f := setup(t, []models.Lead{
		lead("q1", "cotton fabric", "Mumbai", "500 meter", 500),
		lead("q2", "silk fabric", "Delhi", "500 meter", 500),
	})
	f.runner.outcomes["q1"] = contact.Outcome{
		State: contact.StateFailed,
		Code:  errors.ErrCodeBalanceExhausted,
	}
	hookFired := false
	f.sched.SetSessionTerminalHook(func(_ context.Context) { hookFired = true })

	f.sched.RunCycle(context.Background())

	assert.True(t, hookFired)
	assert.Equal(t, models.StateSuspended, f.sched.Heartbeat())
	assert.Len(t, f.runner.Calls(), 1, "dispatch halts at the terminal signal")
}

func TestRunCycle_ScrapeBalanceExhaustedSuspends(t *testing.T) {
	// The agent's quota report arrives through the extraction path, not a
	// contact outcome; it must still reach the suspension trigger.
	f := setup(t, nil)
	f.source.err = errors.New(errors.ErrCodeBalanceExhausted, "buy more credits")
	hookFired := false
	f.sched.SetSessionTerminalHook(func(_ context.Context) { hookFired = true })

	f.sched.RunCycle(context.Background())

	assert.True(t, hookFired)
	assert.Equal(t, models.StateSuspended, f.sched.Heartbeat())
	assert.Empty(t, f.runner.Calls())
}

func TestRunCycle_ProbeBalanceExhaustedSuspends(t *testing.T) {
	// Exhaustion surfacing during the cardinality probe is not the usual
	// "page settled short" warning; the cycle must not scrape on.
	f := setup(t, []models.Lead{lead("q1", "cotton fabric", "Mumbai", "500 meter", 500)})
	f.source.ensureErr = errors.New(errors.ErrCodeBalanceExhausted, "buy more credits")
	hookFired := false
	f.sched.SetSessionTerminalHook(func(_ context.Context) { hookFired = true })

	f.sched.RunCycle(context.Background())

	assert.True(t, hookFired)
	assert.Equal(t, models.StateSuspended, f.sched.Heartbeat())
	assert.Empty(t, f.runner.Calls())
	assert.Empty(t, f.sink.Stats())
}

func TestFlushPass_DoesNotInflateCounts(t *testing.T) {
	f := setup(t, []models.Lead{
		lead("q1", "cotton fabric", "Mumbai", "500 meter", 500),
		lead("r1", "steel pipes", "Mumbai", "500 meter", 500),
	})

	f.sched.RunCycle(context.Background())
	before := f.sched.Status()

	// The flush tick re-evaluates the same unchanged page.
	f.sched.flushPass(context.Background())
	f.sched.flushPass(context.Background())
	after := f.sched.Status()

	assert.Equal(t, before.LeadsQualified, after.LeadsQualified,
		"re-filtering unchanged leads must not count them again")
	assert.Equal(t, before.RejectionCounts, after.RejectionCounts)
	assert.Equal(t, before.LeadsScraped, after.LeadsScraped)
}

// ==========================
// Loop Behavior
// ==========================

func TestRun_StopHaltsWithinPollGranularity(t *testing.T) {
	f := setup(t, []models.Lead{lead("q1", "cotton fabric", "Mumbai", "500 meter", 500)})

	done := make(chan struct{})
	go func() {
		f.sched.Run(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	f.sched.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	assert.Equal(t, models.StateStopped, f.sched.Heartbeat())
}

func TestRun_RequestCycleCutsWaitShort(t *testing.T) {
	f := setup(t, []models.Lead{lead("q1", "cotton fabric", "Mumbai", "500 meter", 500)})
	// Long gap so only explicit requests trigger extra cycles.
	f.sched.cfg.RefreshGap = time.Hour

	go f.sched.Run(context.Background())
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		f.source.mu.Lock()
		defer f.source.mu.Unlock()
		return f.source.refreshs == 1
	}, time.Second, 5*time.Millisecond)

	f.sched.RequestCycle()

	require.Eventually(t, func() bool {
		f.source.mu.Lock()
		defer f.source.mu.Unlock()
		return f.source.refreshs == 2
	}, time.Second, 5*time.Millisecond, "requested cycle must run without waiting out the gap")
}

func TestRun_SuspendParksAndResumeUnparks(t *testing.T) {
	f := setup(t, []models.Lead{lead("q1", "cotton fabric", "Mumbai", "500 meter", 500)})
	f.sched.Suspend()

	go f.sched.Run(context.Background())
	defer f.sched.Stop()

	time.Sleep(60 * time.Millisecond)
	f.source.mu.Lock()
	refreshsWhileSuspended := f.source.refreshs
	f.source.mu.Unlock()
	assert.Zero(t, refreshsWhileSuspended, "no scraping while suspended")

	f.sched.Resume()
	require.Eventually(t, func() bool {
		f.source.mu.Lock()
		defer f.source.mu.Unlock()
		return f.source.refreshs >= 1
	}, time.Second, 5*time.Millisecond)
}

// ==========================
// Status Snapshot
// ==========================

func TestStatus_RejectionBreakdown(t *testing.T) {
	f := setup(t, []models.Lead{
		lead("q1", "cotton fabric", "Mumbai", "500 meter", 500),
		lead("r1", "steel pipes", "Mumbai", "500 meter", 500),
		lead("r2", "silk fabric", "foreign port", "500 meter", 500),
		lead("r3", "wool fabric", "Jaipur", "50 meter", 50),
	})

	f.sched.RunCycle(context.Background())

	status := f.sched.Status()
	assert.Equal(t, 4, status.LeadsScraped)
	assert.Equal(t, 1, status.LeadsQualified)
	assert.Equal(t, 1, status.Contacted)
	assert.Equal(t, 1, status.CyclesCompleted)
	assert.Equal(t, 1, status.RejectionCounts[rules.ReasonNoKeyword])
	assert.Equal(t, 1, status.RejectionCounts[rules.ReasonExcludedLocation])
	assert.Equal(t, 1, status.RejectionCounts[rules.ReasonQuantityBelowMin])
	assert.NotEmpty(t, status.SessionID)
}

func TestStatus_ReturnsDefensiveCopy(t *testing.T) {
	f := setup(t, []models.Lead{lead("r1", "steel pipes", "Mumbai", "500 meter", 500)})
	f.sched.RunCycle(context.Background())

	status := f.sched.Status()
	status.RejectionCounts[rules.ReasonNoKeyword] = 999

	assert.Equal(t, 1, f.sched.Status().RejectionCounts[rules.ReasonNoKeyword])
}
