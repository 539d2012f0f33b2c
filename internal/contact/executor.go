// internal/contact/executor.go

// Package contact drives one multi-step outreach attempt per qualified
// lead. At most one flow runs system-wide at any time because the shared
// interaction surface cannot safely host two simultaneous flows.
package contact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/common/metrics"
	"leadpilot/internal/models"
	"leadpilot/internal/rules"
)

// State is the executor's position in one flow.
type State string

const (
	StateLocating       State = "locating"
	StateInitiating     State = "initiating"
	StateComposing      State = "composing"
	StateSubmitting     State = "submitting"
	StateConfirmPending State = "confirm_pending"
	StateRetryingSubmit State = "retrying_submit"
	StateConfirmed      State = "confirmed"
	StateFailed         State = "failed"
	StateAborted        State = "aborted"
)

// Outcome is the typed result surfaced to the dispatcher.
type Outcome struct {
	State State
	Code  errors.ErrorCode
	Err   error
}

func (o Outcome) Confirmed() bool { return o.State == StateConfirmed }
func (o Outcome) Aborted() bool   { return o.State == StateAborted }

// SkipMarker records leads the remote party rejected terminally.
type SkipMarker interface {
	MarkSkipped(ctx context.Context, id string) error
}

// Recorder persists confirmed contacts, deduplicating by lead id.
type Recorder interface {
	Record(ctx context.Context, rec models.ContactRecord) error
}

// Config controls confirmation polling and the bounded submit retry.
type Config struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	SubmitRetries  int
}

type Executor struct {
	adapter  Adapter
	skip     SkipMarker
	recorder Recorder
	logger   logger.Logger
	cfg      Config

	// flowLock guarantees at most one in-flight flow system-wide.
	flowLock sync.Mutex

	// shouldContinue is re-checked at every state transition so an
	// operator stop takes effect within one step.
	shouldContinue func() bool
}

func NewExecutor(adapter Adapter, skip SkipMarker, recorder Recorder, cfg Config, log logger.Logger) *Executor {
	return &Executor{
		adapter:        adapter,
		skip:           skip,
		recorder:       recorder,
		cfg:            cfg,
		logger:         log.WithFields(map[string]interface{}{"component": "contact"}),
		shouldContinue: func() bool { return true },
	}
}

// SetContinueCheck installs the shared automation-enabled check.
func (e *Executor) SetContinueCheck(check func() bool) {
	if check != nil {
		e.shouldContinue = check
	}
}

// Run executes the full flow for one lead. It blocks until any in-flight
// flow finishes; callers never interleave two flows.
func (e *Executor) Run(ctx context.Context, lead models.Lead) Outcome {
	e.flowLock.Lock()
	defer e.flowLock.Unlock()

	started := time.Now()
	outcome := e.run(ctx, lead)
	metrics.ContactFlowDuration.Observe(time.Since(started).Seconds())

	switch outcome.State {
	case StateConfirmed:
		metrics.ContactsConfirmed.Inc()
	case StateFailed:
		metrics.ContactsFailed.WithLabelValues(string(outcome.Code)).Inc()
	}

	return outcome
}

func (e *Executor) run(ctx context.Context, lead models.Lead) Outcome {
	log := e.logger.WithFields(map[string]interface{}{"leadId": lead.ID})

	// --- Locating ---
	if !e.shouldContinue() {
		return e.aborted()
	}
	leadHandle, err := e.adapter.LocateLead(ctx, lead.SourcePosition)
	if err != nil {
		return e.failed(errors.ErrCodeLeadNotFound, err)
	}
	if leadHandle == nil {
		log.Warn("lead element not found, list changed since scrape", nil)
		return e.failed(errors.ErrCodeLeadNotFound, nil)
	}

	// --- Initiating ---
	if !e.shouldContinue() {
		return e.aborted()
	}
	contactBtn, err := e.adapter.LocateAction(ctx, KindContactButton, leadHandle)
	if err != nil || contactBtn == nil {
		return e.failed(errors.ErrCodeActionTargetNotFound, err)
	}
	if err := e.adapter.Invoke(ctx, contactBtn); err != nil {
		return e.failed(errors.ErrCodeActionTargetNotFound, err)
	}
	rejected, err := e.adapter.RejectionSeen(ctx)
	if err == nil && rejected {
		// Terminal for this lead: never retry it.
		if skipErr := e.skip.MarkSkipped(ctx, lead.ID); skipErr != nil {
			log.Error("failed to persist skip entry", map[string]interface{}{
				"error": skipErr.Error(),
			})
		}
		log.Info("lead rejected by remote, added to skip registry", nil)
		return e.failed(errors.ErrCodeRejectedByRemote, nil)
	}

	// --- Composing ---
	if !e.shouldContinue() {
		return e.aborted()
	}
	field, err := e.adapter.LocateAction(ctx, KindMessageField, leadHandle)
	if err != nil || field == nil {
		return e.failed(errors.ErrCodeActionTargetNotFound, err)
	}
	existing, err := e.adapter.FieldValue(ctx, field)
	if err != nil {
		return e.failed(errors.ErrCodeActionTargetNotFound, err)
	}
	if existing == "" {
		// Never overwrite an operator's partially-typed content.
		if err := e.adapter.SetFieldValue(ctx, field, composeMessage(lead)); err != nil {
			return e.failed(errors.ErrCodeActionTargetNotFound, err)
		}
	}

	// --- Submitting / ConfirmPending, with one bounded retry ---
	sendBtn, err := e.adapter.LocateAction(ctx, KindSendButton, leadHandle)
	if err != nil || sendBtn == nil {
		return e.failed(errors.ErrCodeActionTargetNotFound, err)
	}

	attempts := 1 + e.cfg.SubmitRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		if !e.shouldContinue() {
			return e.aborted()
		}
		if err := e.adapter.Invoke(ctx, sendBtn); err != nil {
			return e.failed(errors.ErrCodeActionTargetNotFound, err)
		}

		confirmed, abortedOutcome := e.awaitConfirmation(ctx)
		if abortedOutcome != nil {
			return *abortedOutcome
		}
		if confirmed {
			return e.confirmed(ctx, lead, log)
		}
		if attempt < attempts {
			log.Warn("confirmation timed out, retrying submit", map[string]interface{}{
				"attempt": attempt,
			})
		}
	}

	return e.failed(errors.ErrCodeConfirmationTimeout, nil)
}

// awaitConfirmation polls bounded by ConfirmTimeout. The wait is
// cancellable at poll granularity.
func (e *Executor) awaitConfirmation(ctx context.Context) (bool, *Outcome) {
	deadline := time.Now().Add(e.cfg.ConfirmTimeout)
	for time.Now().Before(deadline) {
		if !e.shouldContinue() {
			out := e.aborted()
			return false, &out
		}
		ok, err := e.adapter.ConfirmationSeen(ctx)
		if err == nil && ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			out := e.aborted()
			return false, &out
		case <-time.After(e.cfg.PollInterval):
		}
	}
	return false, nil
}

func (e *Executor) confirmed(ctx context.Context, lead models.Lead, log logger.Logger) Outcome {
	rec := models.ContactRecord{
		LeadID:         lead.ID,
		CompanyName:    lead.CompanyName,
		Location:       lead.Location,
		ValueFormatted: rules.FormatValue(lead.ProbableValue),
		ConfirmedAt:    time.Now().UTC(),
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		// The contact went through; a history failure must not turn a
		// success into a retryable error.
		log.Error("confirmed contact not recorded", map[string]interface{}{
			"error": err.Error(),
		})
	}
	log.Info("contact confirmed", map[string]interface{}{"company": lead.CompanyName})
	return Outcome{State: StateConfirmed}
}

func (e *Executor) failed(code errors.ErrorCode, err error) Outcome {
	// A session-terminal adapter failure outranks the per-step code; the
	// dispatcher suspends on it instead of retrying next cycle.
	if err != nil {
		if stdErr, category := errors.Categorize(err); category == errors.CategorySessionTerminal {
			code = stdErr.Code
		}
	}
	return Outcome{State: StateFailed, Code: code, Err: err}
}

func (e *Executor) aborted() Outcome {
	return Outcome{State: StateAborted, Code: errors.ErrCodeAborted}
}

// composeMessage builds the outgoing text from the lead's details when
// available, else a generic template.
func composeMessage(lead models.Lead) string {
	if lead.CompanyName != "" && lead.EnquiryTitle != "" {
		msg := fmt.Sprintf("Hello %s, we can supply your requirement for %q.",
			lead.CompanyName, lead.EnquiryTitle)
		if lead.Location != "" {
			msg += fmt.Sprintf(" We regularly ship to %s.", lead.Location)
		}
		return msg + " Please share further details to proceed."
	}
	return "Hello, we are interested in fulfilling your requirement. Please share further details to proceed."
}
