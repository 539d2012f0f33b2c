// internal/models/status.go
package models

import "time"

// AutomationState is the scheduler's explicit top-level state. Free-floating
// enabled/stopped/suspended booleans are deliberately not exposed so illegal
// combinations are unrepresentable.
type AutomationState string

const (
	StateIdle        AutomationState = "idle"
	StateScraping    AutomationState = "scraping"
	StateFiltering   AutomationState = "filtering"
	StateDispatching AutomationState = "dispatching"
	StateWaiting     AutomationState = "waiting"
	StateSuspended   AutomationState = "suspended"
	StateStopped     AutomationState = "stopped"
)

// CycleStats summarizes one completed scrape-filter-dispatch pass.
type CycleStats struct {
	CycleID        string    `json:"cycleId"`
	Total          int       `json:"total"`
	Qualified      int       `json:"qualified"`
	QualifiedIDs   []string  `json:"qualifiedIds"`
	Verdicts       []Verdict `json:"verdicts"`
	CompletedAt    time.Time `json:"completedAt"`
	Contacted      int       `json:"contacted"`
	ContactsFailed int       `json:"contactsFailed"`
}

// Status is the snapshot returned by the coordinator's status query.
type Status struct {
	SessionID       string          `json:"sessionId"`
	State           AutomationState `json:"state"`
	AutoContact     bool            `json:"autoContact"`
	SessionStarted  time.Time       `json:"sessionStarted"`
	SessionDuration time.Duration   `json:"sessionDuration"`
	CyclesCompleted int             `json:"cyclesCompleted"`
	LeadsScraped    int             `json:"leadsScraped"`
	LeadsQualified  int             `json:"leadsQualified"`
	Contacted       int             `json:"contacted"`
	RejectionCounts map[string]int  `json:"rejectionCounts"`
	Suspended       bool            `json:"suspended"`
	ResumeAt        time.Time       `json:"resumeAt,omitempty"`
}

// SuspensionState is persisted when a capacity-exhaustion signal pauses the
// session. Destroyed on resume.
type SuspensionState struct {
	Active                    bool  `json:"active"`
	ResumeAtEpochMs           int64 `json:"resumeAtEpochMs"`
	RestoreAutomationOnResume bool  `json:"restoreAutomationOnResume"`
}
