// internal/models/verdict.go
package models

// Verdict is the filter evaluator's outcome for one lead during one cycle.
type Verdict struct {
	LeadID       string `json:"leadId"`
	Passed       bool   `json:"passed"`
	Reason       string `json:"reason"`
	DelayMinutes int    `json:"delayMinutes"`
}
