// internal/models/lead.go
package models

// Lead is one candidate inbound sales inquiry extracted from the portal.
// ID must be stable across repeated extraction passes of the same underlying
// record, or dedup breaks.
type Lead struct {
	ID                string        `json:"id"`
	CompanyName       string        `json:"companyName"`
	EnquiryTitle      string        `json:"enquiryTitle"`
	RequirementText   string        `json:"requirementText"`
	Location          string        `json:"location"`
	TimestampRaw      string        `json:"timestampRaw"`
	Quantity          Quantity      `json:"quantity"`
	Category          string        `json:"category"`
	FabricOrAttribute string        `json:"fabricOrAttribute"`
	ProbableValue     ValueEstimate `json:"probableValue"`
	// SourcePosition re-locates the originating list element for the
	// contact flow after a refresh.
	SourcePosition int `json:"sourcePosition"`
}

// Quantity carries the raw quantity text plus the parsed numeric and unit.
type Quantity struct {
	Raw    string   `json:"raw"`
	Amount *float64 `json:"amount,omitempty"`
	Unit   string   `json:"unit,omitempty"`
}

// ValueEstimate is a parsed monetary estimate. Min and Max are nil when the
// text was unparseable; callers must treat nil as unknown, not zero.
type ValueEstimate struct {
	Raw string   `json:"raw"`
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Floor returns the value used for threshold checks: the explicit minimum,
// falling back to the maximum, else zero.
func (v ValueEstimate) Floor() float64 {
	if v.Min != nil {
		return *v.Min
	}
	if v.Max != nil {
		return *v.Max
	}
	return 0
}
