// internal/models/contact.go
package models

import "time"

// ContactRecord is one confirmed outreach, kept in success history.
// Repeat confirmations for the same lead replace the prior record.
type ContactRecord struct {
	LeadID         string    `json:"leadId"`
	CompanyName    string    `json:"companyName"`
	Location       string    `json:"location"`
	ValueFormatted string    `json:"valueFormatted"`
	ConfirmedAt    time.Time `json:"confirmedAt"`
}
