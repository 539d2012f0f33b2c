// internal/rules/evaluate.go
package rules

import (
	"fmt"
	"hash/fnv"
	"strings"

	"leadpilot/internal/models"
)

// Rejection reasons surfaced to operators. Kept stable because the log
// store and status breakdowns key on them.
const (
	ReasonRulesNotReady       = "rules not loaded yet"
	ReasonNoKeyword           = "no required keyword found"
	ReasonExcludedLocation    = "location is excluded"
	ReasonQuantityUnknown     = "no parseable quantity"
	ReasonQuantityBelowMin    = "quantity below minimum"
	ReasonQuantityUnitMissing = "quantity unit not mentioned"
	ReasonCategoryNotAllowed  = "category not in allow-list"
	ReasonValueBelowMin       = "probable value below minimum"
	ReasonPassed              = "qualified"
)

// contactDelays is the small fixed set of pacing delays (minutes) assigned
// to qualified leads. A fixed set gives human-plausible, non-uniform pacing
// instead of a flat random distribution.
var contactDelays = []int{2, 3, 5, 8}

// Evaluate classifies one lead against one rule snapshot. Deterministic,
// side-effect-free and total. Checks run cheapest-first and short-circuit
// on the first failure with a distinct reason.
func Evaluate(lead models.Lead, rs *RuleSet) models.Verdict {
	v := models.Verdict{LeadID: lead.ID}

	if rs == nil {
		// Config not ready is a transient skip, never a rejection.
		v.Reason = ReasonRulesNotReady
		return v
	}

	// 1. Keyword match against title + requirement.
	if len(rs.Keywords) > 0 {
		haystack := strings.ToLower(lead.EnquiryTitle + " " + lead.RequirementText)
		matched := false
		for _, kw := range rs.Keywords {
			if kw != "" && strings.Contains(haystack, kw) {
				matched = true
				break
			}
		}
		if !matched {
			v.Reason = ReasonNoKeyword
			return v
		}
	}

	// 2. Location exclusion always disqualifies, independent of every
	// other criterion.
	location := strings.ToLower(lead.Location)
	for _, excluded := range rs.ExcludedLocations {
		if excluded != "" && strings.Contains(location, excluded) {
			v.Reason = ReasonExcludedLocation
			return v
		}
	}

	// 3. Quantity: parsed amount must meet the threshold AND the raw text
	// must mention the configured unit. A numeric match without the unit
	// is a distinct failure from no numeric match at all.
	if rs.MinQuantity > 0 {
		if lead.Quantity.Amount == nil {
			v.Reason = ReasonQuantityUnknown
			return v
		}
		if *lead.Quantity.Amount < rs.MinQuantity {
			v.Reason = ReasonQuantityBelowMin
			return v
		}
		if rs.QuantityUnit != "" &&
			!strings.Contains(strings.ToLower(lead.Quantity.Raw), rs.QuantityUnit) {
			v.Reason = ReasonQuantityUnitMissing
			return v
		}
	}

	// 4. Category: only checked when the lead declares one. Fuzzy match,
	// substring in either direction.
	if lead.Category != "" && len(rs.AllowedCategories) > 0 {
		category := strings.ToLower(lead.Category)
		matched := false
		for _, allowed := range rs.AllowedCategories {
			if allowed == "" {
				continue
			}
			if strings.Contains(category, allowed) || strings.Contains(allowed, category) {
				matched = true
				break
			}
		}
		if !matched {
			v.Reason = ReasonCategoryNotAllowed
			return v
		}
	}

	// 5. Probable value floor. Unknown value falls back to zero here by
	// explicit design, so leads without an estimate fail a non-zero floor.
	if rs.MinProbableValue > 0 && lead.ProbableValue.Floor() < rs.MinProbableValue {
		v.Reason = ReasonValueBelowMin
		return v
	}

	v.Passed = true
	v.Reason = ReasonPassed
	v.DelayMinutes = pickDelay(lead.ID)
	return v
}

// pickDelay selects deterministically from the fixed delay set by lead id.
func pickDelay(leadID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(leadID))
	return contactDelays[int(h.Sum32())%len(contactDelays)]
}

// FormatValue renders an estimate for history entries and log summaries.
func FormatValue(v models.ValueEstimate) string {
	switch {
	case v.Min != nil && v.Max != nil && *v.Min != *v.Max:
		return fmt.Sprintf("₹%.0f - ₹%.0f", *v.Min, *v.Max)
	case v.Min != nil:
		return fmt.Sprintf("₹%.0f", *v.Min)
	case v.Raw != "":
		return v.Raw
	default:
		return "unknown"
	}
}
