// internal/rules/ruleset.go
package rules

import (
	"encoding/json"
	"strings"
	"sync/atomic"

	"leadpilot/internal/common/config"
	"leadpilot/internal/common/errors"
)

// RuleSet is one immutable snapshot of the filtering configuration. It is
// never mutated in place; updates build a new value and swap it through a
// Holder so an in-progress filtering pass always sees one consistent snapshot.
type RuleSet struct {
	Keywords          []string `json:"keywords"`
	ExcludedLocations []string `json:"excludedLocations"`
	AllowedCategories []string `json:"allowedCategories"`
	MinQuantity       float64  `json:"minQuantity"`
	QuantityUnit      string   `json:"quantityUnit"`
	MinProbableValue  float64  `json:"minProbableValue"`
}

// normalize lowercases every matching term once, at construction time.
func (rs *RuleSet) normalize() {
	for i, k := range rs.Keywords {
		rs.Keywords[i] = strings.ToLower(strings.TrimSpace(k))
	}
	for i, l := range rs.ExcludedLocations {
		rs.ExcludedLocations[i] = strings.ToLower(strings.TrimSpace(l))
	}
	for i, c := range rs.AllowedCategories {
		rs.AllowedCategories[i] = strings.ToLower(strings.TrimSpace(c))
	}
	rs.QuantityUnit = strings.ToLower(strings.TrimSpace(rs.QuantityUnit))
}

// FromConfig builds the initial snapshot from the loaded configuration.
func FromConfig(cfg config.RulesConfig) *RuleSet {
	rs := &RuleSet{
		Keywords:          append([]string(nil), cfg.Keywords...),
		ExcludedLocations: append([]string(nil), cfg.ExcludedLocations...),
		AllowedCategories: append([]string(nil), cfg.AllowedCategories...),
		MinQuantity:       cfg.MinQuantity,
		QuantityUnit:      cfg.QuantityUnit,
		MinProbableValue:  cfg.MinProbableValue,
	}
	rs.normalize()
	return rs
}

// Holder owns the current snapshot. Get returns nil until the first load;
// callers must treat nil as config-not-ready, not as an empty rule set.
type Holder struct {
	current atomic.Pointer[RuleSet]
}

func NewHolder() *Holder {
	return &Holder{}
}

func (h *Holder) Get() *RuleSet {
	return h.current.Load()
}

func (h *Holder) Swap(rs *RuleSet) {
	h.current.Store(rs)
}

// UpdateFromJSON validates an incoming rules document and atomically swaps
// it in. On any validation failure the previous snapshot stays active.
func (h *Holder) UpdateFromJSON(data []byte) error {
	if err := ValidateRulesJSON(data); err != nil {
		return err
	}

	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return errors.Wrap(errors.ErrCodeRulesInvalid, "rules document is not valid JSON", err)
	}
	rs.normalize()
	h.current.Store(&rs)
	return nil
}
