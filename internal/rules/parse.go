// internal/rules/parse.go
package rules

import (
	"regexp"
	"strconv"
	"strings"

	"leadpilot/internal/models"
)

// Magnitude keywords common in the source portal's listings. "lakh" and
// "crore" variants cover the hundred-thousand / ten-million scales.
var magnitudeScales = map[string]float64{
	"lakh":   100000,
	"lakhs":  100000,
	"lac":    100000,
	"lacs":   100000,
	"crore":  10000000,
	"crores": 10000000,
	"cr":     10000000,
}

var (
	numberRe    = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)
	magnitudeRe = regexp.MustCompile(`(?i)\b(lakhs?|lacs?|crores?|cr)\b`)
	unitWordRe  = regexp.MustCompile(`(?i)[0-9][0-9,.]*\s*([a-z]+)`)
)

type span struct {
	value float64
	start int
	end   int
}

// ParseMagnitudeValue extracts a monetary estimate from free text.
//
// Currency symbols and digit grouping are stripped. A magnitude keyword
// scales the numeric token it follows: each number is scaled by the first
// keyword appearing after it and before the next number. Numbers with no
// such keyword keep their literal value, so an unscaled figure elsewhere in
// a long string is never silently multiplied. A range yields min from the
// first token and max from the last; a lone number yields min == max.
// Unparseable text yields the raw string with Min and Max nil.
func ParseMagnitudeValue(text string) models.ValueEstimate {
	est := models.ValueEstimate{Raw: text}
	if strings.TrimSpace(text) == "" {
		return est
	}

	numLocs := numberRe.FindAllStringIndex(text, -1)
	if len(numLocs) == 0 {
		return est
	}
	magLocs := magnitudeRe.FindAllStringIndex(text, -1)

	spans := make([]span, 0, len(numLocs))
	for _, loc := range numLocs {
		raw := strings.ReplaceAll(text[loc[0]:loc[1]], ",", "")
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		spans = append(spans, span{value: val, start: loc[0], end: loc[1]})
	}
	if len(spans) == 0 {
		return est
	}

	for i := range spans {
		limit := len(text)
		if i+1 < len(spans) {
			limit = spans[i+1].start
		}
		for _, m := range magLocs {
			if m[0] >= spans[i].end && m[1] <= limit {
				word := strings.ToLower(text[m[0]:m[1]])
				if scale, ok := magnitudeScales[word]; ok {
					spans[i].value *= scale
				}
				break
			}
		}
	}

	min := spans[0].value
	max := spans[len(spans)-1].value
	if max < min {
		min, max = max, min
	}
	est.Min = &min
	est.Max = &max
	return est
}

// ParseQuantity extracts the numeric quantity and its unit word from raw
// quantity text, e.g. "5,000 pieces" or "200 Kg". The unit is the first
// alphabetic token after the number. Unparseable text yields Raw only.
func ParseQuantity(text string) models.Quantity {
	q := models.Quantity{Raw: text}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return q
	}

	numLoc := numberRe.FindString(trimmed)
	if numLoc != "" {
		raw := strings.ReplaceAll(numLoc, ",", "")
		if val, err := strconv.ParseFloat(raw, 64); err == nil {
			q.Amount = &val
		}
	}

	if m := unitWordRe.FindStringSubmatch(trimmed); len(m) == 2 {
		q.Unit = strings.ToLower(m[1])
	}

	return q
}
