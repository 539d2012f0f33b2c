// internal/rules/schema.go
package rules

import (
	"fmt"
	"strings"

	"leadpilot/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// rulesSchema constrains runtime rule updates before they replace the
// active snapshot.
const rulesSchema = `{
	"type": "object",
	"properties": {
		"keywords":          {"type": "array", "items": {"type": "string", "minLength": 1}},
		"excludedLocations": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"allowedCategories": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"minQuantity":       {"type": "number", "minimum": 0},
		"quantityUnit":      {"type": "string"},
		"minProbableValue":  {"type": "number", "minimum": 0}
	},
	"required": ["keywords"],
	"additionalProperties": false
}`

var compiledSchema = gojsonschema.NewStringLoader(rulesSchema)

// ValidateRulesJSON checks a rules document against the schema.
func ValidateRulesJSON(data []byte) error {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.Wrap(errors.ErrCodeRulesInvalid, "rules validation failed", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(errors.ErrCodeRulesInvalid,
			fmt.Sprintf("rules document rejected: %s", strings.Join(msgs, "; ")))
	}
	return nil
}
