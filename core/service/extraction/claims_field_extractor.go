package extraction

import (
	"fmt"

	"claims_server/core/domain"
)

// =============================================================================
// Field Extractor
// =============================================================================

// FieldExtractor scans text blocks against the compiled rule set. It is
// stateless and safe for concurrent use.
type FieldExtractor struct {
	rules *Ruleset
}

// NewFieldExtractor creates an extractor over a compiled rule set.
func NewFieldExtractor(rules *Ruleset) *FieldExtractor {
	return &FieldExtractor{rules: rules}
}

// ExtractField tries the field's patterns in declaration order and returns
// the first match, normalized, with the pattern's static weight as
// confidence. No match returns ok=false with an empty warning; a match that
// fails normalization returns ok=false with the warning describing why.
func (x *FieldExtractor) ExtractField(text string, field domain.FieldName) (ext domain.FieldExtraction, ok bool, warning string) {
	for _, rule := range x.rules.RulesFor(field) {
		m := rule.Re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := NormalizeValue(field, m[1])
		if err != nil {
			return domain.FieldExtraction{}, false, fmt.Sprintf("pattern %s matched but %v", rule.ID, err)
		}
		return domain.FieldExtraction{
			Field:          field,
			Value:          value,
			Confidence:     rule.Weight,
			MatchedPattern: rule.ID,
		}, true, ""
	}
	return domain.FieldExtraction{}, false, ""
}
