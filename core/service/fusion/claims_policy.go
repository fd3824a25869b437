package fusion

import "claims_server/core/domain"

// =============================================================================
// Conflict Policy
// =============================================================================

// Preference decides which side wins a disputed field.
type Preference string

const (
	PreferHigherConfidence Preference = "higher_confidence"
	PreferEmail            Preference = "email"
	PreferOCR              Preference = "ocr"
)

// Policy maps fields to their disagreement preference. Fields without an
// entry fall back to PreferHigherConfidence.
type Policy map[domain.FieldName]Preference

// DefaultPolicy reflects source authority: receipts are authoritative for
// provider and receipt identity, submitters' own emails for the service date.
func DefaultPolicy() Policy {
	return Policy{
		domain.FieldServiceDate:   PreferEmail,
		domain.FieldMemberName:    PreferOCR,
		domain.FieldProviderName:  PreferOCR,
		domain.FieldReceiptNumber: PreferOCR,
	}
}

// For returns the preference for a field.
func (p Policy) For(f domain.FieldName) Preference {
	if pref, ok := p[f]; ok {
		return pref
	}
	return PreferHigherConfidence
}
