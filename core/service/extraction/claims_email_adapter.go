package extraction

import (
	"claims_server/core/domain"
)

// =============================================================================
// Email Extraction Adapter
// =============================================================================

// EmailAdapter extracts claim fields from an email's subject and body.
// The subject is consulted first per field; short identifiers quoted in
// subjects are higher precision than body prose, so a subject hit skips the
// body for that field.
type EmailAdapter struct {
	extractor *FieldExtractor
}

// NewEmailAdapter creates the email-side extraction adapter.
func NewEmailAdapter(extractor *FieldExtractor) *EmailAdapter {
	return &EmailAdapter{extractor: extractor}
}

// Extract runs every claim field against subject then body and returns the
// per-field extraction tagged with provenance "email".
func (a *EmailAdapter) Extract(subject, body string) *domain.SourceExtractionResult {
	result := domain.NewSourceExtractionResult(domain.SourceEmail)

	for _, field := range domain.AllFields {
		ext, ok, warning := a.extractor.ExtractField(subject, field)
		if warning != "" {
			result.Warn("subject: " + warning)
		}
		if !ok {
			ext, ok, warning = a.extractor.ExtractField(body, field)
			if warning != "" {
				result.Warn("body: " + warning)
			}
		}
		if ok {
			result.Put(ext)
		}
	}
	return result
}
