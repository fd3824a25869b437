package domain

// =============================================================================
// Source Extraction
// =============================================================================

// Source tags where an extraction came from.
type Source string

const (
	SourceEmail  Source = "email"
	SourceOCR    Source = "ocr"
	SourceBoth   Source = "both"
	SourceReview Source = "review" // human correction during approval
)

// FieldExtraction is one candidate value for one field from one source.
// Immutable once produced.
type FieldExtraction struct {
	Field          FieldName  `json:"field_name"`
	Value          FieldValue `json:"value"`
	Confidence     float64    `json:"confidence"` // 0.0 - 1.0
	Source         Source     `json:"source"`
	MatchedPattern string     `json:"matched_pattern,omitempty"` // rule id that fired
}

// SourceExtractionResult is the full per-source extraction: at most one
// FieldExtraction per field, plus non-fatal warnings collected on the way.
type SourceExtractionResult struct {
	Source   Source                        `json:"source"`
	Fields   map[FieldName]FieldExtraction `json:"fields"`
	Warnings []string                      `json:"warnings,omitempty"`
}

// NewSourceExtractionResult returns an empty result for a source.
func NewSourceExtractionResult(src Source) *SourceExtractionResult {
	return &SourceExtractionResult{
		Source: src,
		Fields: make(map[FieldName]FieldExtraction),
	}
}

// Put records an extraction for its field. Last write wins; adapters are
// expected to call it at most once per field.
func (r *SourceExtractionResult) Put(e FieldExtraction) {
	e.Source = r.Source
	r.Fields[e.Field] = e
}

// Warn appends a non-fatal warning.
func (r *SourceExtractionResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Get returns the extraction for a field, if present.
func (r *SourceExtractionResult) Get(f FieldName) (FieldExtraction, bool) {
	if r == nil {
		return FieldExtraction{}, false
	}
	e, ok := r.Fields[f]
	return e, ok
}

// OverallConfidence is the mean of present field confidences, 0 if none.
func (r *SourceExtractionResult) OverallConfidence() float64 {
	if r == nil || len(r.Fields) == 0 {
		return 0
	}
	var sum float64
	for _, e := range r.Fields {
		sum += e.Confidence
	}
	return sum / float64(len(r.Fields))
}
