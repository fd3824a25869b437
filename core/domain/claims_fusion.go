package domain

// =============================================================================
// Fusion Result
// =============================================================================

// ConflictResolution tells which side won a disputed field.
type ConflictResolution string

const (
	ResolutionEmail         ConflictResolution = "email"
	ResolutionOCR           ConflictResolution = "ocr"
	ResolutionBoosted       ConflictResolution = "boosted"
	ResolutionFallbackError ConflictResolution = "fallback_error"
)

// Conflict records a disagreement between the two sources on one field.
type Conflict struct {
	Field           FieldName          `json:"field_name"`
	EmailValue      string             `json:"email_value"`
	EmailConfidence float64            `json:"email_confidence"`
	OCRValue        string             `json:"ocr_value"`
	OCRConfidence   float64            `json:"ocr_confidence"`
	Resolution      ConflictResolution `json:"resolution"`
	Reason          string             `json:"reason"` // "higher_confidence" | "policy:<field>" | "merge_error"
}

// FusedResult is the single best-effort claim record merged from both sources.
//
// Invariant: every populated field has an entry in FieldConfidences and
// FieldSources; OverallConfidence is derived solely from FieldConfidences.
type FusedResult struct {
	Fields            map[FieldName]FieldValue `json:"fields"`
	FieldConfidences  map[FieldName]float64    `json:"field_confidences"`
	FieldSources      map[FieldName]Source     `json:"field_sources"`
	OverallConfidence float64                  `json:"overall_confidence"`
	Conflicts         []Conflict               `json:"conflicts,omitempty"`
	Warnings          []string                 `json:"warnings,omitempty"`
}

// NewFusedResult returns an empty fused result.
func NewFusedResult() *FusedResult {
	return &FusedResult{
		Fields:           make(map[FieldName]FieldValue),
		FieldConfidences: make(map[FieldName]float64),
		FieldSources:     make(map[FieldName]Source),
	}
}

// SetField populates one final field, keeping the three maps in lockstep.
func (f *FusedResult) SetField(name FieldName, v FieldValue, confidence float64, src Source) {
	f.Fields[name] = v
	f.FieldConfidences[name] = confidence
	f.FieldSources[name] = src
}

// Has reports whether a final value exists for the field.
func (f *FusedResult) Has(name FieldName) bool {
	if f == nil {
		return false
	}
	_, ok := f.Fields[name]
	return ok
}

// MissingRequired returns the required fields absent from the fused record,
// in canonical order.
func (f *FusedResult) MissingRequired() []FieldName {
	var missing []FieldName
	for _, name := range RequiredFields {
		if !f.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
