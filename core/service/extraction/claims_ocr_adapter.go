package extraction

import (
	"fmt"

	"claims_server/core/domain"
	"claims_server/core/port/out"
)

// =============================================================================
// OCR Extraction Adapter
// =============================================================================

// OCRAdapter normalizes the OCR engine's structured output into the shared
// per-field extraction shape. The engine does its own field structuring, so
// its per-field confidences are trusted as-is; only value normalization is
// applied here so both sources share one representation.
type OCRAdapter struct{}

// NewOCRAdapter creates the OCR-side extraction adapter.
func NewOCRAdapter() *OCRAdapter {
	return &OCRAdapter{}
}

// Normalize converts an OCR result into a SourceExtractionResult tagged
// "ocr". Unknown field names and unnormalizable values become warnings.
func (a *OCRAdapter) Normalize(res *out.OCRResult) *domain.SourceExtractionResult {
	result := domain.NewSourceExtractionResult(domain.SourceOCR)
	if res == nil {
		return result
	}

	for _, f := range res.Fields {
		if domain.KindOf(f.Field) == domain.KindText && !knownField(f.Field) {
			result.Warn(fmt.Sprintf("ocr returned unknown field %q", f.Field))
			continue
		}
		value, err := NormalizeValue(f.Field, f.RawValue)
		if err != nil {
			result.Warn("ocr: " + err.Error())
			continue
		}
		result.Put(domain.FieldExtraction{
			Field:          f.Field,
			Value:          value,
			Confidence:     clampConfidence(f.Confidence),
			MatchedPattern: "ocr.engine",
		})
	}
	return result
}

func knownField(f domain.FieldName) bool {
	for _, known := range domain.AllFields {
		if known == f {
			return true
		}
	}
	return false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
