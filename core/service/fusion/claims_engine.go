// Package fusion merges the email-side and OCR-side extractions of one claim
// into a single best-effort record with deterministic conflict resolution.
//
// Merge is a pure function of its inputs and the options fixed at
// construction; it never fails as a whole, it degrades field by field.
package fusion

import (
	"fmt"

	"claims_server/core/domain"
)

// =============================================================================
// Engine
// =============================================================================

// Options are the fusion constants, built once from config at startup.
type Options struct {
	ConfidenceCeiling   float64 // cap on any boosted or overall confidence
	ExactMatchBoost     float64 // added when both sources agree exactly
	FuzzyMatchBoost     float64 // added when strings agree above the threshold
	SimilarityThreshold float64 // fuzzy-equality cutoff for text fields
	Policy              Policy
}

// DefaultOptions returns the shipped fusion constants.
func DefaultOptions() Options {
	return Options{
		ConfidenceCeiling:   0.98,
		ExactMatchBoost:     0.10,
		FuzzyMatchBoost:     0.05,
		SimilarityThreshold: 0.85,
		Policy:              DefaultPolicy(),
	}
}

// Engine merges per-source extraction results. Stateless, safe for
// concurrent use.
type Engine struct {
	opts Options
}

// NewEngine creates a fusion engine with fixed options.
func NewEngine(opts Options) *Engine {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	return &Engine{opts: opts}
}

// Merge combines the two sides into one FusedResult. Either side may be nil;
// the other's values pass through unchanged. Fields are visited in canonical
// order so the output, including conflict order, is deterministic.
func (e *Engine) Merge(email, ocr *domain.SourceExtractionResult) *domain.FusedResult {
	fused := domain.NewFusedResult()
	fused.Warnings = append(fused.Warnings, sourceWarnings(email)...)
	fused.Warnings = append(fused.Warnings, sourceWarnings(ocr)...)

	for _, field := range domain.AllFields {
		ev, eok := email.Get(field)
		ov, ook := ocr.Get(field)

		switch {
		case !eok && !ook:
			if domain.IsRequired(field) {
				fused.Warnings = append(fused.Warnings, fmt.Sprintf("required field %s absent from both sources", field))
			}
		case eok && !ook:
			fused.SetField(field, ev.Value, ev.Confidence, domain.SourceEmail)
		case !eok && ook:
			fused.SetField(field, ov.Value, ov.Confidence, domain.SourceOCR)
		default:
			e.mergeField(fused, field, ev, ov)
		}
	}

	fused.OverallConfidence = e.overall(fused)
	return fused
}

// mergeField resolves one field present on both sides: agreement boosts,
// disagreement consults the policy table, and a merge error falls back to
// the OCR value with a fallback_error conflict.
func (e *Engine) mergeField(fused *domain.FusedResult, field domain.FieldName, ev, ov domain.FieldExtraction) {
	if ev.Value.Kind != ov.Value.Kind {
		// Unexpected value shapes never fail the whole merge. The receipt
		// side is kept and the degradation is recorded as a conflict.
		fused.SetField(field, ov.Value, ov.Confidence, domain.SourceOCR)
		fused.Conflicts = append(fused.Conflicts, domain.Conflict{
			Field:           field,
			EmailValue:      ev.Value.String(),
			EmailConfidence: ev.Confidence,
			OCRValue:        ov.Value.String(),
			OCRConfidence:   ov.Confidence,
			Resolution:      domain.ResolutionFallbackError,
			Reason:          "merge_error",
		})
		return
	}

	if agree, boost := e.agreement(ev.Value, ov.Value); agree {
		winner := ev
		if ov.Confidence > ev.Confidence {
			winner = ov
		}
		conf := winner.Confidence + boost
		if conf > e.opts.ConfidenceCeiling {
			conf = e.opts.ConfidenceCeiling
		}
		fused.SetField(field, winner.Value, conf, domain.SourceBoth)
		return
	}

	winner, loserResolution, reason := e.resolve(field, ev, ov)
	fused.SetField(field, winner.Value, winner.Confidence, winner.Source)
	fused.Conflicts = append(fused.Conflicts, domain.Conflict{
		Field:           field,
		EmailValue:      ev.Value.String(),
		EmailConfidence: ev.Confidence,
		OCRValue:        ov.Value.String(),
		OCRConfidence:   ov.Confidence,
		Resolution:      loserResolution,
		Reason:          reason,
	})
}

// agreement reports whether the two values agree and with which boost.
func (e *Engine) agreement(a, b domain.FieldValue) (bool, float64) {
	if a.Equal(b) {
		return true, e.opts.ExactMatchBoost
	}
	if a.Kind == domain.KindText && Similarity(a.Text, b.Text) >= e.opts.SimilarityThreshold {
		return true, e.opts.FuzzyMatchBoost
	}
	return false, 0
}

// resolve picks the winning side of a disagreement per the policy table and
// returns it with the conflict's resolution tag and reason.
func (e *Engine) resolve(field domain.FieldName, ev, ov domain.FieldExtraction) (domain.FieldExtraction, domain.ConflictResolution, string) {
	switch e.opts.Policy.For(field) {
	case PreferEmail:
		return ev, domain.ResolutionEmail, fmt.Sprintf("policy:%s", field)
	case PreferOCR:
		return ov, domain.ResolutionOCR, fmt.Sprintf("policy:%s", field)
	default:
		if ov.Confidence > ev.Confidence {
			return ov, domain.ResolutionOCR, "higher_confidence"
		}
		return ev, domain.ResolutionEmail, "higher_confidence"
	}
}

// overall blends the required-field mean (weight 2) with the optional-field
// mean (weight 1). Zero required fields present yields 0 regardless of
// optional coverage.
func (e *Engine) overall(fused *domain.FusedResult) float64 {
	var reqSum, optSum float64
	var reqN, optN int
	for field, conf := range fused.FieldConfidences {
		if domain.IsRequired(field) {
			reqSum += conf
			reqN++
		} else {
			optSum += conf
			optN++
		}
	}
	if reqN == 0 {
		return 0
	}
	reqMean := reqSum / float64(reqN)
	overall := reqMean
	if optN > 0 {
		overall = (2*reqMean + optSum/float64(optN)) / 3
	}
	if overall > e.opts.ConfidenceCeiling {
		overall = e.opts.ConfidenceCeiling
	}
	return overall
}

func sourceWarnings(r *domain.SourceExtractionResult) []string {
	if r == nil {
		return nil
	}
	return r.Warnings
}
