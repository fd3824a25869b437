package fusion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"claims_server/core/domain"
)

func sourceResult(src domain.Source, exts ...domain.FieldExtraction) *domain.SourceExtractionResult {
	r := domain.NewSourceExtractionResult(src)
	for _, e := range exts {
		r.Put(e)
	}
	return r
}

func text(field domain.FieldName, value string, conf float64) domain.FieldExtraction {
	return domain.FieldExtraction{Field: field, Value: domain.TextValue(value), Confidence: conf}
}

func amount(field domain.FieldName, value string, conf float64) domain.FieldExtraction {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return domain.FieldExtraction{Field: field, Value: domain.AmountValue(d), Confidence: conf}
}

func TestMergeExactAgreementBoosts(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	fused := engine.Merge(
		sourceResult(domain.SourceEmail, text(domain.FieldMemberID, "ABC123", 0.90)),
		sourceResult(domain.SourceOCR, text(domain.FieldMemberID, "ABC123", 0.88)),
	)

	if got := fused.Fields[domain.FieldMemberID].String(); got != "ABC123" {
		t.Errorf("member_id = %q, want ABC123", got)
	}
	if conf := fused.FieldConfidences[domain.FieldMemberID]; conf < 0.95 {
		t.Errorf("confidence = %v, want boosted >= 0.95", conf)
	}
	if src := fused.FieldSources[domain.FieldMemberID]; src != domain.SourceBoth {
		t.Errorf("source = %s, want both", src)
	}
	if len(fused.Conflicts) != 0 {
		t.Errorf("agreement recorded conflicts: %+v", fused.Conflicts)
	}
}

func TestMergeDisagreementHigherConfidenceWins(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	fused := engine.Merge(
		sourceResult(domain.SourceEmail, text(domain.FieldMemberID, "ABC123", 0.85)),
		sourceResult(domain.SourceOCR, text(domain.FieldMemberID, "ABD999", 0.70)),
	)

	if got := fused.Fields[domain.FieldMemberID].String(); got != "ABC123" {
		t.Errorf("member_id = %q, want email value ABC123", got)
	}
	if len(fused.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want exactly 1", len(fused.Conflicts))
	}
	c := fused.Conflicts[0]
	if c.Resolution != domain.ResolutionEmail {
		t.Errorf("resolution = %s, want email", c.Resolution)
	}
	if c.Reason != "higher_confidence" {
		t.Errorf("reason = %q, want higher_confidence", c.Reason)
	}
	if c.EmailValue != "ABC123" || c.OCRValue != "ABD999" {
		t.Errorf("conflict values = %q/%q, want both sides recorded", c.EmailValue, c.OCRValue)
	}
}

func TestMergePolicyOverridesConfidence(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	// OCR wins receipt_number by policy despite lower confidence; email wins
	// service_date by policy despite lower confidence.
	fused := engine.Merge(
		sourceResult(domain.SourceEmail,
			text(domain.FieldReceiptNumber, "INV-100", 0.95),
			domain.FieldExtraction{Field: domain.FieldServiceDate, Value: mustDate(t, "2024-03-15"), Confidence: 0.60},
		),
		sourceResult(domain.SourceOCR,
			text(domain.FieldReceiptNumber, "INV-200", 0.70),
			domain.FieldExtraction{Field: domain.FieldServiceDate, Value: mustDate(t, "2024-03-16"), Confidence: 0.90},
		),
	)

	if got := fused.Fields[domain.FieldReceiptNumber].String(); got != "INV-200" {
		t.Errorf("receipt_number = %q, want ocr value INV-200", got)
	}
	if got := fused.Fields[domain.FieldServiceDate].String(); got != "2024-03-15" {
		t.Errorf("service_date = %q, want email value 2024-03-15", got)
	}
	if len(fused.Conflicts) != 2 {
		t.Fatalf("conflicts = %d, want 2", len(fused.Conflicts))
	}
	for _, c := range fused.Conflicts {
		if want := "policy:" + string(c.Field); c.Reason != want {
			t.Errorf("field %s reason = %q, want %q", c.Field, c.Reason, want)
		}
	}
}

func TestMergeFuzzyAgreement(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	fused := engine.Merge(
		sourceResult(domain.SourceEmail, text(domain.FieldProviderName, "Klinik Mewah Sdn Bhd", 0.80)),
		sourceResult(domain.SourceOCR, text(domain.FieldProviderName, "KLINIK MEWAH SDN BHD.", 0.85)),
	)

	if src := fused.FieldSources[domain.FieldProviderName]; src != domain.SourceBoth {
		t.Fatalf("source = %s, want both (fuzzy agreement)", src)
	}
	// Fuzzy boost is 0.05 on the higher confidence.
	if conf := fused.FieldConfidences[domain.FieldProviderName]; conf != 0.90 {
		t.Errorf("confidence = %v, want 0.90", conf)
	}
	if len(fused.Conflicts) != 0 {
		t.Errorf("fuzzy agreement recorded conflicts: %+v", fused.Conflicts)
	}
}

func TestMergeBoostNeverExceedsCeiling(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	fused := engine.Merge(
		sourceResult(domain.SourceEmail, text(domain.FieldMemberID, "ABC123", 0.95)),
		sourceResult(domain.SourceOCR, text(domain.FieldMemberID, "ABC123", 0.97)),
	)

	if conf := fused.FieldConfidences[domain.FieldMemberID]; conf != 0.98 {
		t.Errorf("confidence = %v, want capped at 0.98", conf)
	}
}

func TestMergeAbsentSidePassthrough(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	email := sourceResult(domain.SourceEmail,
		text(domain.FieldMemberID, "ABC123", 0.90),
		amount(domain.FieldTotalAmount, "150.80", 0.85),
	)

	fused := engine.Merge(email, nil)

	if conf := fused.FieldConfidences[domain.FieldMemberID]; conf != 0.90 {
		t.Errorf("confidence = %v, want original 0.90", conf)
	}
	if src := fused.FieldSources[domain.FieldMemberID]; src != domain.SourceEmail {
		t.Errorf("source = %s, want email", src)
	}
	if len(fused.Conflicts) != 0 {
		t.Errorf("single-source merge recorded conflicts: %+v", fused.Conflicts)
	}
}

func TestMergeKindMismatchFallsBackToOCR(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	fused := engine.Merge(
		sourceResult(domain.SourceEmail, text(domain.FieldTotalAmount, "one fifty", 0.90)),
		sourceResult(domain.SourceOCR, amount(domain.FieldTotalAmount, "150.80", 0.80)),
	)

	if got := fused.Fields[domain.FieldTotalAmount].String(); got != "150.80" {
		t.Errorf("total_amount = %q, want ocr fallback 150.80", got)
	}
	if len(fused.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(fused.Conflicts))
	}
	c := fused.Conflicts[0]
	if c.Resolution != domain.ResolutionFallbackError {
		t.Errorf("resolution = %s, want fallback_error", c.Resolution)
	}
	if c.Reason != "merge_error" {
		t.Errorf("reason = %q, want merge_error", c.Reason)
	}
}

func TestMergeOverallConfidence(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	tests := []struct {
		name  string
		email *domain.SourceExtractionResult
		want  float64
	}{
		{
			name: "required only is the plain mean",
			email: sourceResult(domain.SourceEmail,
				text(domain.FieldMemberID, "ABC123", 0.90),
				amount(domain.FieldTotalAmount, "10.00", 0.60),
			),
			want: 0.75,
		},
		{
			name: "optional blends at half weight",
			email: sourceResult(domain.SourceEmail,
				text(domain.FieldMemberID, "ABC123", 0.90), // required mean 0.90
				text(domain.FieldProviderName, "Klinik", 0.30), // optional mean 0.30
			),
			want: (2*0.90 + 0.30) / 3,
		},
		{
			name:  "no required fields yields zero",
			email: sourceResult(domain.SourceEmail, text(domain.FieldProviderName, "Klinik", 0.99)),
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fused := engine.Merge(tt.email, nil)
			if diff := fused.OverallConfidence - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("overall = %v, want %v", fused.OverallConfidence, tt.want)
			}
		})
	}
}

func TestMergeRequiredAbsentWarns(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	fused := engine.Merge(
		sourceResult(domain.SourceEmail, text(domain.FieldMemberID, "ABC123", 0.90)),
		nil,
	)

	// service_date, receipt_number and total_amount are required and absent.
	if len(fused.Warnings) != 3 {
		t.Errorf("warnings = %v, want one per absent required field", fused.Warnings)
	}
	if missing := fused.MissingRequired(); len(missing) != 3 {
		t.Errorf("missing required = %v, want 3 fields", missing)
	}
}

func TestMergeDeterministic(t *testing.T) {
	engine := NewEngine(DefaultOptions())

	email := sourceResult(domain.SourceEmail,
		text(domain.FieldMemberID, "ABC123", 0.85),
		text(domain.FieldReceiptNumber, "INV-100", 0.80),
		domain.FieldExtraction{Field: domain.FieldServiceDate, Value: mustDate(t, "2024-03-15"), Confidence: 0.70},
	)
	ocr := sourceResult(domain.SourceOCR,
		text(domain.FieldMemberID, "ABD999", 0.70),
		text(domain.FieldReceiptNumber, "INV-200", 0.75),
		domain.FieldExtraction{Field: domain.FieldServiceDate, Value: mustDate(t, "2024-03-16"), Confidence: 0.90},
	)

	first := engine.Merge(email, ocr)
	for i := 0; i < 10; i++ {
		next := engine.Merge(email, ocr)
		if next.OverallConfidence != first.OverallConfidence {
			t.Fatalf("run %d: overall %v != %v", i, next.OverallConfidence, first.OverallConfidence)
		}
		if len(next.Conflicts) != len(first.Conflicts) {
			t.Fatalf("run %d: conflict count changed", i)
		}
		for j := range next.Conflicts {
			if next.Conflicts[j] != first.Conflicts[j] {
				t.Fatalf("run %d: conflict order changed: %+v vs %+v", i, next.Conflicts[j], first.Conflicts[j])
			}
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Klinik Mewah", "klinik  mewah", 1.0, 1.0},
		{"Klinik Mewah Sdn Bhd", "Klinik Mewah Sdn Bhd.", 0.90, 0.999},
		{"ABC123", "XYZ999", 0.0, 0.2},
		{"", "anything", 0.0, 0.0},
	}
	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("Similarity(%q, %q) = %v, want in [%v,%v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func mustDate(t *testing.T, s string) domain.FieldValue {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return domain.DateValue(d)
}
