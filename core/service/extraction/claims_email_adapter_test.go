package extraction

import (
	"strings"
	"testing"

	"claims_server/core/domain"
	"claims_server/core/port/out"
)

func TestEmailAdapterSubjectPrecedence(t *testing.T) {
	adapter := NewEmailAdapter(NewFieldExtractor(MustCompile(DefaultPatternTable)))

	subject := "Claim submission Member ID: ABC12345"
	body := strings.Join([]string{
		"Dear panel,",
		"Member ID: XYZ99999",
		"Visit Date: 15/03/2024",
		"Invoice No: INV-2024-00831",
		"Grand Total: RM 150.80",
		"Regards",
	}, "\n")

	result := adapter.Extract(subject, body)

	member, ok := result.Get(domain.FieldMemberID)
	if !ok {
		t.Fatal("member_id not extracted")
	}
	// Subject hit wins over the conflicting body value.
	if got := member.Value.String(); got != "ABC12345" {
		t.Errorf("member_id = %q, want subject value ABC12345", got)
	}
	if member.Source != domain.SourceEmail {
		t.Errorf("source = %s, want email", member.Source)
	}

	date, ok := result.Get(domain.FieldServiceDate)
	if !ok {
		t.Fatal("service_date not extracted from body")
	}
	if got := date.Value.String(); got != "2024-03-15" {
		t.Errorf("service_date = %q, want 2024-03-15", got)
	}

	total, ok := result.Get(domain.FieldTotalAmount)
	if !ok {
		t.Fatal("total_amount not extracted from body")
	}
	if got := total.Value.String(); got != "150.80" {
		t.Errorf("total_amount = %q, want 150.80", got)
	}
}

func TestEmailAdapterMissingFieldsAreAbsent(t *testing.T) {
	adapter := NewEmailAdapter(NewFieldExtractor(MustCompile(DefaultPatternTable)))

	result := adapter.Extract("hello", "no claim content at all")
	for _, field := range domain.AllFields {
		if _, ok := result.Get(field); ok {
			t.Errorf("field %s extracted from empty content", field)
		}
	}
	if got := result.OverallConfidence(); got != 0 {
		t.Errorf("overall confidence = %v, want 0", got)
	}
}

func TestOCRAdapterNormalize(t *testing.T) {
	adapter := NewOCRAdapter()

	res := &out.OCRResult{
		RawText: "KLINIK MEWAH ...",
		Fields: []out.OCRField{
			{Field: domain.FieldTotalAmount, RawValue: "RM 1,234.50", Confidence: 0.92},
			{Field: domain.FieldServiceDate, RawValue: "15/03/2024", Confidence: 0.88},
			{Field: domain.FieldReceiptNumber, RawValue: "not-a-problem", Confidence: 1.7},
			{Field: domain.FieldName("barcode"), RawValue: "x", Confidence: 0.9},
			{Field: domain.FieldTaxAmount, RawValue: "n/a", Confidence: 0.8},
		},
	}

	result := adapter.Normalize(res)

	total, ok := result.Get(domain.FieldTotalAmount)
	if !ok {
		t.Fatal("total_amount missing")
	}
	if got := total.Value.String(); got != "1234.50" {
		t.Errorf("total_amount = %q, want 1234.50", got)
	}
	if total.Confidence != 0.92 {
		t.Errorf("confidence = %v, want upstream 0.92", total.Confidence)
	}
	if total.Source != domain.SourceOCR {
		t.Errorf("source = %s, want ocr", total.Source)
	}

	receipt, ok := result.Get(domain.FieldReceiptNumber)
	if !ok {
		t.Fatal("receipt_number missing")
	}
	if receipt.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", receipt.Confidence)
	}

	// Unknown field and unparseable tax amount become warnings, not entries.
	if _, ok := result.Get(domain.FieldName("barcode")); ok {
		t.Error("unknown field should be dropped")
	}
	if _, ok := result.Get(domain.FieldTaxAmount); ok {
		t.Error("unparseable amount should be dropped")
	}
	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %v, want 2 entries", result.Warnings)
	}
}

func TestOCRAdapterNilResult(t *testing.T) {
	result := NewOCRAdapter().Normalize(nil)
	if len(result.Fields) != 0 || len(result.Warnings) != 0 {
		t.Errorf("nil input should yield empty result, got %+v", result)
	}
}
