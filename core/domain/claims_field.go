package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Claim Fields
// =============================================================================

// FieldName identifies one attribute of a claim record.
type FieldName string

const (
	FieldMemberID        FieldName = "member_id"
	FieldMemberName      FieldName = "member_name"
	FieldProviderName    FieldName = "provider_name"
	FieldProviderAddress FieldName = "provider_address"
	FieldServiceDate     FieldName = "service_date"
	FieldReceiptNumber   FieldName = "receipt_number"
	FieldTotalAmount     FieldName = "total_amount"
	FieldPolicyNumber    FieldName = "policy_number"
	FieldItemizedCharges FieldName = "itemized_charges"
	FieldTaxAmount       FieldName = "tax_amount"
)

// AllFields lists every claim field in canonical order. Iteration over maps is
// randomized in Go, so anything that must be deterministic (fusion output,
// audit rows, API responses) walks this slice instead.
var AllFields = []FieldName{
	FieldMemberID,
	FieldMemberName,
	FieldProviderName,
	FieldProviderAddress,
	FieldServiceDate,
	FieldReceiptNumber,
	FieldTotalAmount,
	FieldPolicyNumber,
	FieldItemizedCharges,
	FieldTaxAmount,
}

// RequiredFields are the fields a claim cannot be auto-submitted without.
var RequiredFields = []FieldName{
	FieldMemberID,
	FieldServiceDate,
	FieldReceiptNumber,
	FieldTotalAmount,
}

// IsRequired reports whether f belongs to the required-field set.
func IsRequired(f FieldName) bool {
	for _, r := range RequiredFields {
		if r == f {
			return true
		}
	}
	return false
}

// =============================================================================
// Field Kinds
// =============================================================================

// FieldKind is the value type a field carries after normalization.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindAmount FieldKind = "amount"
	KindDate   FieldKind = "date"
)

// fieldKinds maps each field to its normalized value kind.
var fieldKinds = map[FieldName]FieldKind{
	FieldMemberID:        KindText,
	FieldMemberName:      KindText,
	FieldProviderName:    KindText,
	FieldProviderAddress: KindText,
	FieldServiceDate:     KindDate,
	FieldReceiptNumber:   KindText,
	FieldTotalAmount:     KindAmount,
	FieldPolicyNumber:    KindText,
	FieldItemizedCharges: KindText,
	FieldTaxAmount:       KindAmount,
}

// KindOf returns the value kind for a field. Unknown fields are text.
func KindOf(f FieldName) FieldKind {
	if k, ok := fieldKinds[f]; ok {
		return k
	}
	return KindText
}

// =============================================================================
// Field Value
// =============================================================================

// FieldValue is a typed claim field value. Exactly one of Text, Amount, Date is
// meaningful, selected by Kind.
type FieldValue struct {
	Kind   FieldKind       `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
	Date   time.Time       `json:"date,omitempty"`
}

// TextValue builds a text field value.
func TextValue(s string) FieldValue {
	return FieldValue{Kind: KindText, Text: s}
}

// AmountValue builds a monetary field value.
func AmountValue(d decimal.Decimal) FieldValue {
	return FieldValue{Kind: KindAmount, Amount: d}
}

// DateValue builds a calendar-date field value (truncated to date, UTC).
func DateValue(t time.Time) FieldValue {
	return FieldValue{
		Kind: KindDate,
		Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
	}
}

// Equal reports kind-aware exact equality.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindAmount:
		return v.Amount.Equal(o.Amount)
	case KindDate:
		return v.Date.Equal(o.Date)
	default:
		return v.Text == o.Text
	}
}

// String renders the value for logs, audit rows and the admin API.
func (v FieldValue) String() string {
	switch v.Kind {
	case KindAmount:
		return v.Amount.StringFixed(2)
	case KindDate:
		return v.Date.Format("2006-01-02")
	default:
		return v.Text
	}
}

// IsZero reports whether the value is empty for its kind.
func (v FieldValue) IsZero() bool {
	switch v.Kind {
	case KindAmount:
		return v.Amount.IsZero()
	case KindDate:
		return v.Date.IsZero()
	default:
		return strings.TrimSpace(v.Text) == ""
	}
}
