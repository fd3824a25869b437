// Package extraction turns unstructured claim text into candidate field
// values with per-field confidence.
//
// Extraction is pattern-based: each field carries an ordered list of labeled
// regular expressions with static reliability weights. Patterns are tried in
// declaration order and the first match wins; earlier patterns are assumed
// more reliable and take precedence on a match, not on weight.
package extraction

import (
	"fmt"
	"regexp"

	"claims_server/core/domain"
)

// =============================================================================
// Pattern Table
// =============================================================================

// PatternSpec declares one extraction rule as data: which field it feeds, the
// expression (first capture group is the raw value) and the static reliability
// weight assigned at definition time.
type PatternSpec struct {
	ID     string
	Field  domain.FieldName
	Expr   string
	Weight float64
}

// DefaultPatternTable is the built-in rule set for claim emails and receipts.
// Order within a field is precedence.
var DefaultPatternTable = []PatternSpec{
	// Member ID
	{ID: "member_id.labeled", Field: domain.FieldMemberID, Expr: `(?i)member\s*(?:id|no\.?|number)\s*[:#]?\s*([A-Z]{2,4}\d{3,10})`, Weight: 0.95},
	{ID: "member_id.card", Field: domain.FieldMemberID, Expr: `(?i)card\s*(?:holder)?\s*(?:id|no\.?)\s*[:#]?\s*([A-Z]{2,4}\d{3,10})`, Weight: 0.85},
	{ID: "member_id.bare", Field: domain.FieldMemberID, Expr: `\b([A-Z]{3}\d{5,8})\b`, Weight: 0.60},

	// Member name
	{ID: "member_name.labeled", Field: domain.FieldMemberName, Expr: `(?i)(?:member|patient|claimant)\s*name\s*[:#]?\s*([A-Za-z][A-Za-z .'/@-]{2,60})`, Weight: 0.90},
	{ID: "member_name.for", Field: domain.FieldMemberName, Expr: `(?i)claim\s+for\s+([A-Za-z][A-Za-z .'/-]{2,60})`, Weight: 0.65},

	// Provider
	{ID: "provider_name.labeled", Field: domain.FieldProviderName, Expr: `(?i)(?:provider|clinic|hospital|panel)\s*(?:name)?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9 .,&'()/-]{2,80})`, Weight: 0.90},
	{ID: "provider_name.suffix", Field: domain.FieldProviderName, Expr: `(?m)^([A-Z][A-Za-z0-9 .,&'-]{2,60}(?:Clinic|Hospital|Medical Centre|Medical Center|Pharmacy))\b`, Weight: 0.70},
	{ID: "provider_address.labeled", Field: domain.FieldProviderAddress, Expr: `(?i)address\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9 .,#/-]{8,160})`, Weight: 0.80},

	// Service date
	{ID: "service_date.labeled", Field: domain.FieldServiceDate, Expr: `(?i)(?:service|visit|treatment|consultation)\s*date\s*[:#]?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}|\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4})`, Weight: 0.95},
	{ID: "service_date.generic", Field: domain.FieldServiceDate, Expr: `(?i)\bdate\s*[:#]?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}|\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4})`, Weight: 0.75},
	{ID: "service_date.bare", Field: domain.FieldServiceDate, Expr: `\b(\d{1,2}/\d{1,2}/\d{4})\b`, Weight: 0.55},

	// Receipt number
	{ID: "receipt_number.labeled", Field: domain.FieldReceiptNumber, Expr: `(?i)(?:receipt|invoice|bill)\s*(?:no\.?|number|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]{3,24})`, Weight: 0.95},
	{ID: "receipt_number.ref", Field: domain.FieldReceiptNumber, Expr: `(?i)\bref(?:erence)?\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]{3,24})`, Weight: 0.70},

	// Total amount. MYR receipts write RM with comma thousands separators.
	{ID: "total_amount.labeled", Field: domain.FieldTotalAmount, Expr: `(?i)(?:grand\s+)?total\s*(?:amount|payable|\(MYR\))?\s*[:#]?\s*(?:RM|MYR)?\s*([\d,]+\.\d{2})`, Weight: 0.95},
	{ID: "total_amount.claimed", Field: domain.FieldTotalAmount, Expr: `(?i)(?:claim(?:ed)?|amount)\s*(?:amount)?\s*[:#]?\s*(?:RM|MYR)\s*([\d,]+\.\d{2})`, Weight: 0.85},
	{ID: "total_amount.currency", Field: domain.FieldTotalAmount, Expr: `(?:RM|MYR)\s*([\d,]+\.\d{2})`, Weight: 0.60},

	// Policy number
	{ID: "policy_number.labeled", Field: domain.FieldPolicyNumber, Expr: `(?i)policy\s*(?:no\.?|number)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{4,20})`, Weight: 0.95},
	{ID: "policy_number.plan", Field: domain.FieldPolicyNumber, Expr: `(?i)plan\s*(?:no\.?|number)\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{4,20})`, Weight: 0.75},

	// Itemized charges: capture the block between the items header and the total line.
	{ID: "itemized_charges.block", Field: domain.FieldItemizedCharges, Expr: `(?is)(?:itemi[sz]ed|description|particulars)\s*(?:charges)?\s*[:#]?\s*\n(.{10,800}?)\n\s*(?:grand\s+)?total`, Weight: 0.70},

	// Tax amount
	{ID: "tax_amount.labeled", Field: domain.FieldTaxAmount, Expr: `(?i)(?:sst|gst|service\s+tax|tax)\s*(?:\(\d+%\))?\s*[:#]?\s*(?:RM|MYR)?\s*([\d,]+\.\d{2})`, Weight: 0.85},
}

// =============================================================================
// Compiled Rules
// =============================================================================

// Rule is one compiled pattern.
type Rule struct {
	ID     string
	Field  domain.FieldName
	Re     *regexp.Regexp
	Weight float64
}

// Ruleset holds the compiled ordered rules per field. Immutable after Compile.
type Ruleset struct {
	byField map[domain.FieldName][]Rule
}

// Compile builds a Ruleset from a declarative table. Declaration order is
// preserved per field.
func Compile(table []PatternSpec) (*Ruleset, error) {
	rs := &Ruleset{byField: make(map[domain.FieldName][]Rule)}
	for _, spec := range table {
		re, err := regexp.Compile(spec.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", spec.ID, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("pattern %s: no capture group", spec.ID)
		}
		rs.byField[spec.Field] = append(rs.byField[spec.Field], Rule{
			ID:     spec.ID,
			Field:  spec.Field,
			Re:     re,
			Weight: spec.Weight,
		})
	}
	return rs, nil
}

// MustCompile compiles the table and panics on error. For the built-in table.
func MustCompile(table []PatternSpec) *Ruleset {
	rs, err := Compile(table)
	if err != nil {
		panic(err)
	}
	return rs
}

// RulesFor returns the ordered rules for a field.
func (rs *Ruleset) RulesFor(f domain.FieldName) []Rule {
	return rs.byField[f]
}
