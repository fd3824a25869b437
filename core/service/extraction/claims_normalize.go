package extraction

import (
	"fmt"
	"strings"
	"time"

	"claims_server/core/domain"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Value Normalization
// =============================================================================

// dateLayouts are the accepted receipt/email date shapes, most specific first.
// Day-first layouts come before month-first: MYR receipts write dd/mm/yyyy.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02/01/06",
	"2 January 2006",
	"2 Jan 2006",
}

// NormalizeValue converts a raw captured string into the field's typed value.
// A value that cannot be normalized returns an error; callers demote that to
// a warning and an empty extraction, never a crash.
func NormalizeValue(field domain.FieldName, raw string) (domain.FieldValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.FieldValue{}, fmt.Errorf("%s: empty value", field)
	}

	switch domain.KindOf(field) {
	case domain.KindAmount:
		return normalizeAmount(field, raw)
	case domain.KindDate:
		return normalizeDate(field, raw)
	default:
		return domain.TextValue(collapseSpaces(raw)), nil
	}
}

func normalizeAmount(field domain.FieldName, raw string) (domain.FieldValue, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "RM")
	s = strings.TrimPrefix(s, "MYR")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return domain.FieldValue{}, fmt.Errorf("%s: unparseable amount %q", field, raw)
	}
	if !d.IsPositive() {
		return domain.FieldValue{}, fmt.Errorf("%s: non-positive amount %q", field, raw)
	}
	return domain.AmountValue(d), nil
}

func normalizeDate(field domain.FieldName, raw string) (domain.FieldValue, error) {
	s := collapseSpaces(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DateValue(t), nil
		}
	}
	return domain.FieldValue{}, fmt.Errorf("%s: unparseable date %q", field, raw)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
