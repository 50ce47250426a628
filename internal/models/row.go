package models

import (
	"fmt"
	"strings"
)

// Canonical field names produced by header normalization.
const (
	FieldName        = "name"
	FieldSKU         = "sku"
	FieldCategory    = "category"
	FieldFamily      = "family"
	FieldProductLink = "productLink"
	FieldImageURL    = "imageUrl"
	FieldSubImages   = "subImages"
	FieldStatus      = "status"
)

// ReservedColumns are canonical fields that never become attributes.
var ReservedColumns = map[string]bool{
	FieldName:        true,
	FieldSKU:         true,
	FieldProductLink: true,
	FieldImageURL:    true,
	FieldSubImages:   true,
	FieldCategory:    true,
	FieldFamily:      true,
	FieldStatus:      true,
}

// NormalizedRow is one CSV data row after header-synonym mapping.
// Columns preserves the header order; Values maps canonical-or-raw column
// names to raw string cells. Rows live only for the duration of one run.
type NormalizedRow struct {
	Ordinal int
	Columns []string
	Values  map[string]string
}

// Get returns the trimmed value of a field, or "" when absent.
func (r NormalizedRow) Get(field string) string {
	return strings.TrimSpace(r.Values[field])
}

// Label identifies the row in error reports: name, then sku, then ordinal.
func (r NormalizedRow) Label() string {
	if name := r.Get(FieldName); name != "" {
		return name
	}
	if sku := r.Get(FieldSKU); sku != "" {
		return sku
	}
	return fmt.Sprintf("row %d", r.Ordinal)
}
