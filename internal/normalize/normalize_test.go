package normalize

import (
	"errors"
	"io"
	"strings"
	"testing"

	"karavan/internal/models"
)

func TestCanonicalHeader(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"name", models.FieldName},
		{"Product Name", models.FieldName},
		{"PRODUCT_NAME", models.FieldName},
		{"sku", models.FieldSKU},
		{"Product SKU", models.FieldSKU},
		{"category", models.FieldCategory},
		{"Category Name", models.FieldCategory},
		{"family_name", models.FieldFamily},
		{"URL", models.FieldProductLink},
		{"product link", models.FieldProductLink},
		{"Image", models.FieldImageURL},
		{"image_url", models.FieldImageURL},
		{"sub images", models.FieldSubImages},
		{"status", models.FieldStatus},
		{"  sku  ", models.FieldSKU},
		// Unmapped headers pass through trimmed, case preserved.
		{"Color", "Color"},
		{" Weight ", "Weight"},
	}

	for _, tt := range tests {
		if got := CanonicalHeader(tt.raw); got != tt.want {
			t.Errorf("CanonicalHeader(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestRowReader_ReadsRows(t *testing.T) {
	csv := "Product Name,SKU,Category,Color\nWidget,W-1,Tools,red\nGadget,G-1,Tools,blue\n"
	rr := NewRowReader(strings.NewReader(csv))

	row, err := rr.Next()
	if err != nil {
		t.Fatalf("first row: %v", err)
	}
	if row.Ordinal != 1 {
		t.Errorf("ordinal = %d, want 1", row.Ordinal)
	}
	if got := row.Get(models.FieldName); got != "Widget" {
		t.Errorf("name = %q, want Widget", got)
	}
	if got := row.Get(models.FieldSKU); got != "W-1" {
		t.Errorf("sku = %q, want W-1", got)
	}
	if got := row.Get("Color"); got != "red" {
		t.Errorf("Color = %q, want red", got)
	}

	wantColumns := []string{models.FieldName, models.FieldSKU, models.FieldCategory, "Color"}
	for i, col := range rr.Columns() {
		if col != wantColumns[i] {
			t.Errorf("column %d = %q, want %q", i, col, wantColumns[i])
		}
	}

	row, err = rr.Next()
	if err != nil {
		t.Fatalf("second row: %v", err)
	}
	if row.Ordinal != 2 || row.Get(models.FieldName) != "Gadget" {
		t.Errorf("unexpected second row: %+v", row)
	}

	if _, err := rr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRowReader_EmptyInput(t *testing.T) {
	rr := NewRowReader(strings.NewReader(""))
	if _, err := rr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRowReader_MalformedCSV(t *testing.T) {
	csv := "name,sku\n\"unterminated,X-1\n"
	rr := NewRowReader(strings.NewReader(csv))

	_, err := rr.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestNormalizedRow_Label(t *testing.T) {
	row := models.NormalizedRow{Ordinal: 3, Values: map[string]string{models.FieldName: "Widget"}}
	if got := row.Label(); got != "Widget" {
		t.Errorf("label = %q, want Widget", got)
	}

	row = models.NormalizedRow{Ordinal: 3, Values: map[string]string{models.FieldSKU: "W-1"}}
	if got := row.Label(); got != "W-1" {
		t.Errorf("label = %q, want W-1", got)
	}

	row = models.NormalizedRow{Ordinal: 3, Values: map[string]string{}}
	if got := row.Label(); got != "row 3" {
		t.Errorf("label = %q, want \"row 3\"", got)
	}
}
