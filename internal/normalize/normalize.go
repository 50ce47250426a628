package normalize

import (
	"encoding/csv"
	"io"
	"strings"

	"karavan/internal/models"
)

// headerSynonyms maps lower-cased, trimmed column headers to canonical
// field names. Unmapped headers pass through verbatim and are treated as
// attribute columns downstream.
var headerSynonyms = map[string]string{
	"name":           models.FieldName,
	"product_name":   models.FieldName,
	"product name":   models.FieldName,
	"sku":            models.FieldSKU,
	"product_sku":    models.FieldSKU,
	"product sku":    models.FieldSKU,
	"family":         models.FieldFamily,
	"family_name":    models.FieldFamily,
	"family name":    models.FieldFamily,
	"category":       models.FieldCategory,
	"category_name":  models.FieldCategory,
	"category name":  models.FieldCategory,
	"productlink":    models.FieldProductLink,
	"product_link":   models.FieldProductLink,
	"product link":   models.FieldProductLink,
	"url":            models.FieldProductLink,
	"imageurl":       models.FieldImageURL,
	"image_url":      models.FieldImageURL,
	"image url":      models.FieldImageURL,
	"image":          models.FieldImageURL,
	"subimages":      models.FieldSubImages,
	"sub_images":     models.FieldSubImages,
	"sub images":     models.FieldSubImages,
	"status":         models.FieldStatus,
}

// CanonicalHeader maps one raw CSV header to its canonical field name.
func CanonicalHeader(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := headerSynonyms[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

// RowReader yields NormalizedRow values from raw CSV text. It is lazy and
// consumed once: the header is read on the first Next call, and Next returns
// io.EOF after the last data row. Malformed CSV syntax surfaces as an error;
// data content (missing name/sku) never fails here.
type RowReader struct {
	cr      *csv.Reader
	columns []string
	ordinal int
}

func NewRowReader(r io.Reader) *RowReader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	return &RowReader{cr: cr}
}

// Columns returns the canonical column names, available after the first Next.
func (rr *RowReader) Columns() []string {
	return rr.columns
}

func (rr *RowReader) Next() (models.NormalizedRow, error) {
	if rr.columns == nil {
		header, err := rr.cr.Read()
		if err != nil {
			return models.NormalizedRow{}, err
		}
		columns := make([]string, len(header))
		for i, h := range header {
			columns[i] = CanonicalHeader(h)
		}
		rr.columns = columns
	}

	record, err := rr.cr.Read()
	if err != nil {
		return models.NormalizedRow{}, err
	}

	rr.ordinal++
	values := make(map[string]string, len(record))
	for i, cell := range record {
		if i < len(rr.columns) {
			values[rr.columns[i]] = cell
		}
	}

	return models.NormalizedRow{
		Ordinal: rr.ordinal,
		Columns: rr.columns,
		Values:  values,
	}, nil
}
