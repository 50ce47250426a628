package google

import "testing"

func TestExtractSpreadsheetID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://docs.google.com/spreadsheets/d/1AbC_d-9/edit#gid=0", "1AbC_d-9"},
		{"https://docs.google.com/spreadsheets/d/1AbC_d-9", "1AbC_d-9"},
		{"https://docs.google.com/spreadsheets/d/1AbC_d-9/export?format=csv", "1AbC_d-9"},
		// Published-to-web links carry an opaque token, not an API-readable id.
		{"https://docs.google.com/spreadsheets/d/e/2PACX-abc/pubhtml", ""},
		{"https://example.com/export.csv", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractSpreadsheetID(tt.url); got != tt.want {
			t.Errorf("ExtractSpreadsheetID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
