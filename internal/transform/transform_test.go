package transform

import (
	"testing"

	"github.com/crm-migration-api/internal/models"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		tr    models.Transformation
		input string
		want  string
	}{
		{"default trims", "", "  Acme Corp  ", "Acme Corp"},
		{"trim", models.TransformTrim, "\thello\n", "hello"},
		{"uppercase", models.TransformUppercase, " acme ", "ACME"},
		{"lowercase", models.TransformLowercase, " ACME ", "acme"},
		{"capitalize words", models.TransformCapitalize, "acme WIDGET company", "Acme Widget Company"},
		{"capitalize empty", models.TransformCapitalize, "   ", ""},
		{"phone 10 digits", models.TransformPhoneFormat, "555.123.4567", "(555) 123-4567"},
		{"phone with country code", models.TransformPhoneFormat, "1-555-123-4567", "+1 (555) 123-4567"},
		{"phone too short keeps digits", models.TransformPhoneFormat, "12345", "12345"},
		{"date iso passthrough", models.TransformDateFormat, "2024-03-15", "2024-03-15"},
		{"date us format", models.TransformDateFormat, "03/15/2024", "2024-03-15"},
		{"date long format", models.TransformDateFormat, "Mar 15, 2024", "2024-03-15"},
		{"date unparseable passes through", models.TransformDateFormat, "not a date", "not a date"},
		{"date empty", models.TransformDateFormat, "  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.tr, tt.input)
			if err != nil {
				t.Fatalf("Apply(%q, %q) unexpected error: %v", tt.tr, tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Apply(%q, %q) = %q, want %q", tt.tr, tt.input, got, tt.want)
			}
		})
	}
}

func TestApplyUnknownTransformation(t *testing.T) {
	if _, err := Apply("rot13", "value"); err == nil {
		t.Error("Apply with unknown transformation should return an error")
	}
}

func TestParseDateRejectsOutOfRange(t *testing.T) {
	invalid := []string{"2024-13-01", "02/30/2024", "45-45-2024", ""}
	for _, s := range invalid {
		if _, err := ParseDate(s); err == nil {
			t.Errorf("ParseDate(%q) should fail", s)
		}
	}
}

func TestDigits(t *testing.T) {
	if got := Digits("+1 (555) 123-4567"); got != "15551234567" {
		t.Errorf("Digits() = %q, want 15551234567", got)
	}
}
