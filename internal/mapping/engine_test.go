package mapping

import (
	"testing"

	"github.com/crm-migration-api/internal/models"
)

func TestSuggestMappings(t *testing.T) {
	headers := []string{"Company", "E-Mail Address", "Phone Number", "Street", "Notes"}
	got := SuggestMappings(headers, models.EntityClients)

	want := map[string]int{
		"name":    0, // alias "company"
		"email":   1, // alias "e-mail" inside "e-mail address"
		"phone":   2,
		"address": 3, // alias "street"
		"notes":   4,
	}
	for field, idx := range want {
		if got[field] != idx {
			t.Errorf("suggestion for %s = %d, want %d (all: %v)", field, got[field], idx, got)
		}
	}
}

func TestSuggestMappingsShortNamesMatchExactOnly(t *testing.T) {
	// "id" must not substring-match into "Paid"
	got := SuggestMappings([]string{"Paid", "Total"}, models.EntityInvoices)
	if idx, ok := got["id"]; ok {
		t.Errorf("id should not fuzzy-match %q, got column %d", "Paid", idx)
	}
	if got["amount"] != 1 {
		t.Errorf("amount should match Total via alias, got %v", got)
	}
}

func TestSuggestMappingsColumnUsedOnce(t *testing.T) {
	// One source column never backs two suggestions
	got := SuggestMappings([]string{"Email"}, models.EntityContacts)
	count := 0
	for _, idx := range got {
		if idx == 0 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("column 0 suggested %d times, want once (all: %v)", count, got)
	}
}

func TestInferDataType(t *testing.T) {
	tests := []struct {
		field string
		want  models.DataType
	}{
		{"email", models.DataTypeEmail},
		{"workEmail", models.DataTypeEmail},
		{"phone", models.DataTypePhone},
		{"startDate", models.DataTypeDate},
		{"amount", models.DataTypeNumber},
		{"budget", models.DataTypeNumber},
		{"clientId", models.DataTypeNumber},
		{"description", models.DataTypeString},
	}
	for _, tt := range tests {
		if got := InferDataType(tt.field); got != tt.want {
			t.Errorf("InferDataType(%q) = %s, want %s", tt.field, got, tt.want)
		}
	}
}

func TestNewSet(t *testing.T) {
	headers := []string{"Company", "Email"}
	suggestions := map[string]int{"name": 0, "email": 1}
	set, err := NewSet("sess-1", models.EntityClients, headers, suggestions)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	if set.Version != 1 {
		t.Errorf("initial version = %d, want 1", set.Version)
	}

	name, ok := set.Get("name")
	if !ok || name.SourceField != "Company" {
		t.Errorf("name mapping = %+v, want bound to Company", name)
	}
	if !name.Required {
		t.Error("name should carry the registry's required flag")
	}
	email, _ := set.Get("email")
	if email.DataType != models.DataTypeEmail {
		t.Errorf("email data type = %s, want email", email.DataType)
	}
	if phone, ok := set.Get("phone"); !ok || phone.SourceField != "" {
		t.Errorf("unsuggested field should stay unmapped, got %+v", phone)
	}
}

func TestApplyTemplate(t *testing.T) {
	headers := []string{"Company Name", "Contact Email", "Telephone"}
	set, err := NewSet("sess-1", models.EntityClients, headers, nil)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	tpl := &models.MappingTemplate{
		ID:         "tpl-1",
		Name:       "legacy crm",
		EntityType: models.EntityClients,
		Mappings: []models.FieldMapping{
			{SourceField: "Company", TargetField: "name"},
			{SourceField: "Email", TargetField: "email"},
			{SourceField: "Phone", TargetField: "phone", Transformation: models.TransformPhoneFormat},
			{SourceField: "Fax Number", TargetField: "notes"},
		},
	}

	ApplyTemplate(set, tpl, headers)

	name, _ := set.Get("name")
	if name.SourceField != "Company Name" {
		t.Errorf("name bound to %q, want Company Name", name.SourceField)
	}
	email, _ := set.Get("email")
	if email.SourceField != "Contact Email" {
		t.Errorf("email bound to %q, want Contact Email", email.SourceField)
	}
	// "Phone" matches "Telephone" by containment; the template's
	// transformation carries over
	phone, _ := set.Get("phone")
	if phone.SourceField != "Telephone" {
		t.Errorf("phone bound to %q, want Telephone", phone.SourceField)
	}
	if phone.Transformation != models.TransformPhoneFormat {
		t.Errorf("phone transformation = %q, want phone_format", phone.Transformation)
	}
	if set.Version != 2 {
		t.Errorf("version after template = %d, want 2", set.Version)
	}
}

func TestApplyTemplateLeavesNonMatchesUnmapped(t *testing.T) {
	headers := []string{"Colour", "Size"}
	set, err := NewSet("sess-1", models.EntityClients, headers, nil)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	tpl := &models.MappingTemplate{
		EntityType: models.EntityClients,
		Mappings:   []models.FieldMapping{{SourceField: "Primary Email Address", TargetField: "email"}},
	}
	ApplyTemplate(set, tpl, headers)
	email, _ := set.Get("email")
	if email.SourceField != "" {
		t.Errorf("email should stay unmapped when nothing matches, got %q", email.SourceField)
	}
}

func TestSetMapping(t *testing.T) {
	set, err := NewSet("sess-1", models.EntityClients, []string{"Company", "Contact"}, nil)
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}

	if err := SetMapping(set, "name", "Company", "", models.TransformCapitalize); err != nil {
		t.Fatalf("SetMapping failed: %v", err)
	}
	name, _ := set.Get("name")
	if name.SourceField != "Company" || name.Transformation != models.TransformCapitalize {
		t.Errorf("name mapping = %+v", name)
	}
	if set.Version != 2 {
		t.Errorf("version = %d, want 2", set.Version)
	}

	// Binding an already-used source column is allowed; validation flags it
	if err := SetMapping(set, "notes", "Company", "", ""); err != nil {
		t.Fatalf("duplicate source binding should be allowed: %v", err)
	}
	dups := set.DuplicateSources()
	if targets, ok := dups["Company"]; !ok || len(targets) != 2 {
		t.Errorf("DuplicateSources = %v, want Company bound twice", dups)
	}

	if err := SetMapping(set, "nonexistent", "Company", "", ""); err == nil {
		t.Error("unknown target field should be rejected")
	}
	if err := SetMapping(set, "name", "Company", "matrix", ""); err == nil {
		t.Error("unknown data type should be rejected")
	}
	if err := SetMapping(set, "name", "Company", "", "rot13"); err == nil {
		t.Error("unknown transformation should be rejected")
	}
}
