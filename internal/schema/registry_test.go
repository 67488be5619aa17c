package schema

import (
	"testing"

	"github.com/crm-migration-api/internal/models"
)

func TestRequiredFields(t *testing.T) {
	got := RequiredFields(models.EntityClients)
	want := map[string]bool{"name": true, "email": true}
	if len(got) != len(want) {
		t.Fatalf("RequiredFields(clients) = %v, want name and email", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected required field %q for clients", name)
		}
	}
}

func TestNaturalKey(t *testing.T) {
	tests := []struct {
		entity  models.EntityType
		want    string
		present bool
	}{
		{models.EntityClients, "email", true},
		{models.EntityContacts, "email", true},
		{models.EntityInvoices, "invoiceNumber", true},
		{models.EntityTasks, "", false},
	}
	for _, tt := range tests {
		nk, ok := NaturalKey(tt.entity)
		if ok != tt.present {
			t.Errorf("NaturalKey(%s) present = %v, want %v", tt.entity, ok, tt.present)
			continue
		}
		if ok && nk.Name != tt.want {
			t.Errorf("NaturalKey(%s) = %q, want %q", tt.entity, nk.Name, tt.want)
		}
	}
}

func TestDependencies(t *testing.T) {
	deps := Dependencies(models.EntityTasks)
	want := map[models.EntityType]bool{
		models.EntityProjects: true,
		models.EntityClients:  true,
		models.EntityContacts: true,
	}
	if len(deps) != len(want) {
		t.Fatalf("Dependencies(tasks) = %v, want projects, clients, contacts", deps)
	}
	for _, d := range deps {
		if !want[d] {
			t.Errorf("unexpected dependency %s for tasks", d)
		}
	}
	if got := Dependencies(models.EntityClients); len(got) != 0 {
		t.Errorf("Dependencies(clients) = %v, want none", got)
	}
}

func TestCommitOrder(t *testing.T) {
	input := []models.EntityType{
		models.EntityTimeEntries,
		models.EntityTasks,
		models.EntityInvoices,
		models.EntityProjects,
		models.EntityContacts,
		models.EntityClients,
	}
	order, err := CommitOrder(input)
	if err != nil {
		t.Fatalf("CommitOrder failed: %v", err)
	}
	if len(order) != len(input) {
		t.Fatalf("CommitOrder returned %d entities, want %d", len(order), len(input))
	}

	position := make(map[models.EntityType]int, len(order))
	for i, et := range order {
		position[et] = i
	}
	for _, et := range input {
		for _, dep := range Dependencies(et) {
			if position[dep] > position[et] {
				t.Errorf("%s commits at %d before its dependency %s at %d", et, position[et], dep, position[dep])
			}
		}
	}
}

func TestCommitOrderIgnoresAbsentDependencies(t *testing.T) {
	// Tasks reference projects, but a session importing only tasks must not
	// be forced to include them.
	order, err := CommitOrder([]models.EntityType{models.EntityTasks})
	if err != nil {
		t.Fatalf("CommitOrder failed: %v", err)
	}
	if len(order) != 1 || order[0] != models.EntityTasks {
		t.Errorf("CommitOrder([tasks]) = %v, want [tasks]", order)
	}
}

func TestCommitOrderRejectsUnknownEntity(t *testing.T) {
	if _, err := CommitOrder([]models.EntityType{"widgets"}); err == nil {
		t.Error("CommitOrder should reject unknown entity types")
	}
}

func TestFieldLookup(t *testing.T) {
	field, ok := Field(models.EntityProjects, "clientId")
	if !ok {
		t.Fatal("projects.clientId should exist")
	}
	if field.Reference != models.EntityClients {
		t.Errorf("projects.clientId reference = %s, want clients", field.Reference)
	}
	if !field.Required {
		t.Error("projects.clientId should be required")
	}
	if _, ok := Field(models.EntityProjects, "nope"); ok {
		t.Error("unknown field should not resolve")
	}
}
