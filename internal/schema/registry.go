// Package schema holds the static target-schema definitions the migration
// pipeline maps source columns onto. The field lists are fixed: required
// flags come from here, never from the data.
package schema

import (
	"fmt"

	"github.com/crm-migration-api/internal/models"
)

// TargetField describes one field of the target schema for an entity type.
// Reference names the entity type this field must resolve against, if any.
// NaturalKey marks the field used for duplicate detection.
type TargetField struct {
	Name       string
	DataType   models.DataType
	Required   bool
	Reference  models.EntityType
	NaturalKey bool
	Aliases    []string
}

// targetFields is the registry. The id field carries the legacy CRM
// identifier so cross-entity references in the source export keep resolving
// after commit.
var targetFields = map[models.EntityType][]TargetField{
	models.EntityClients: {
		{Name: "id", DataType: models.DataTypeNumber, Aliases: []string{"client id", "customer id"}},
		{Name: "name", DataType: models.DataTypeString, Required: true, Aliases: []string{"company", "organization", "business", "client name", "customer"}},
		{Name: "email", DataType: models.DataTypeEmail, Required: true, NaturalKey: true, Aliases: []string{"e-mail", "mail"}},
		{Name: "phone", DataType: models.DataTypePhone, Aliases: []string{"telephone", "mobile", "tel"}},
		{Name: "address", DataType: models.DataTypeString, Aliases: []string{"street"}},
		{Name: "city", DataType: models.DataTypeString},
		{Name: "state", DataType: models.DataTypeString, Aliases: []string{"province"}},
		{Name: "zipCode", DataType: models.DataTypeString, Aliases: []string{"zip", "postal code"}},
		{Name: "website", DataType: models.DataTypeString, Aliases: []string{"url"}},
		{Name: "industry", DataType: models.DataTypeString},
		{Name: "notes", DataType: models.DataTypeString, Aliases: []string{"comments"}},
	},
	models.EntityProjects: {
		{Name: "id", DataType: models.DataTypeNumber, Aliases: []string{"project id"}},
		{Name: "name", DataType: models.DataTypeString, Required: true, Aliases: []string{"project name", "title"}},
		{Name: "clientId", DataType: models.DataTypeNumber, Required: true, Reference: models.EntityClients, Aliases: []string{"client", "customer id"}},
		{Name: "description", DataType: models.DataTypeString, Aliases: []string{"details"}},
		{Name: "status", DataType: models.DataTypeString},
		{Name: "startDate", DataType: models.DataTypeDate, Aliases: []string{"start", "begin date"}},
		{Name: "endDate", DataType: models.DataTypeDate, Aliases: []string{"end", "deadline"}},
		{Name: "budget", DataType: models.DataTypeNumber, Aliases: []string{"budget amount"}},
		{Name: "billingRate", DataType: models.DataTypeNumber, Aliases: []string{"rate", "hourly rate"}},
	},
	models.EntityContacts: {
		{Name: "id", DataType: models.DataTypeNumber, Aliases: []string{"contact id"}},
		{Name: "firstName", DataType: models.DataTypeString, Required: true, Aliases: []string{"first name", "given name"}},
		{Name: "lastName", DataType: models.DataTypeString, Required: true, Aliases: []string{"last name", "surname", "family name"}},
		{Name: "email", DataType: models.DataTypeEmail, Required: true, NaturalKey: true, Aliases: []string{"e-mail", "mail"}},
		{Name: "phone", DataType: models.DataTypePhone, Aliases: []string{"telephone", "mobile", "tel"}},
		{Name: "clientId", DataType: models.DataTypeNumber, Reference: models.EntityClients, Aliases: []string{"client", "company id"}},
		{Name: "jobTitle", DataType: models.DataTypeString, Aliases: []string{"title", "position", "role"}},
		{Name: "isPrimary", DataType: models.DataTypeBoolean, Aliases: []string{"primary"}},
	},
	models.EntityTasks: {
		{Name: "id", DataType: models.DataTypeNumber, Aliases: []string{"task id"}},
		{Name: "title", DataType: models.DataTypeString, Required: true, Aliases: []string{"task", "name", "subject"}},
		{Name: "projectId", DataType: models.DataTypeNumber, Required: true, Reference: models.EntityProjects, Aliases: []string{"project"}},
		{Name: "clientId", DataType: models.DataTypeNumber, Reference: models.EntityClients, Aliases: []string{"client"}},
		{Name: "assignedTo", DataType: models.DataTypeNumber, Reference: models.EntityContacts, Aliases: []string{"assignee", "owner"}},
		{Name: "status", DataType: models.DataTypeString},
		{Name: "priority", DataType: models.DataTypeString},
		{Name: "dueDate", DataType: models.DataTypeDate, Aliases: []string{"due", "deadline"}},
		{Name: "estimatedHours", DataType: models.DataTypeNumber, Aliases: []string{"estimate", "hours"}},
		{Name: "description", DataType: models.DataTypeString, Aliases: []string{"details", "notes"}},
	},
	models.EntityInvoices: {
		{Name: "id", DataType: models.DataTypeNumber, Aliases: []string{"invoice id"}},
		{Name: "invoiceNumber", DataType: models.DataTypeString, Required: true, NaturalKey: true, Aliases: []string{"invoice number", "invoice no", "number"}},
		{Name: "clientId", DataType: models.DataTypeNumber, Required: true, Reference: models.EntityClients, Aliases: []string{"client", "customer id"}},
		{Name: "issueDate", DataType: models.DataTypeDate, Required: true, Aliases: []string{"date", "invoice date", "issued"}},
		{Name: "dueDate", DataType: models.DataTypeDate, Aliases: []string{"due", "payment due"}},
		{Name: "amount", DataType: models.DataTypeNumber, Required: true, Aliases: []string{"total", "total amount"}},
		{Name: "tax", DataType: models.DataTypeNumber, Aliases: []string{"tax amount", "vat"}},
		{Name: "status", DataType: models.DataTypeString, Aliases: []string{"paid"}},
		{Name: "notes", DataType: models.DataTypeString},
	},
	models.EntityTimeEntries: {
		{Name: "id", DataType: models.DataTypeNumber, Aliases: []string{"entry id"}},
		{Name: "taskId", DataType: models.DataTypeNumber, Reference: models.EntityTasks, Aliases: []string{"task"}},
		{Name: "projectId", DataType: models.DataTypeNumber, Reference: models.EntityProjects, Aliases: []string{"project"}},
		{Name: "date", DataType: models.DataTypeDate, Required: true, Aliases: []string{"work date", "day"}},
		{Name: "hours", DataType: models.DataTypeNumber, Required: true, Aliases: []string{"duration", "time spent"}},
		{Name: "description", DataType: models.DataTypeString, Aliases: []string{"notes", "details"}},
		{Name: "billable", DataType: models.DataTypeBoolean},
	},
}

// Fields returns the target fields for an entity type
func Fields(entity models.EntityType) ([]TargetField, error) {
	fields, ok := targetFields[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownEntityType, entity)
	}
	return fields, nil
}

// Field looks up one target field by name
func Field(entity models.EntityType, name string) (*TargetField, bool) {
	fields, ok := targetFields[entity]
	if !ok {
		return nil, false
	}
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], true
		}
	}
	return nil, false
}

// RequiredFields returns the names of fields that must have a non-empty
// mapped value for a row to be valid
func RequiredFields(entity models.EntityType) []string {
	var names []string
	for _, f := range targetFields[entity] {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// NaturalKey returns the entity's duplicate-detection field, if it has one
func NaturalKey(entity models.EntityType) (*TargetField, bool) {
	for i, f := range targetFields[entity] {
		if f.NaturalKey {
			return &targetFields[entity][i], true
		}
	}
	return nil, false
}

// Dependencies returns the entity types this entity holds references into
func Dependencies(entity models.EntityType) []models.EntityType {
	seen := make(map[models.EntityType]bool)
	var deps []models.EntityType
	for _, f := range targetFields[entity] {
		if f.Reference != "" && !seen[f.Reference] {
			seen[f.Reference] = true
			deps = append(deps, f.Reference)
		}
	}
	return deps
}

// CommitOrder sorts entity types so every type commits after the types it
// references. The fixed registry is acyclic by construction, but a cycle is
// still reported as an error rather than silently broken.
func CommitOrder(entities []models.EntityType) ([]models.EntityType, error) {
	included := make(map[models.EntityType]bool, len(entities))
	for _, et := range entities {
		if !models.ValidEntityTypes[et] {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownEntityType, et)
		}
		included[et] = true
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[models.EntityType]int)
	var order []models.EntityType

	var visit func(et models.EntityType) error
	visit = func(et models.EntityType) error {
		switch state[et] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle involving %s", et)
		}
		state[et] = visiting
		for _, dep := range Dependencies(et) {
			if included[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[et] = done
		order = append(order, et)
		return nil
	}

	for _, et := range entities {
		if err := visit(et); err != nil {
			return nil, err
		}
	}
	return order, nil
}
