package models

// EntityType identifies one of the fixed target record kinds
type EntityType string

const (
	EntityClients     EntityType = "clients"
	EntityProjects    EntityType = "projects"
	EntityTasks       EntityType = "tasks"
	EntityContacts    EntityType = "contacts"
	EntityInvoices    EntityType = "invoices"
	EntityTimeEntries EntityType = "time_entries"
)

// ValidEntityTypes defines the allowed entity types
var ValidEntityTypes = map[EntityType]bool{
	EntityClients:     true,
	EntityProjects:    true,
	EntityTasks:       true,
	EntityContacts:    true,
	EntityInvoices:    true,
	EntityTimeEntries: true,
}

// ParseEntityType converts a string to an EntityType, reporting whether it is known
func ParseEntityType(s string) (EntityType, bool) {
	et := EntityType(s)
	return et, ValidEntityTypes[et]
}

// DataType is the declared semantic type of a target field
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeDate    DataType = "date"
	DataTypeBoolean DataType = "boolean"
	DataTypeEmail   DataType = "email"
	DataTypePhone   DataType = "phone"
)

// ValidDataTypes defines the allowed field data types
var ValidDataTypes = map[DataType]bool{
	DataTypeString:  true,
	DataTypeNumber:  true,
	DataTypeDate:    true,
	DataTypeBoolean: true,
	DataTypeEmail:   true,
	DataTypePhone:   true,
}
