package repository

import (
	"context"

	"github.com/crm-migration-api/internal/database"
	"github.com/crm-migration-api/internal/models"
)

// SessionRepository persists import sessions, their uploaded files and their
// mapping sets
type SessionRepository interface {
	Create(ctx context.Context, session *models.ImportSession) error
	Update(ctx context.Context, session *models.ImportSession) error
	GetByID(ctx context.Context, id string) (*models.ImportSession, error)
	SaveFile(ctx context.Context, file *models.UploadedFile) error
	GetFile(ctx context.Context, sessionID string, entity models.EntityType) (*models.UploadedFile, error)
	SaveMappings(ctx context.Context, set *models.MappingSet) error
	GetMappings(ctx context.Context, sessionID string, entity models.EntityType) (*models.MappingSet, error)
}

// ErrorRepository is the classified, retryable error queue
type ErrorRepository interface {
	BulkInsert(ctx context.Context, errors []models.ImportError) error
	List(ctx context.Context, sessionID string, filter models.ErrorFilter) ([]models.ImportError, error)
	GetByID(ctx context.Context, id string) (*models.ImportError, error)
	ReplaceForRow(ctx context.Context, sessionID string, entity models.EntityType, rowNumber int, updated []models.ImportError) error
	Delete(ctx context.Context, id string) error
	DeleteForRow(ctx context.Context, sessionID string, entity models.EntityType, rowNumber int) error
	DeleteForEntity(ctx context.Context, sessionID string, entity models.EntityType) error
	SetStatus(ctx context.Context, id string, status models.ErrorStatus) error
	CountByType(ctx context.Context, sessionID string, entity models.EntityType) (map[models.ErrorType]int, error)
}

// TemplateStore is the CRUD surface for reusable mapping templates;
// read-heavy, rarely written
type TemplateStore interface {
	Create(ctx context.Context, tpl *models.MappingTemplate) error
	GetByID(ctx context.Context, id string) (*models.MappingTemplate, error)
	ListByEntity(ctx context.Context, entity models.EntityType) ([]*models.MappingTemplate, error)
	Delete(ctx context.Context, id string) error
}

// RecordStore is the committed-record side of the pipeline: the commit sink
// plus the existence lookup the reference and duplicate rules resolve
// against.
type RecordStore interface {
	CommitBatch(ctx context.Context, sessionID string, records []models.MappedRecord) ([]models.CommitResult, error)
	Exists(ctx context.Context, entity models.EntityType, field, value string) (bool, error)
}

// AuditSink receives session state transitions and skip decisions for
// compliance logging. Fire-and-forget: failures are logged, never propagated.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent)
	ListForSession(ctx context.Context, sessionID string) ([]models.AuditEvent, error)
}

// Repositories holds all repository interfaces
type Repositories struct {
	Session  SessionRepository
	Error    ErrorRepository
	Template TemplateStore
	Record   RecordStore
	Audit    AuditSink
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	return &Repositories{
		Session:  NewSessionRepo(db),
		Error:    NewErrorRepo(db),
		Template: NewTemplateRepo(db),
		Record:   NewRecordRepo(db),
		Audit:    NewAuditRepo(db),
	}
}
