// Package mocks provides in-memory repository implementations for testing
package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crm-migration-api/internal/models"
)

// SessionRepo is an in-memory implementation of repository.SessionRepository
type SessionRepo struct {
	mu       sync.Mutex
	Sessions map[string]*models.ImportSession
	Files    map[string]*models.UploadedFile
	Mappings map[string]*models.MappingSet

	CreateErr       error
	UpdateErr       error
	SaveFileErr     error
	SaveMappingsErr error
}

// NewSessionRepo creates a new mock session repository
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		Sessions: make(map[string]*models.ImportSession),
		Files:    make(map[string]*models.UploadedFile),
		Mappings: make(map[string]*models.MappingSet),
	}
}

func entityKey(sessionID string, entity models.EntityType) string {
	return sessionID + "/" + string(entity)
}

func (m *SessionRepo) Create(ctx context.Context, session *models.ImportSession) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.Sessions[session.ID] = &copied
	return nil
}

func (m *SessionRepo) Update(ctx context.Context, session *models.ImportSession) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.Sessions[session.ID] = &copied
	return nil
}

func (m *SessionRepo) GetByID(ctx context.Context, id string) (*models.ImportSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.Sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (m *SessionRepo) SaveFile(ctx context.Context, file *models.UploadedFile) error {
	if m.SaveFileErr != nil {
		return m.SaveFileErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *file
	m.Files[entityKey(file.SessionID, file.EntityType)] = &copied
	return nil
}

func (m *SessionRepo) GetFile(ctx context.Context, sessionID string, entity models.EntityType) (*models.UploadedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.Files[entityKey(sessionID, entity)]
	if !ok {
		return nil, nil
	}
	copied := *file
	return &copied, nil
}

// SaveMappings mirrors the optimistic version check of the real repository:
// a write whose version is not exactly one ahead of the stored version fails
// with ErrMappingConflict.
func (m *SessionRepo) SaveMappings(ctx context.Context, set *models.MappingSet) error {
	if m.SaveMappingsErr != nil {
		return m.SaveMappingsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entityKey(set.SessionID, set.EntityType)
	if existing, ok := m.Mappings[key]; ok && existing.Version != set.Version-1 {
		return models.ErrMappingConflict
	}
	copied := *set
	copied.Mappings = append([]models.FieldMapping(nil), set.Mappings...)
	m.Mappings[key] = &copied
	return nil
}

func (m *SessionRepo) GetMappings(ctx context.Context, sessionID string, entity models.EntityType) (*models.MappingSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.Mappings[entityKey(sessionID, entity)]
	if !ok {
		return nil, nil
	}
	copied := *set
	copied.Mappings = append([]models.FieldMapping(nil), set.Mappings...)
	return &copied, nil
}

// ErrorRepo is an in-memory implementation of repository.ErrorRepository
type ErrorRepo struct {
	mu     sync.Mutex
	Errors []models.ImportError

	InsertErr  error
	ReplaceErr error
}

// NewErrorRepo creates a new mock error queue
func NewErrorRepo() *ErrorRepo {
	return &ErrorRepo{}
}

func (m *ErrorRepo) BulkInsert(ctx context.Context, errors []models.ImportError) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, errors...)
	return nil
}

func (m *ErrorRepo) List(ctx context.Context, sessionID string, filter models.ErrorFilter) ([]models.ImportError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ImportError
	for _, e := range m.Errors {
		if e.SessionID != sessionID || !matchFilter(e, filter) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].SourceRowNumber < out[j].SourceRowNumber
	})
	return out, nil
}

func matchFilter(e models.ImportError, f models.ErrorFilter) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.ErrorType != "" && e.ErrorType != f.ErrorType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.TextSearch != "" {
		needle := strings.ToLower(f.TextSearch)
		if !strings.Contains(strings.ToLower(e.ErrorMessage), needle) &&
			!strings.Contains(strings.ToLower(e.Field), needle) &&
			!rowContains(e.SourceData, needle) {
			return false
		}
	}
	return true
}

func rowContains(row models.Row, needle string) bool {
	for _, v := range row {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func (m *ErrorRepo) GetByID(ctx context.Context, id string) (*models.ImportError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Errors {
		if e.ID == id {
			copied := e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *ErrorRepo) ReplaceForRow(ctx context.Context, sessionID string, entity models.EntityType, rowNumber int, updated []models.ImportError) error {
	if m.ReplaceErr != nil {
		return m.ReplaceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Errors[:0]
	for _, e := range m.Errors {
		if e.SessionID == sessionID && e.EntityType == entity && e.SourceRowNumber == rowNumber {
			continue
		}
		kept = append(kept, e)
	}
	m.Errors = append(kept, updated...)
	return nil
}

func (m *ErrorRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Errors[:0]
	for _, e := range m.Errors {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	m.Errors = kept
	return nil
}

func (m *ErrorRepo) DeleteForRow(ctx context.Context, sessionID string, entity models.EntityType, rowNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Errors[:0]
	for _, e := range m.Errors {
		if e.SessionID == sessionID && e.EntityType == entity && e.SourceRowNumber == rowNumber {
			continue
		}
		kept = append(kept, e)
	}
	m.Errors = kept
	return nil
}

func (m *ErrorRepo) DeleteForEntity(ctx context.Context, sessionID string, entity models.EntityType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Errors[:0]
	for _, e := range m.Errors {
		if e.SessionID == sessionID && e.EntityType == entity {
			continue
		}
		kept = append(kept, e)
	}
	m.Errors = kept
	return nil
}

func (m *ErrorRepo) SetStatus(ctx context.Context, id string, status models.ErrorStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Errors {
		if m.Errors[i].ID == id {
			m.Errors[i].Status = status
			return nil
		}
	}
	return models.ErrErrorNotFound
}

func (m *ErrorRepo) CountByType(ctx context.Context, sessionID string, entity models.EntityType) (map[models.ErrorType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.ErrorType]int)
	for _, e := range m.Errors {
		if e.SessionID == sessionID && e.EntityType == entity && e.Status == models.ErrorStatusOpen {
			counts[e.ErrorType]++
		}
	}
	return counts, nil
}

// TemplateStore is an in-memory implementation of repository.TemplateStore
type TemplateStore struct {
	mu        sync.Mutex
	Templates map[string]*models.MappingTemplate

	CreateErr error
}

// NewTemplateStore creates a new mock template store
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{Templates: make(map[string]*models.MappingTemplate)}
}

func (m *TemplateStore) Create(ctx context.Context, tpl *models.MappingTemplate) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *tpl
	m.Templates[tpl.ID] = &copied
	return nil
}

func (m *TemplateStore) GetByID(ctx context.Context, id string) (*models.MappingTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.Templates[id]
	if !ok {
		return nil, nil
	}
	copied := *tpl
	return &copied, nil
}

func (m *TemplateStore) ListByEntity(ctx context.Context, entity models.EntityType) ([]*models.MappingTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MappingTemplate
	for _, tpl := range m.Templates {
		if tpl.EntityType == entity {
			copied := *tpl
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *TemplateStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Templates, id)
	return nil
}

// RecordStore is an in-memory implementation of repository.RecordStore. It
// also satisfies validation.Lookup via Exists. Committed records are keyed by
// (entity type, record id), matching the sink's uniqueness constraint.
type RecordStore struct {
	mu        sync.Mutex
	Committed map[string]models.MappedRecord
	nextID    int

	CommitErr       error
	CommitBatchFunc func(ctx context.Context, sessionID string, records []models.MappedRecord) ([]models.CommitResult, error)
	ExistsFunc      func(ctx context.Context, entity models.EntityType, field, value string) (bool, error)
}

// NewRecordStore creates a new mock record store
func NewRecordStore() *RecordStore {
	return &RecordStore{Committed: make(map[string]models.MappedRecord)}
}

func (m *RecordStore) CommitBatch(ctx context.Context, sessionID string, records []models.MappedRecord) ([]models.CommitResult, error) {
	if m.CommitBatchFunc != nil {
		return m.CommitBatchFunc(ctx, sessionID, records)
	}
	if m.CommitErr != nil {
		return nil, m.CommitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]models.CommitResult, 0, len(records))
	for _, rec := range records {
		recordID := rec.Fields["id"]
		if recordID == "" {
			m.nextID++
			recordID = fmt.Sprintf("rec-%d", m.nextID)
		}
		key := string(rec.EntityType) + "/" + recordID
		if _, exists := m.Committed[key]; exists {
			results = append(results, models.CommitResult{
				SourceRowNumber: rec.SourceRowNumber,
				Success:         false,
				FailureReason:   fmt.Sprintf("a %s with id %q already exists", rec.EntityType, recordID),
			})
			continue
		}
		m.Committed[key] = rec
		results = append(results, models.CommitResult{
			SourceRowNumber: rec.SourceRowNumber,
			RecordID:        recordID,
			Success:         true,
		})
	}
	return results, nil
}

func (m *RecordStore) Exists(ctx context.Context, entity models.EntityType, field, value string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, entity, field, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.Committed {
		if !strings.HasPrefix(key, string(entity)+"/") {
			continue
		}
		if field == "id" {
			if strings.TrimPrefix(key, string(entity)+"/") == value {
				return true, nil
			}
			continue
		}
		if strings.EqualFold(rec.Fields[field], value) {
			return true, nil
		}
	}
	return false, nil
}

// AuditSink is an in-memory implementation of repository.AuditSink
type AuditSink struct {
	mu     sync.Mutex
	Events []models.AuditEvent
}

// NewAuditSink creates a new mock audit sink
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

func (m *AuditSink) Record(ctx context.Context, event models.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.Events) + 1)
	m.Events = append(m.Events, event)
}

func (m *AuditSink) ListForSession(ctx context.Context, sessionID string) ([]models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range m.Events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// EventNames returns the recorded event names in order, a convenience for
// asserting audit trails.
func (m *AuditSink) EventNames(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, e := range m.Events {
		if e.SessionID == sessionID {
			names = append(names, e.Event)
		}
	}
	return names
}
