// Package session orchestrates one migration run: file intake, mapping
// maintenance, validation passes, and the ordered per-entity-type commit
// stage. The session is the unit of isolation; every stage mutation goes
// through the state machine.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/crm-migration-api/internal/config"
	"github.com/crm-migration-api/internal/mapping"
	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/parser"
	"github.com/crm-migration-api/internal/repository"
	"github.com/crm-migration-api/internal/schema"
	"github.com/crm-migration-api/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service runs the import-session state machine
type Service struct {
	repos  *repository.Repositories
	engine *validation.Engine
	parser *parser.Parser
	cfg    *config.Config
	log    zerolog.Logger
}

// NewService creates a session service
func NewService(repos *repository.Repositories, engine *validation.Engine, p *parser.Parser, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		repos:  repos,
		engine: engine,
		parser: p,
		cfg:    cfg,
		log:    log.With().Str("service", "session").Logger(),
	}
}

// Overview is a session plus its per-entity error counts by type, the
// operator's progress view
type Overview struct {
	Session     *models.ImportSession                        `json:"session"`
	ErrorCounts map[models.EntityType]map[models.ErrorType]int `json:"error_counts"`
}

// ValidationSummary reports one validation pass without exposing full rows
type ValidationSummary struct {
	EntityType   models.EntityType            `json:"entity_type"`
	TotalRows    int                          `json:"total_rows"`
	ValidRows    int                          `json:"valid_rows"`
	ErrorRows    int                          `json:"error_rows"`
	CountsByType map[models.ErrorType]int     `json:"counts_by_type"`
}

// CreateSession starts a migration run for a firm
func (s *Service) CreateSession(ctx context.Context, firmID string, entityTypes []models.EntityType) (*models.ImportSession, error) {
	for _, et := range entityTypes {
		if !models.ValidEntityTypes[et] {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownEntityType, et)
		}
	}
	now := time.Now()
	session := &models.ImportSession{
		ID:          uuid.New().String(),
		FirmID:      firmID,
		Status:      models.SessionStatusCreated,
		EntityTypes: entityTypes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repos.Session.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.audit(ctx, session.ID, models.AuditSessionCreated, "", fmt.Sprintf("firm %s", firmID))
	s.log.Info().Str("session_id", session.ID).Str("firm_id", firmID).Msg("Session created")
	return session, nil
}

// GetSession returns the session with its per-entity error counts
func (s *Service) GetSession(ctx context.Context, id string) (*Overview, error) {
	session, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.EntityType]map[models.ErrorType]int)
	for _, et := range session.EntityTypes {
		byType, err := s.repos.Error.CountByType(ctx, id, et)
		if err != nil {
			return nil, fmt.Errorf("count errors for %s: %w", et, err)
		}
		counts[et] = byType
	}
	return &Overview{Session: session, ErrorCounts: counts}, nil
}

// UploadFile parses an uploaded file, stores it, and seeds the entity's
// mapping set from the auto-suggestions. Re-uploading replaces the previous
// file and reseeds the mappings.
func (s *Service) UploadFile(ctx context.Context, sessionID, fileName string, data []byte, declared models.EntityType) (*models.UploadedFile, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.Transition(models.SessionStatusUploading); err != nil {
		return nil, err
	}

	file, err := s.parser.Parse(fileName, data, declared)
	if err != nil {
		return nil, err
	}
	file.SessionID = sessionID
	if !session.HasEntity(file.EntityType) {
		session.EntityTypes = append(session.EntityTypes, file.EntityType)
	}

	if err := s.repos.Session.SaveFile(ctx, file); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("save file: %w", err))
	}

	set, err := mapping.NewSet(sessionID, file.EntityType, file.Headers, file.SuggestedMappings)
	if err != nil {
		return nil, err
	}
	if prev, err := s.repos.Session.GetMappings(ctx, sessionID, file.EntityType); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("load mappings: %w", err))
	} else if prev != nil {
		set.Version = prev.Version + 1
	}
	if err := s.repos.Session.SaveMappings(ctx, set); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("save mappings: %w", err))
	}

	if err := session.Transition(models.SessionStatusMapping); err != nil {
		return nil, err
	}
	if err := s.repos.Session.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.audit(ctx, sessionID, models.AuditFileUploaded, file.EntityType,
		fmt.Sprintf("%s (%d records)", file.OriginalFileName, file.TotalRecords))
	s.log.Info().
		Str("session_id", sessionID).
		Str("entity_type", string(file.EntityType)).
		Str("file", file.OriginalFileName).
		Int("records", file.TotalRecords).
		Msg("File uploaded")
	return file, nil
}

// GetMappings returns the live mapping set for an entity type
func (s *Service) GetMappings(ctx context.Context, sessionID string, entity models.EntityType) (*models.MappingSet, error) {
	set, err := s.repos.Session.GetMappings(ctx, sessionID, entity)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("no mappings for %s in session %s", entity, sessionID)
	}
	return set, nil
}

// UpdateMappings replaces the entity's field mappings. The caller sends the
// version it read; a stale version is rejected with ErrMappingConflict.
// Editing after a validation pass takes the validating→mapping back-edge and
// discards the prior results.
func (s *Service) UpdateMappings(ctx context.Context, sessionID string, entity models.EntityType, mappings []models.FieldMapping, version int) (*models.MappingSet, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	current, err := s.repos.Session.GetMappings(ctx, sessionID, entity)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("no mappings for %s in session %s", entity, sessionID)
	}
	if current.Version != version {
		return nil, models.ErrMappingConflict
	}

	// Required flags come from the registry, never from the operator
	for i := range mappings {
		if field, ok := schema.Field(entity, mappings[i].TargetField); ok {
			mappings[i].Required = field.Required
			if mappings[i].DataType == "" {
				mappings[i].DataType = field.DataType
			}
		} else {
			return nil, fmt.Errorf("unknown target field %q for %s", mappings[i].TargetField, entity)
		}
		if t := mappings[i].Transformation; t != "" && !models.ValidTransformations[t] {
			return nil, fmt.Errorf("unknown transformation %q", t)
		}
	}

	// A mapping edit after a validation pass invalidates in-flight results:
	// discard them and drop back to mapping.
	if session.Status == models.SessionStatusValidating {
		if err := session.Transition(models.SessionStatusMapping); err != nil {
			return nil, err
		}
		if err := s.repos.Error.DeleteForEntity(ctx, sessionID, entity); err != nil {
			return nil, fmt.Errorf("discard stale validation results: %w", err)
		}
		if err := s.repos.Session.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}
	} else if session.Status != models.SessionStatusMapping {
		return nil, fmt.Errorf("%w: cannot edit mappings in %s", models.ErrInvalidTransition, session.Status)
	}

	set := &models.MappingSet{
		SessionID:  sessionID,
		EntityType: entity,
		Version:    version + 1,
		Mappings:   mappings,
		UpdatedAt:  time.Now(),
	}
	if err := s.repos.Session.SaveMappings(ctx, set); err != nil {
		return nil, err
	}
	s.audit(ctx, sessionID, models.AuditMappingsUpdated, entity, fmt.Sprintf("version %d", set.Version))
	return set, nil
}

// ApplyTemplate seeds the entity's mappings from a stored template by fuzzy
// header matching
func (s *Service) ApplyTemplate(ctx context.Context, sessionID string, entity models.EntityType, templateID string) (*models.MappingSet, error) {
	tpl, err := s.repos.Template.GetByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %s not found", templateID)
	}
	if tpl.EntityType != entity {
		return nil, fmt.Errorf("template %s is for %s, not %s", templateID, tpl.EntityType, entity)
	}

	set, err := s.GetMappings(ctx, sessionID, entity)
	if err != nil {
		return nil, err
	}
	file, err := s.repos.Session.GetFile(ctx, sessionID, entity)
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("no file uploaded for %s in session %s", entity, sessionID)
	}

	mapping.ApplyTemplate(set, tpl, file.Headers)
	if err := s.repos.Session.SaveMappings(ctx, set); err != nil {
		return nil, err
	}
	s.audit(ctx, sessionID, models.AuditMappingsUpdated, entity, fmt.Sprintf("template %q applied", tpl.Name))
	return set, nil
}

// ValidateEntity runs a full validation pass over the entity's rows and
// refreshes its error queue. Valid rows are not committed here; commit
// re-validates so fixes between passes are always picked up.
func (s *Service) ValidateEntity(ctx context.Context, sessionID string, entity models.EntityType) (*ValidationSummary, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.Transition(models.SessionStatusValidating); err != nil {
		return nil, err
	}
	if err := s.repos.Session.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	result, set, err := s.runValidation(ctx, sessionID, entity)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Error.DeleteForEntity(ctx, sessionID, entity); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("clear error queue: %w", err))
	}
	if err := s.repos.Error.BulkInsert(ctx, result.Errors); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("queue errors: %w", err))
	}

	summary := summarize(entity, result)
	s.audit(ctx, sessionID, models.AuditValidationRun, entity,
		fmt.Sprintf("mapping v%d: %d valid, %d rows with errors", set.Version, summary.ValidRows, summary.ErrorRows))
	s.log.Info().
		Str("session_id", sessionID).
		Str("entity_type", string(entity)).
		Int("valid", summary.ValidRows).
		Int("error_rows", summary.ErrorRows).
		Msg("Validation pass completed")
	return summary, nil
}

// CommitEntity validates the entity's rows and commits the valid ones in
// bounded batches, queueing the rest. Commit is per-entity-type, not
// whole-session-atomic, and respects the static foreign-key dependency
// order: an entity commits only after its referenced types have a committed
// batch in this session.
func (s *Service) CommitEntity(ctx context.Context, sessionID string, entity models.EntityType) (*models.BatchResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, dep := range schema.Dependencies(entity) {
		if session.HasEntity(dep) && !session.HasCommittedBatch(dep) {
			return nil, fmt.Errorf("%w: %s requires %s", models.ErrDependencyPending, entity, dep)
		}
	}
	if err := session.Transition(models.SessionStatusImporting); err != nil {
		return nil, err
	}
	if err := s.repos.Session.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	result, _, err := s.runValidation(ctx, sessionID, entity)
	if err != nil {
		return nil, err
	}

	batch := &models.BatchResult{EntityType: entity, Total: len(result.Valid) + countRows(result.Errors)}
	queued := result.Errors

	// Commit in bounded batches; cancellation lands between batches so an
	// in-flight batch either commits whole or aborts whole.
	for start := 0; start < len(result.Valid); start += s.cfg.Migration.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + s.cfg.Migration.BatchSize
		if end > len(result.Valid) {
			end = len(result.Valid)
		}
		results, err := s.repos.Record.CommitBatch(ctx, sessionID, result.Valid[start:end])
		if err != nil {
			return nil, s.fail(ctx, session, fmt.Errorf("commit batch for %s: %w", entity, err))
		}
		for i, cr := range results {
			batch.Results = append(batch.Results, cr)
			if cr.Success {
				batch.Committed++
				continue
			}
			batch.Failed++
			rec := result.Valid[start+i]
			queued = append(queued, models.ImportError{
				ID:              uuid.New().String(),
				SessionID:       sessionID,
				EntityType:      entity,
				SourceRowNumber: cr.SourceRowNumber,
				SourceData:      recordRow(rec),
				ErrorMessage:    cr.FailureReason,
				ErrorType:       models.ErrorTypeDuplicate,
				SuggestedFix:    models.SuggestedFixes[models.ErrorTypeDuplicate],
				CanRetry:        true,
				Severity:        models.DefaultSeverity(models.ErrorTypeDuplicate),
				Status:          models.ErrorStatusOpen,
				CreatedAt:       time.Now(),
			})
		}
	}
	batch.Failed += countRows(result.Errors)

	if err := s.repos.Error.DeleteForEntity(ctx, sessionID, entity); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("clear error queue: %w", err))
	}
	if err := s.repos.Error.BulkInsert(ctx, queued); err != nil {
		return nil, s.fail(ctx, session, fmt.Errorf("queue errors: %w", err))
	}

	if !session.HasCommittedBatch(entity) {
		session.CommittedBatches = append(session.CommittedBatches, entity)
	}
	if err := s.repos.Session.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.audit(ctx, sessionID, models.AuditBatchCommitted, entity,
		fmt.Sprintf("%d committed, %d failed", batch.Committed, batch.Failed))
	s.log.Info().
		Str("session_id", sessionID).
		Str("entity_type", string(entity)).
		Int("committed", batch.Committed).
		Int("failed", batch.Failed).
		Msg("Batch committed")
	return batch, nil
}

// CommitAll commits every entity type in the session in dependency order
func (s *Service) CommitAll(ctx context.Context, sessionID string) ([]*models.BatchResult, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	order, err := schema.CommitOrder(session.EntityTypes)
	if err != nil {
		return nil, err
	}
	var results []*models.BatchResult
	for _, entity := range order {
		batch, err := s.CommitEntity(ctx, sessionID, entity)
		if err != nil {
			return results, err
		}
		results = append(results, batch)
	}
	return results, nil
}

// CompleteSession finishes the run. Hard blockers (required/validation) must
// be resolved; skippable errors must have been explicitly skipped or
// reviewed, each skip already recorded on the audit trail.
func (s *Service) CompleteSession(ctx context.Context, sessionID string) (*models.ImportSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	open, err := s.repos.Error.List(ctx, sessionID, models.ErrorFilter{Status: models.ErrorStatusOpen})
	if err != nil {
		return nil, fmt.Errorf("list open errors: %w", err)
	}
	hard := 0
	for _, e := range open {
		if models.HardBlockers[e.ErrorType] {
			hard++
		}
	}
	if hard > 0 {
		return nil, fmt.Errorf("%w: %d open required/validation error(s)", models.ErrCommitBlocked, hard)
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("%w: %d open skippable error(s) must be fixed or skipped", models.ErrCommitBlocked, len(open))
	}

	if err := session.Transition(models.SessionStatusCompleted); err != nil {
		return nil, err
	}
	if err := s.repos.Session.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.audit(ctx, sessionID, models.AuditSessionCompleted, "", "")
	s.log.Info().Str("session_id", sessionID).Msg("Session completed")
	return session, nil
}

// CancelSession aborts the run. Batches already committed stay committed;
// there is no global rollback.
func (s *Service) CancelSession(ctx context.Context, sessionID string) (*models.ImportSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.Transition(models.SessionStatusCancelled); err != nil {
		return nil, err
	}
	if err := s.repos.Session.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.audit(ctx, sessionID, models.AuditSessionCancelled, "", "")
	return session, nil
}

// SaveTemplate stores the entity's current session mappings as a reusable
// named template
func (s *Service) SaveTemplate(ctx context.Context, sessionID string, entity models.EntityType, name string) (*models.MappingTemplate, error) {
	set, err := s.GetMappings(ctx, sessionID, entity)
	if err != nil {
		return nil, err
	}
	tpl := &models.MappingTemplate{
		ID:         uuid.New().String(),
		Name:       name,
		EntityType: entity,
		Mappings:   set.Mappings,
		CreatedAt:  time.Now(),
	}
	if err := s.repos.Template.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return tpl, nil
}

func (s *Service) getSession(ctx context.Context, id string) (*models.ImportSession, error) {
	session, err := s.repos.Session.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) runValidation(ctx context.Context, sessionID string, entity models.EntityType) (*validation.Result, *models.MappingSet, error) {
	file, err := s.repos.Session.GetFile(ctx, sessionID, entity)
	if err != nil {
		return nil, nil, fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return nil, nil, fmt.Errorf("no file uploaded for %s in session %s", entity, sessionID)
	}
	set, err := s.repos.Session.GetMappings(ctx, sessionID, entity)
	if err != nil {
		return nil, nil, fmt.Errorf("load mappings: %w", err)
	}
	if set == nil {
		return nil, nil, fmt.Errorf("no mappings for %s in session %s", entity, sessionID)
	}
	result, err := s.engine.Validate(ctx, sessionID, set, file.Rows)
	if err != nil {
		return nil, nil, err
	}
	return result, set, nil
}

// fail moves the session to failed on an unrecoverable storage error and
// returns the original error for the caller
func (s *Service) fail(ctx context.Context, session *models.ImportSession, cause error) error {
	if session.CanTransition(models.SessionStatusFailed) {
		session.Status = models.SessionStatusFailed
		if err := s.repos.Session.Update(ctx, session); err != nil {
			s.log.Error().Err(err).Str("session_id", session.ID).Msg("Failed to mark session failed")
		}
		s.audit(ctx, session.ID, models.AuditSessionFailed, "", cause.Error())
	}
	return cause
}

func (s *Service) audit(ctx context.Context, sessionID, event string, entity models.EntityType, detail string) {
	s.repos.Audit.Record(ctx, models.AuditEvent{
		SessionID:  sessionID,
		Event:      event,
		EntityType: entity,
		Detail:     detail,
		CreatedAt:  time.Now(),
	})
}

func summarize(entity models.EntityType, result *validation.Result) *ValidationSummary {
	errorRows := countRows(result.Errors)
	return &ValidationSummary{
		EntityType:   entity,
		TotalRows:    len(result.Valid) + errorRows,
		ValidRows:    len(result.Valid),
		ErrorRows:    errorRows,
		CountsByType: result.CountsByType,
	}
}

// countRows counts distinct source rows among errors (one row can carry
// several errors)
func countRows(errors []models.ImportError) int {
	seen := make(map[int]bool, len(errors))
	for _, e := range errors {
		seen[e.SourceRowNumber] = true
	}
	return len(seen)
}

// recordRow rebuilds a Row view of a mapped record for error storage
func recordRow(rec models.MappedRecord) models.Row {
	row := make(models.Row, len(rec.Fields))
	for k, v := range rec.Fields {
		row[k] = v
	}
	return row
}
