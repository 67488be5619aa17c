package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crm-migration-api/internal/database"
	"github.com/crm-migration-api/internal/models"
	"github.com/lib/pq"
)

// sessionRepo is the concrete implementation of SessionRepository
type sessionRepo struct {
	db *database.DB
}

// NewSessionRepo creates a new session repository
func NewSessionRepo(db *database.DB) SessionRepository {
	return &sessionRepo{db: db}
}

// Create inserts a new session
func (r *sessionRepo) Create(ctx context.Context, session *models.ImportSession) error {
	query := `
		INSERT INTO import_sessions (id, firm_id, status, entity_types, committed_batches, skipped_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.FirmID, session.Status,
		pq.Array(entityStrings(session.EntityTypes)),
		pq.Array(entityStrings(session.CommittedBatches)),
		session.SkippedCount, session.CreatedAt, session.UpdatedAt,
	)
	return err
}

// Update persists status, committed batches and counters
func (r *sessionRepo) Update(ctx context.Context, session *models.ImportSession) error {
	query := `
		UPDATE import_sessions
		SET status = $1, entity_types = $2, committed_batches = $3, skipped_count = $4, updated_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query,
		session.Status,
		pq.Array(entityStrings(session.EntityTypes)),
		pq.Array(entityStrings(session.CommittedBatches)),
		session.SkippedCount, time.Now(), session.ID,
	)
	return err
}

// GetByID retrieves a session by ID; nil when not found
func (r *sessionRepo) GetByID(ctx context.Context, id string) (*models.ImportSession, error) {
	query := `
		SELECT id, firm_id, status, entity_types, committed_batches, skipped_count, created_at, updated_at
		FROM import_sessions WHERE id = $1
	`
	var session models.ImportSession
	var entityTypes, committed []string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.FirmID, &session.Status,
		pq.Array(&entityTypes), pq.Array(&committed),
		&session.SkippedCount, &session.CreatedAt, &session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session.EntityTypes = toEntityTypes(entityTypes)
	session.CommittedBatches = toEntityTypes(committed)
	return &session, nil
}

// SaveFile stores a parsed file descriptor together with its row set. A
// re-upload for the same (session, entity type) replaces the previous file.
func (r *sessionRepo) SaveFile(ctx context.Context, file *models.UploadedFile) error {
	headers, err := json.Marshal(file.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	rows, err := json.Marshal(file.Rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	suggestions, err := json.Marshal(file.SuggestedMappings)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}

	query := `
		INSERT INTO uploaded_files (id, session_id, file_name, original_file_name, file_size_bytes,
			entity_type, headers, total_records, rows, suggested_mappings, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, entity_type) DO UPDATE SET
			id = EXCLUDED.id, file_name = EXCLUDED.file_name,
			original_file_name = EXCLUDED.original_file_name,
			file_size_bytes = EXCLUDED.file_size_bytes, headers = EXCLUDED.headers,
			total_records = EXCLUDED.total_records, rows = EXCLUDED.rows,
			suggested_mappings = EXCLUDED.suggested_mappings, uploaded_at = EXCLUDED.uploaded_at
	`
	_, err = r.db.ExecContext(ctx, query,
		file.ID, file.SessionID, file.FileName, file.OriginalFileName, file.FileSizeBytes,
		file.EntityType, headers, file.TotalRecords, rows, suggestions, file.UploadedAt,
	)
	return err
}

// GetFile retrieves the current file for a (session, entity type) pair
func (r *sessionRepo) GetFile(ctx context.Context, sessionID string, entity models.EntityType) (*models.UploadedFile, error) {
	query := `
		SELECT id, session_id, file_name, original_file_name, file_size_bytes,
			entity_type, headers, total_records, rows, suggested_mappings, uploaded_at
		FROM uploaded_files WHERE session_id = $1 AND entity_type = $2
	`
	var file models.UploadedFile
	var headers, rows, suggestions []byte
	err := r.db.QueryRowContext(ctx, query, sessionID, entity).Scan(
		&file.ID, &file.SessionID, &file.FileName, &file.OriginalFileName, &file.FileSizeBytes,
		&file.EntityType, &headers, &file.TotalRecords, &rows, &suggestions, &file.UploadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(headers, &file.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	if err := json.Unmarshal(rows, &file.Rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	if err := json.Unmarshal(suggestions, &file.SuggestedMappings); err != nil {
		return nil, fmt.Errorf("unmarshal suggestions: %w", err)
	}
	return &file, nil
}

// SaveMappings writes a mapping set with an optimistic version check. A
// write carrying a stale version affects zero rows and fails with
// ErrMappingConflict so concurrent operator edits are never silently merged.
func (r *sessionRepo) SaveMappings(ctx context.Context, set *models.MappingSet) error {
	mappings, err := json.Marshal(set.Mappings)
	if err != nil {
		return fmt.Errorf("marshal mappings: %w", err)
	}

	query := `
		INSERT INTO mapping_sets (session_id, entity_type, version, mappings, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, entity_type) DO UPDATE SET
			version = EXCLUDED.version, mappings = EXCLUDED.mappings, updated_at = EXCLUDED.updated_at
		WHERE mapping_sets.version = EXCLUDED.version - 1
	`
	result, err := r.db.ExecContext(ctx, query,
		set.SessionID, set.EntityType, set.Version, mappings, time.Now(),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrMappingConflict
	}
	return nil
}

// GetMappings retrieves the mapping set for a (session, entity type) pair
func (r *sessionRepo) GetMappings(ctx context.Context, sessionID string, entity models.EntityType) (*models.MappingSet, error) {
	query := `
		SELECT session_id, entity_type, version, mappings, updated_at
		FROM mapping_sets WHERE session_id = $1 AND entity_type = $2
	`
	var set models.MappingSet
	var mappings []byte
	err := r.db.QueryRowContext(ctx, query, sessionID, entity).Scan(
		&set.SessionID, &set.EntityType, &set.Version, &mappings, &set.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mappings, &set.Mappings); err != nil {
		return nil, fmt.Errorf("unmarshal mappings: %w", err)
	}
	return &set, nil
}

func entityStrings(entities []models.EntityType) []string {
	out := make([]string, len(entities))
	for i, et := range entities {
		out[i] = string(et)
	}
	return out
}

func toEntityTypes(ss []string) []models.EntityType {
	out := make([]models.EntityType, len(ss))
	for i, s := range ss {
		out[i] = models.EntityType(s)
	}
	return out
}
