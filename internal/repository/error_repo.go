package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crm-migration-api/internal/database"
	"github.com/crm-migration-api/internal/models"
	"github.com/lib/pq"
)

// errorRepo is the concrete implementation of ErrorRepository
type errorRepo struct {
	db *database.DB
}

// NewErrorRepo creates a new error queue repository
func NewErrorRepo(db *database.DB) ErrorRepository {
	return &errorRepo{db: db}
}

// BulkInsert writes errors using the COPY protocol. A large file with a high
// error rate produces tens of thousands of rows per pass; COPY keeps that
// flat compared to per-row INSERTs.
func (r *errorRepo) BulkInsert(ctx context.Context, errors []models.ImportError) error {
	if len(errors) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("import_errors",
		"id", "session_id", "entity_type", "source_row_number", "source_data",
		"error_message", "error_type", "field", "suggested_fix", "can_retry",
		"severity", "status", "created_at",
	))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range errors {
		sourceData, err := json.Marshal(e.SourceData)
		if err != nil {
			return fmt.Errorf("marshal source data for row %d: %w", e.SourceRowNumber, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.SessionID, e.EntityType, e.SourceRowNumber, string(sourceData),
			e.ErrorMessage, e.ErrorType, e.Field, e.SuggestedFix, e.CanRetry,
			e.Severity, e.Status, e.CreatedAt,
		); err != nil {
			return err
		}
	}

	// Flush the COPY buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

// List queries the error queue with optional filters, ordered by source row
// number for operator traceability
func (r *errorRepo) List(ctx context.Context, sessionID string, filter models.ErrorFilter) ([]models.ImportError, error) {
	query := `
		SELECT id, session_id, entity_type, source_row_number, source_data, error_message,
			error_type, field, suggested_fix, can_retry, severity, status, created_at
		FROM import_errors WHERE session_id = $1
	`
	args := []interface{}{sessionID}
	n := 2
	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", n)
		args = append(args, filter.EntityType)
		n++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(" AND error_type = $%d", n)
		args = append(args, filter.ErrorType)
		n++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", n)
		args = append(args, filter.Severity)
		n++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, filter.Status)
		n++
	}
	if filter.TextSearch != "" {
		query += fmt.Sprintf(" AND (error_message ILIKE $%d OR field ILIKE $%d OR source_data::text ILIKE $%d)", n, n, n)
		args = append(args, "%"+filter.TextSearch+"%")
		n++
	}
	query += " ORDER BY entity_type, source_row_number"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errors []models.ImportError
	for rows.Next() {
		e, err := scanImportError(rows)
		if err != nil {
			return nil, err
		}
		errors = append(errors, *e)
	}
	return errors, rows.Err()
}

// GetByID retrieves one error; nil when not found
func (r *errorRepo) GetByID(ctx context.Context, id string) (*models.ImportError, error) {
	query := `
		SELECT id, session_id, entity_type, source_row_number, source_data, error_message,
			error_type, field, suggested_fix, can_retry, severity, status, created_at
		FROM import_errors WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	e, err := scanImportError(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ReplaceForRow swaps every error queued for one source row with its
// refreshed successors in a single transaction, so a retried row never
// carries stale siblings alongside the re-validated set
func (r *errorRepo) ReplaceForRow(ctx context.Context, sessionID string, entity models.EntityType, rowNumber int, updated []models.ImportError) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM import_errors WHERE session_id = $1 AND entity_type = $2 AND source_row_number = $3`,
		sessionID, entity, rowNumber,
	); err != nil {
		return err
	}
	insert := `
		INSERT INTO import_errors (id, session_id, entity_type, source_row_number, source_data,
			error_message, error_type, field, suggested_fix, can_retry, severity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	for _, e := range updated {
		sourceData, err := json.Marshal(e.SourceData)
		if err != nil {
			return fmt.Errorf("marshal source data for row %d: %w", e.SourceRowNumber, err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			e.ID, e.SessionID, e.EntityType, e.SourceRowNumber, sourceData,
			e.ErrorMessage, e.ErrorType, e.Field, e.SuggestedFix, e.CanRetry,
			e.Severity, e.Status, e.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes an error whose row was accepted on retry
func (r *errorRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM import_errors WHERE id = $1`, id)
	return err
}

// DeleteForRow removes every error queued for one source row, used when a
// retried row is accepted
func (r *errorRepo) DeleteForRow(ctx context.Context, sessionID string, entity models.EntityType, rowNumber int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM import_errors WHERE session_id = $1 AND entity_type = $2 AND source_row_number = $3`,
		sessionID, entity, rowNumber,
	)
	return err
}

// DeleteForEntity discards all queued errors for an entity type, used when a
// mapping edit invalidates prior validation results
func (r *errorRepo) DeleteForEntity(ctx context.Context, sessionID string, entity models.EntityType) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM import_errors WHERE session_id = $1 AND entity_type = $2`,
		sessionID, entity,
	)
	return err
}

// SetStatus updates an error's remediation status
func (r *errorRepo) SetStatus(ctx context.Context, id string, status models.ErrorStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE import_errors SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrErrorNotFound
	}
	return nil
}

// CountByType returns per-error-type counts for operator display
func (r *errorRepo) CountByType(ctx context.Context, sessionID string, entity models.EntityType) (map[models.ErrorType]int, error) {
	query := `
		SELECT error_type, COUNT(*) FROM import_errors
		WHERE session_id = $1 AND entity_type = $2 AND status = 'open'
		GROUP BY error_type
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ErrorType]int)
	for rows.Next() {
		var et models.ErrorType
		var count int
		if err := rows.Scan(&et, &count); err != nil {
			return nil, err
		}
		counts[et] = count
	}
	return counts, rows.Err()
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanImportError(s scanner) (*models.ImportError, error) {
	var e models.ImportError
	var sourceData []byte
	var field, suggestedFix sql.NullString
	err := s.Scan(
		&e.ID, &e.SessionID, &e.EntityType, &e.SourceRowNumber, &sourceData,
		&e.ErrorMessage, &e.ErrorType, &field, &suggestedFix, &e.CanRetry,
		&e.Severity, &e.Status, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Field = field.String
	e.SuggestedFix = suggestedFix.String
	if err := json.Unmarshal(sourceData, &e.SourceData); err != nil {
		return nil, fmt.Errorf("unmarshal source data: %w", err)
	}
	return &e, nil
}
