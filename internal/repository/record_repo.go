package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crm-migration-api/internal/database"
	"github.com/crm-migration-api/internal/models"
	"github.com/google/uuid"
)

// recordRepo implements RecordStore over the committed-record table: the
// commit sink for validated batches and the existence lookup behind the
// reference and duplicate rules.
type recordRepo struct {
	db *database.DB
}

// NewRecordRepo creates a new committed-record store
func NewRecordRepo(db *database.DB) RecordStore {
	return &recordRepo{db: db}
}

// CommitBatch writes one entity type's validated records inside a single
// transaction: the batch either commits whole or aborts whole, while each
// record still gets an individual result. A record keeps its legacy id when
// the source mapped one; otherwise the sink assigns one.
func (r *recordRepo) CommitBatch(ctx context.Context, sessionID string, records []models.MappedRecord) ([]models.CommitResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO committed_records (session_id, entity_type, record_id, natural_key, fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_type, record_id) DO NOTHING
	`
	results := make([]models.CommitResult, 0, len(records))
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		recordID := rec.Fields["id"]
		if recordID == "" {
			recordID = uuid.New().String()
		}
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return nil, fmt.Errorf("marshal record fields for row %d: %w", rec.SourceRowNumber, err)
		}
		res, err := tx.ExecContext(ctx, insert,
			sessionID, rec.EntityType, recordID, naturalKeyValue(rec), fields, time.Now(),
		)
		if err != nil {
			return nil, fmt.Errorf("commit row %d: %w", rec.SourceRowNumber, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			results = append(results, models.CommitResult{
				SourceRowNumber: rec.SourceRowNumber,
				Success:         false,
				FailureReason:   fmt.Sprintf("a %s with id %q already exists", rec.EntityType, recordID),
			})
			continue
		}
		results = append(results, models.CommitResult{
			SourceRowNumber: rec.SourceRowNumber,
			RecordID:        recordID,
			Success:         true,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

// Exists reports whether a record of the entity type matches the given key
// field. The id field matches the assigned record id; any other field
// matches the stored natural key or the record's field map.
func (r *recordRepo) Exists(ctx context.Context, entity models.EntityType, field, value string) (bool, error) {
	var exists bool
	if field == "id" {
		query := `SELECT EXISTS(SELECT 1 FROM committed_records WHERE entity_type = $1 AND record_id = $2)`
		if err := r.db.QueryRowContext(ctx, query, entity, value).Scan(&exists); err != nil {
			return false, err
		}
		return exists, nil
	}
	query := `SELECT EXISTS(
		SELECT 1 FROM committed_records
		WHERE entity_type = $1 AND (lower(natural_key) = lower($2) OR fields->>$3 = $2)
	)`
	if err := r.db.QueryRowContext(ctx, query, entity, value, field).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func naturalKeyValue(rec models.MappedRecord) string {
	// The natural key column is denormalized for the duplicate rule's
	// case-insensitive lookups.
	for _, candidate := range []string{"email", "invoiceNumber"} {
		if v := rec.Fields[candidate]; v != "" {
			return v
		}
	}
	return ""
}
