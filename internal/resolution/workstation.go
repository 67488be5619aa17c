// Package resolution is the operator-facing remediation loop over the error
// queue: filtered listing, single-error fixes with re-validation, and bulk
// actions applied per row.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/repository"
	"github.com/crm-migration-api/internal/validation"
	"github.com/rs/zerolog"
)

// RetryResult reports one row's retry: either the record committed and the
// error was deleted, or the error was replaced with refreshed classification.
type RetryResult struct {
	Success         bool                 `json:"success"`
	RecordID        string               `json:"record_id,omitempty"`
	RemainingErrors []models.ImportError `json:"remaining_errors,omitempty"`
}

// Workstation queries and remediates the error queue
type Workstation struct {
	repos  *repository.Repositories
	engine *validation.Engine
	log    zerolog.Logger
}

// New creates an error resolution workstation
func New(repos *repository.Repositories, engine *validation.Engine, log zerolog.Logger) *Workstation {
	return &Workstation{
		repos:  repos,
		engine: engine,
		log:    log.With().Str("service", "resolution").Logger(),
	}
}

// ListErrors returns the session's error queue narrowed by the filter,
// ordered by entity type and source row number
func (w *Workstation) ListErrors(ctx context.Context, sessionID string, filter models.ErrorFilter) ([]models.ImportError, error) {
	return w.repos.Error.List(ctx, sessionID, filter)
}

// ApplyFix layers operator-supplied field values over the error's original
// source data and re-runs validation on that single row. Success commits the
// record and deletes the row's errors; failure replaces the error with a
// refreshed one carrying the same source row number.
func (w *Workstation) ApplyFix(ctx context.Context, sessionID, errorID string, fixedFields map[string]string) (*RetryResult, error) {
	importError, err := w.repos.Error.GetByID(ctx, errorID)
	if err != nil {
		return nil, fmt.Errorf("load error: %w", err)
	}
	if importError == nil || importError.SessionID != sessionID {
		return nil, models.ErrErrorNotFound
	}

	set, err := w.repos.Session.GetMappings(ctx, sessionID, importError.EntityType)
	if err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}
	if set == nil {
		return nil, fmt.Errorf("no mappings for %s in session %s", importError.EntityType, sessionID)
	}

	// Overrides layer on top of the preserved source data; the original row
	// is never mutated in place.
	row := make(models.Row, len(importError.SourceData)+len(fixedFields))
	for k, v := range importError.SourceData {
		row[k] = v
	}
	for k, v := range fixedFields {
		row[k] = v
	}

	record, errs := w.engine.ValidateRow(ctx, sessionID, set, row, importError.SourceRowNumber)
	if record == nil {
		// The refreshed set supersedes everything queued for this row;
		// swapping only the targeted error would leave stale siblings behind.
		refreshed := make([]models.ImportError, len(errs))
		copy(refreshed, errs)
		if err := w.repos.Error.ReplaceForRow(ctx, sessionID, importError.EntityType, importError.SourceRowNumber, refreshed); err != nil {
			return nil, fmt.Errorf("replace row errors: %w", err)
		}
		return &RetryResult{Success: false, RemainingErrors: refreshed}, nil
	}

	results, err := w.repos.Record.CommitBatch(ctx, sessionID, []models.MappedRecord{*record})
	if err != nil {
		return nil, fmt.Errorf("commit retried row: %w", err)
	}
	if len(results) == 1 && !results[0].Success {
		refreshed := []models.ImportError{{
			ID:              importError.ID,
			SessionID:       sessionID,
			EntityType:      importError.EntityType,
			SourceRowNumber: importError.SourceRowNumber,
			SourceData:      row,
			ErrorMessage:    results[0].FailureReason,
			ErrorType:       models.ErrorTypeDuplicate,
			SuggestedFix:    models.SuggestedFixes[models.ErrorTypeDuplicate],
			CanRetry:        true,
			Severity:        models.DefaultSeverity(models.ErrorTypeDuplicate),
			Status:          models.ErrorStatusOpen,
			CreatedAt:       time.Now(),
		}}
		if err := w.repos.Error.ReplaceForRow(ctx, sessionID, importError.EntityType, importError.SourceRowNumber, refreshed); err != nil {
			return nil, fmt.Errorf("replace row errors: %w", err)
		}
		return &RetryResult{Success: false, RemainingErrors: refreshed}, nil
	}

	if err := w.repos.Error.DeleteForRow(ctx, sessionID, importError.EntityType, importError.SourceRowNumber); err != nil {
		return nil, fmt.Errorf("clear resolved errors: %w", err)
	}
	w.audit(ctx, sessionID, models.AuditErrorResolved, importError.EntityType,
		fmt.Sprintf("row %d committed on retry", importError.SourceRowNumber))
	return &RetryResult{Success: true, RecordID: results[0].RecordID}, nil
}

// BulkAction applies an operator action to every error matching the filter.
// Application is per row, reporting is all-or-nothing: failures never roll
// back the rows that succeeded.
func (w *Workstation) BulkAction(ctx context.Context, sessionID string, action models.BulkActionType, filter models.ErrorFilter) (*models.BulkSummary, error) {
	errors, err := w.repos.Error.List(ctx, sessionID, filter)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}

	summary := &models.BulkSummary{Matched: len(errors)}
	switch action {
	case models.BulkSkipAll:
		for _, e := range errors {
			if !e.ErrorType.Skippable() {
				summary.Failed++
				continue
			}
			if e.Status == models.ErrorStatusSkipped {
				summary.Skipped++
				continue
			}
			if err := w.repos.Error.SetStatus(ctx, e.ID, models.ErrorStatusSkipped); err != nil {
				w.log.Error().Err(err).Str("error_id", e.ID).Msg("Failed to skip error")
				summary.Failed++
				continue
			}
			w.audit(ctx, sessionID, models.AuditErrorSkipped, e.EntityType,
				fmt.Sprintf("row %d: %s (%s)", e.SourceRowNumber, e.ErrorMessage, e.ErrorType))
			summary.Succeeded++
		}
		w.addSkips(ctx, sessionID, summary.Succeeded)

	case models.BulkRetryAllFixable:
		// Rows already handled in this pass (a retry deletes the whole
		// row's errors) are skipped, not failed.
		handled := make(map[string]bool)
		for _, e := range errors {
			rowKey := fmt.Sprintf("%s:%d", e.EntityType, e.SourceRowNumber)
			if handled[rowKey] {
				summary.Skipped++
				continue
			}
			if !e.CanRetry || e.Status != models.ErrorStatusOpen {
				summary.Skipped++
				continue
			}
			result, err := w.ApplyFix(ctx, sessionID, e.ID, nil)
			if err != nil {
				w.log.Error().Err(err).Str("error_id", e.ID).Msg("Bulk retry failed")
				summary.Failed++
				continue
			}
			if result.Success {
				handled[rowKey] = true
				summary.Succeeded++
			} else {
				summary.Failed++
			}
		}

	case models.BulkMarkReviewed:
		for _, e := range errors {
			if err := w.repos.Error.SetStatus(ctx, e.ID, models.ErrorStatusReviewed); err != nil {
				w.log.Error().Err(err).Str("error_id", e.ID).Msg("Failed to mark error reviewed")
				summary.Failed++
				continue
			}
			summary.Succeeded++
		}

	default:
		return nil, fmt.Errorf("unknown bulk action %q", action)
	}

	w.log.Info().
		Str("session_id", sessionID).
		Str("action", string(action)).
		Int("matched", summary.Matched).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("Bulk action completed")
	return summary, nil
}

// addSkips bumps the session's skip counter. Best effort: the statuses on the
// error rows are authoritative, the counter is display state.
func (w *Workstation) addSkips(ctx context.Context, sessionID string, n int) {
	if n == 0 {
		return
	}
	session, err := w.repos.Session.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		w.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load session for skip count")
		return
	}
	session.SkippedCount += n
	if err := w.repos.Session.Update(ctx, session); err != nil {
		w.log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to update skip count")
	}
}

func (w *Workstation) audit(ctx context.Context, sessionID, event string, entity models.EntityType, detail string) {
	w.repos.Audit.Record(ctx, models.AuditEvent{
		SessionID:  sessionID,
		Event:      event,
		EntityType: entity,
		Detail:     detail,
		CreatedAt:  time.Now(),
	})
}
