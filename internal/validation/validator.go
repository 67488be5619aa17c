// Package validation evaluates a mapping set against a row set, partitioning
// rows into mapped records ready for commit and classified import errors.
// Fault isolation is the central invariant: one row's failure never affects
// the classification of any other row.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/schema"
	"github.com/crm-migration-api/internal/transform"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// validBooleans are the accepted boolean literals after lowercasing
var validBooleans = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true, "1": true, "0": true,
}

// Lookup answers whether a matching record already exists in the target
// system. It backs the reference and duplicate rules and is pluggable: the
// engine never embeds target-system knowledge.
type Lookup interface {
	Exists(ctx context.Context, entity models.EntityType, field, value string) (bool, error)
}

// Result partitions one validation pass. Valid and Errors together cover the
// input rows exactly, each tagged with its original 1-based source row
// number, in input order.
type Result struct {
	Valid        []models.MappedRecord
	Errors       []models.ImportError
	CountsByType map[models.ErrorType]int
}

// Engine runs the rule set over rows with a bounded worker pool. Rows are
// embarrassingly parallel; results are reassembled by row index so output
// order always matches input order.
type Engine struct {
	lookup  Lookup
	workers int
	log     zerolog.Logger
}

// NewEngine creates a validation engine. workers <= 0 falls back to 1.
func NewEngine(lookup Lookup, workers int, log zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		lookup:  lookup,
		workers: workers,
		log:     log.With().Str("component", "validation").Logger(),
	}
}

// rowOutcome is one row's classification, slotted by index for reassembly
type rowOutcome struct {
	record *models.MappedRecord
	errs   []models.ImportError
}

// Validate evaluates every row against the mapping set. Transformations run
// first, so every rule sees post-transform values. Returns an error only on
// cancellation; per-row failures are data, not errors.
func (e *Engine) Validate(ctx context.Context, sessionID string, set *models.MappingSet, rows []models.Row) (*Result, error) {
	dupSources := set.DuplicateSources()
	batchDups := e.findBatchDuplicates(set, rows)

	outcomes := make([]rowOutcome, len(rows))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = e.validateRow(ctx, sessionID, set, rows[i], i+1, dupSources, batchDups[i])
			}
		}()
	}

	var cancelled error
feed:
	for i := range rows {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return nil, cancelled
	}

	result := &Result{CountsByType: make(map[models.ErrorType]int)}
	for _, out := range outcomes {
		if out.record != nil {
			result.Valid = append(result.Valid, *out.record)
			continue
		}
		result.Errors = append(result.Errors, out.errs...)
		for _, ie := range out.errs {
			result.CountsByType[ie.ErrorType]++
		}
	}
	return result, nil
}

// ValidateRow re-evaluates a single row, used by the error resolution
// workstation when operator fixes are layered onto the original source data.
func (e *Engine) ValidateRow(ctx context.Context, sessionID string, set *models.MappingSet, row models.Row, rowNumber int) (*models.MappedRecord, []models.ImportError) {
	out := e.validateRow(ctx, sessionID, set, row, rowNumber, set.DuplicateSources(), false)
	return out.record, out.errs
}

// validateRow runs the full rule order for one row. Any panic is captured as
// a system error on this row only.
func (e *Engine) validateRow(ctx context.Context, sessionID string, set *models.MappingSet, row models.Row, rowNumber int, dupSources map[string][]string, batchDup bool) (out rowOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Int("row", rowNumber).Msg("Row evaluation panicked")
			out = rowOutcome{errs: []models.ImportError{
				e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeSystem, "", fmt.Sprintf("internal error evaluating row: %v", r)),
			}}
		}
	}()

	// Transformations run before validation
	record := make(map[string]string, len(set.Mappings))
	for _, m := range set.Mappings {
		if m.SourceField == "" {
			continue
		}
		value, err := transform.Apply(m.Transformation, row[m.SourceField])
		if err != nil {
			return rowOutcome{errs: []models.ImportError{
				e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeSystem, m.TargetField,
					fmt.Sprintf("transformation failed for %s: %v", m.TargetField, err)),
			}}
		}
		record[m.TargetField] = value
	}

	var errs []models.ImportError
	failed := make(map[string]bool)

	// Rule 1: required fields must have a non-empty mapped value
	for _, m := range set.Mappings {
		if !m.Required {
			continue
		}
		if m.SourceField == "" {
			errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeRequired, m.TargetField,
				fmt.Sprintf("required field %s has no source column mapped", m.TargetField)))
			failed[m.TargetField] = true
		} else if record[m.TargetField] == "" {
			errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeRequired, m.TargetField,
				fmt.Sprintf("required field %s is empty", m.TargetField)))
			failed[m.TargetField] = true
		}
	}

	// Rule 2: duplicate source mapping, surfaced once per affected row
	for src, targets := range dupSources {
		if row[src] == "" {
			continue
		}
		errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeValidation, "",
			fmt.Sprintf("source column %q is mapped to multiple target fields: %s", src, strings.Join(targets, ", "))))
		break
	}

	// Rule 3: per-field format checks on non-empty values
	for _, m := range set.Mappings {
		value := record[m.TargetField]
		if m.SourceField == "" || value == "" || failed[m.TargetField] {
			continue
		}
		if msg := checkFormat(m.DataType, value); msg != "" {
			errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeFormat, m.TargetField,
				fmt.Sprintf("%s: %s", m.TargetField, msg)))
			failed[m.TargetField] = true
		}
	}

	// Rule 4: references must resolve against existing target records
	for _, m := range set.Mappings {
		value := record[m.TargetField]
		if value == "" || failed[m.TargetField] {
			continue
		}
		field, ok := schema.Field(set.EntityType, m.TargetField)
		if !ok || field.Reference == "" {
			continue
		}
		exists, err := e.lookup.Exists(ctx, field.Reference, "id", value)
		if err != nil {
			errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeSystem, m.TargetField,
				fmt.Sprintf("reference check failed for %s: %v", m.TargetField, err)))
			failed[m.TargetField] = true
			continue
		}
		if !exists {
			errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeReference, m.TargetField,
				fmt.Sprintf("%s references %s %q which does not exist", m.TargetField, field.Reference, value)))
			failed[m.TargetField] = true
		}
	}

	// Rule 5: natural-key collision with an existing record or an earlier row
	if nk, ok := schema.NaturalKey(set.EntityType); ok && !failed[nk.Name] {
		if value := record[nk.Name]; value != "" {
			if batchDup {
				errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeDuplicate, nk.Name,
					fmt.Sprintf("%s %q duplicates an earlier row in this file", nk.Name, value)))
			} else if exists, err := e.lookup.Exists(ctx, set.EntityType, nk.Name, value); err != nil {
				errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeSystem, nk.Name,
					fmt.Sprintf("duplicate check failed for %s: %v", nk.Name, err)))
			} else if exists {
				errs = append(errs, e.newError(sessionID, set.EntityType, rowNumber, row, models.ErrorTypeDuplicate, nk.Name,
					fmt.Sprintf("a %s with %s %q already exists", set.EntityType, nk.Name, value)))
			}
		}
	}

	if len(errs) > 0 {
		return rowOutcome{errs: errs}
	}
	return rowOutcome{record: &models.MappedRecord{
		EntityType:      set.EntityType,
		SourceRowNumber: rowNumber,
		Fields:          record,
	}}
}

// findBatchDuplicates marks rows whose natural key repeats a value from an
// earlier row in the same batch. Computed up front so parallel row workers
// classify deterministically.
func (e *Engine) findBatchDuplicates(set *models.MappingSet, rows []models.Row) []bool {
	dups := make([]bool, len(rows))
	nk, ok := schema.NaturalKey(set.EntityType)
	if !ok {
		return dups
	}
	m, ok := set.Get(nk.Name)
	if !ok || m.SourceField == "" {
		return dups
	}
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		value, err := transform.Apply(m.Transformation, row[m.SourceField])
		if err != nil || value == "" {
			continue
		}
		key := strings.ToLower(value)
		if seen[key] {
			dups[i] = true
		}
		seen[key] = true
	}
	return dups
}

func checkFormat(dt models.DataType, value string) string {
	switch dt {
	case models.DataTypeEmail:
		if !emailRegex.MatchString(value) {
			return fmt.Sprintf("invalid email format %q", value)
		}
	case models.DataTypePhone:
		digits := transform.Digits(value)
		if len(digits) < 7 || len(digits) > 15 {
			return fmt.Sprintf("invalid phone number %q", value)
		}
	case models.DataTypeDate:
		if _, err := transform.ParseDate(value); err != nil {
			return fmt.Sprintf("invalid date %q", value)
		}
	case models.DataTypeNumber:
		if _, err := parseNumber(value); err != nil {
			return fmt.Sprintf("invalid number %q", value)
		}
	case models.DataTypeBoolean:
		if !validBooleans[strings.ToLower(value)] {
			return fmt.Sprintf("invalid boolean %q", value)
		}
	}
	return ""
}

// parseNumber accepts numeric literals with currency symbols and thousands
// separators stripped
func parseNumber(s string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	return strconv.ParseFloat(cleaned, 64)
}

func (e *Engine) newError(sessionID string, entity models.EntityType, rowNumber int, row models.Row, errType models.ErrorType, field, message string) models.ImportError {
	return models.ImportError{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		EntityType:      entity,
		SourceRowNumber: rowNumber,
		SourceData:      row,
		ErrorMessage:    message,
		ErrorType:       errType,
		Field:           field,
		SuggestedFix:    models.SuggestedFixes[errType],
		CanRetry:        errType == models.ErrorTypeReference || errType == models.ErrorTypeDuplicate || errType == models.ErrorTypeSystem,
		Severity:        models.DefaultSeverity(errType),
		Status:          models.ErrorStatusOpen,
		CreatedAt:       time.Now(),
	}
}
