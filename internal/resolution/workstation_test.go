package resolution_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/crm-migration-api/internal/mocks"
	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/repository"
	"github.com/crm-migration-api/internal/resolution"
	"github.com/crm-migration-api/internal/validation"
	"github.com/rs/zerolog"
)

const sessionID = "sess-1"

type fixture struct {
	ws      *resolution.Workstation
	repos   *repository.Repositories
	errs    *mocks.ErrorRepo
	records *mocks.RecordStore
	audit   *mocks.AuditSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	errRepo := mocks.NewErrorRepo()
	records := mocks.NewRecordStore()
	audit := mocks.NewAuditSink()
	repos := &repository.Repositories{
		Session:  mocks.NewSessionRepo(),
		Error:    errRepo,
		Template: mocks.NewTemplateStore(),
		Record:   records,
		Audit:    audit,
	}
	engine := validation.NewEngine(records, 2, zerolog.Nop())
	ws := resolution.New(repos, engine, zerolog.Nop())

	set := &models.MappingSet{
		SessionID:  sessionID,
		EntityType: models.EntityClients,
		Version:    1,
		Mappings: []models.FieldMapping{
			{SourceField: "Company", TargetField: "name", DataType: models.DataTypeString, Required: true},
			{SourceField: "Email", TargetField: "email", DataType: models.DataTypeEmail, Required: true},
		},
	}
	if err := repos.Session.SaveMappings(context.Background(), set); err != nil {
		t.Fatalf("seed mappings: %v", err)
	}
	err := repos.Session.Create(context.Background(), &models.ImportSession{
		ID:          sessionID,
		FirmID:      "firm-1",
		Status:      models.SessionStatusValidating,
		EntityTypes: []models.EntityType{models.EntityClients},
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return &fixture{ws: ws, repos: repos, errs: errRepo, records: records, audit: audit}
}

func seedError(f *fixture, id string, rowNumber int, errType models.ErrorType, row models.Row) {
	f.errs.Errors = append(f.errs.Errors, models.ImportError{
		ID:              id,
		SessionID:       sessionID,
		EntityType:      models.EntityClients,
		SourceRowNumber: rowNumber,
		SourceData:      row,
		ErrorMessage:    fmt.Sprintf("seeded %s error", errType),
		ErrorType:       errType,
		CanRetry:        errType == models.ErrorTypeReference || errType == models.ErrorTypeDuplicate || errType == models.ErrorTypeSystem,
		Severity:        models.DefaultSeverity(errType),
		Status:          models.ErrorStatusOpen,
		CreatedAt:       time.Now(),
	})
}

func TestApplyFixCommitsRepairedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedError(f, "e1", 4, models.ErrorTypeFormat, models.Row{"Company": "Acme", "Email": "not-an-email"})

	result, err := f.ws.ApplyFix(ctx, sessionID, "e1", map[string]string{"Email": "info@acme.com"})
	if err != nil {
		t.Fatalf("ApplyFix failed: %v", err)
	}
	if !result.Success || result.RecordID == "" {
		t.Fatalf("result = %+v, want success with record id", result)
	}
	if len(f.errs.Errors) != 0 {
		t.Errorf("resolved row's errors should be deleted, %d remain", len(f.errs.Errors))
	}
	if len(f.records.Committed) != 1 {
		t.Errorf("committed records = %d, want 1", len(f.records.Committed))
	}
	names := f.audit.EventNames(sessionID)
	if len(names) != 1 || names[0] != models.AuditErrorResolved {
		t.Errorf("audit trail = %v, want error_resolved", names)
	}
}

func TestApplyFixKeepsRowNumberOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedError(f, "e1", 4, models.ErrorTypeFormat, models.Row{"Company": "Acme", "Email": "not-an-email"})

	result, err := f.ws.ApplyFix(ctx, sessionID, "e1", map[string]string{"Email": "still-bad"})
	if err != nil {
		t.Fatalf("ApplyFix failed: %v", err)
	}
	if result.Success {
		t.Fatal("a still-invalid row must not commit")
	}
	if len(result.RemainingErrors) != 1 {
		t.Fatalf("remaining errors = %v", result.RemainingErrors)
	}
	if result.RemainingErrors[0].SourceRowNumber != 4 {
		t.Errorf("row number = %d, want the original 4", result.RemainingErrors[0].SourceRowNumber)
	}
	if len(f.errs.Errors) != 1 {
		t.Errorf("queue should hold the refreshed error, got %d", len(f.errs.Errors))
	}
	if len(f.records.Committed) != 0 {
		t.Error("nothing should commit on a failed fix")
	}
}

func TestApplyFixRefreshesWholeRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Row 4 carries two defects; repairing only the email must leave the
	// queue with exactly the re-validated set, not the stale sibling plus
	// its refreshed twin.
	row := models.Row{"Company": "", "Email": "not-an-email"}
	seedError(f, "e1", 4, models.ErrorTypeFormat, row)
	seedError(f, "e2", 4, models.ErrorTypeRequired, row)

	result, err := f.ws.ApplyFix(ctx, sessionID, "e1", map[string]string{"Email": "info@acme.com"})
	if err != nil {
		t.Fatalf("ApplyFix failed: %v", err)
	}
	if result.Success {
		t.Fatal("row still misses a required field, must not commit")
	}
	if len(f.errs.Errors) != 1 {
		t.Fatalf("queue = %d errors, want 1 for the single remaining defect", len(f.errs.Errors))
	}
	remaining := f.errs.Errors[0]
	if remaining.ErrorType != models.ErrorTypeRequired || remaining.SourceRowNumber != 4 {
		t.Errorf("remaining = %s on row %d, want required on row 4", remaining.ErrorType, remaining.SourceRowNumber)
	}
}

func TestApplyFixDuplicateAtSink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The natural key is free at validation time but the sink rejects the
	// record id; the error refreshes as a duplicate.
	f.records.CommitBatchFunc = func(ctx context.Context, sid string, records []models.MappedRecord) ([]models.CommitResult, error) {
		return []models.CommitResult{{
			SourceRowNumber: records[0].SourceRowNumber,
			Success:         false,
			FailureReason:   "a clients with id \"7\" already exists",
		}}, nil
	}
	seedError(f, "e1", 4, models.ErrorTypeDuplicate, models.Row{"Company": "Acme", "Email": "info@acme.com"})

	result, err := f.ws.ApplyFix(ctx, sessionID, "e1", nil)
	if err != nil {
		t.Fatalf("ApplyFix failed: %v", err)
	}
	if result.Success {
		t.Fatal("sink rejection must not report success")
	}
	if len(result.RemainingErrors) != 1 || result.RemainingErrors[0].ErrorType != models.ErrorTypeDuplicate {
		t.Errorf("remaining = %v, want one duplicate", result.RemainingErrors)
	}
}

func TestApplyFixUnknownError(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ws.ApplyFix(context.Background(), sessionID, "nope", nil); !errors.Is(err, models.ErrErrorNotFound) {
		t.Errorf("err = %v, want ErrErrorNotFound", err)
	}
}

func TestApplyFixScopedToSession(t *testing.T) {
	f := newFixture(t)
	seedError(f, "e1", 4, models.ErrorTypeFormat, models.Row{"Company": "Acme", "Email": "x"})
	if _, err := f.ws.ApplyFix(context.Background(), "other-session", "e1", nil); !errors.Is(err, models.ErrErrorNotFound) {
		t.Errorf("err = %v, want ErrErrorNotFound for foreign session", err)
	}
}

func TestBulkSkipAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedError(f, "e1", 1, models.ErrorTypeDuplicate, models.Row{"Email": "a@x.com"})
	seedError(f, "e2", 2, models.ErrorTypeReference, models.Row{"Email": "b@x.com"})
	seedError(f, "e3", 3, models.ErrorTypeFormat, models.Row{"Email": "c"})
	seedError(f, "e4", 4, models.ErrorTypeRequired, models.Row{"Email": ""})

	summary, err := f.ws.BulkAction(ctx, sessionID, models.BulkSkipAll, models.ErrorFilter{})
	if err != nil {
		t.Fatalf("BulkAction failed: %v", err)
	}
	if summary.Matched != 4 || summary.Succeeded != 3 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want 4 matched / 3 skipped / 1 refused", summary)
	}

	// Hard blockers stay open; the rest are marked skipped
	for _, e := range f.errs.Errors {
		want := models.ErrorStatusSkipped
		if e.ErrorType == models.ErrorTypeRequired {
			want = models.ErrorStatusOpen
		}
		if e.Status != want {
			t.Errorf("error %s status = %s, want %s", e.ID, e.Status, want)
		}
	}

	// The session-level skip counter follows
	sess, _ := f.repos.Session.GetByID(ctx, sessionID)
	if sess.SkippedCount != 3 {
		t.Errorf("skipped count = %d, want 3", sess.SkippedCount)
	}

	// Every skip is individually audited
	names := f.audit.EventNames(sessionID)
	skips := 0
	for _, n := range names {
		if n == models.AuditErrorSkipped {
			skips++
		}
	}
	if skips != 3 {
		t.Errorf("audited skips = %d, want 3", skips)
	}
}

func TestBulkRetryAllFixable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Six rows became valid since the errors were queued, four are still bad
	for i := 1; i <= 6; i++ {
		seedError(f, fmt.Sprintf("good-%d", i), i, models.ErrorTypeReference,
			models.Row{"Company": "Acme", "Email": fmt.Sprintf("fixed%d@acme.com", i)})
	}
	for i := 7; i <= 10; i++ {
		seedError(f, fmt.Sprintf("bad-%d", i), i, models.ErrorTypeReference,
			models.Row{"Company": "Acme", "Email": "still-broken"})
	}

	summary, err := f.ws.BulkAction(ctx, sessionID, models.BulkRetryAllFixable, models.ErrorFilter{})
	if err != nil {
		t.Fatalf("BulkAction failed: %v", err)
	}
	if summary.Matched != 10 || summary.Succeeded != 6 || summary.Failed != 4 {
		t.Fatalf("summary = %+v, want 10 matched / 6 succeeded / 4 failed", summary)
	}
	if len(f.records.Committed) != 6 {
		t.Errorf("committed = %d, want the 6 repaired rows", len(f.records.Committed))
	}
	// Partial success never rolls back: the 6 stay committed, the 4 stay queued
	if len(f.errs.Errors) != 4 {
		t.Errorf("queued errors = %d, want 4", len(f.errs.Errors))
	}
}

func TestBulkRetrySkipsNonRetryable(t *testing.T) {
	f := newFixture(t)
	seedError(f, "e1", 1, models.ErrorTypeRequired, models.Row{"Company": "", "Email": "a@x.com"})

	summary, err := f.ws.BulkAction(context.Background(), sessionID, models.BulkRetryAllFixable, models.ErrorFilter{})
	if err != nil {
		t.Fatalf("BulkAction failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want the non-retryable error skipped", summary)
	}
}

func TestBulkMarkReviewed(t *testing.T) {
	f := newFixture(t)
	seedError(f, "e1", 1, models.ErrorTypeFormat, models.Row{"Email": "c"})
	seedError(f, "e2", 2, models.ErrorTypeDuplicate, models.Row{"Email": "a@x.com"})

	summary, err := f.ws.BulkAction(context.Background(), sessionID, models.BulkMarkReviewed, models.ErrorFilter{})
	if err != nil {
		t.Fatalf("BulkAction failed: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Errorf("summary = %+v, want 2 reviewed", summary)
	}
	for _, e := range f.errs.Errors {
		if e.Status != models.ErrorStatusReviewed {
			t.Errorf("error %s status = %s, want reviewed", e.ID, e.Status)
		}
	}
}

func TestBulkUnknownAction(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ws.BulkAction(context.Background(), sessionID, "explode", models.ErrorFilter{}); err == nil {
		t.Error("unknown bulk action should be rejected")
	}
}

func TestListErrorsFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedError(f, "e1", 1, models.ErrorTypeFormat, models.Row{"Email": "c"})
	seedError(f, "e2", 2, models.ErrorTypeDuplicate, models.Row{"Email": "a@x.com"})

	all, err := f.ws.ListErrors(ctx, sessionID, models.ErrorFilter{})
	if err != nil {
		t.Fatalf("ListErrors failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all errors = %d, want 2", len(all))
	}

	dups, err := f.ws.ListErrors(ctx, sessionID, models.ErrorFilter{ErrorType: models.ErrorTypeDuplicate})
	if err != nil {
		t.Fatalf("ListErrors failed: %v", err)
	}
	if len(dups) != 1 || dups[0].ID != "e2" {
		t.Errorf("filtered = %v, want only e2", dups)
	}
}
