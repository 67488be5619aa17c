package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/crm-migration-api/internal/config"
	"github.com/crm-migration-api/internal/mocks"
	"github.com/crm-migration-api/internal/models"
	"github.com/crm-migration-api/internal/parser"
	"github.com/crm-migration-api/internal/repository"
	"github.com/crm-migration-api/internal/session"
	"github.com/crm-migration-api/internal/validation"
	"github.com/rs/zerolog"
)

type fixture struct {
	svc     *session.Service
	repos   *repository.Repositories
	errs    *mocks.ErrorRepo
	records *mocks.RecordStore
	audit   *mocks.AuditSink
}

func newFixture() *fixture {
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
	cfg := &config.Config{
		Migration: config.MigrationConfig{BatchSize: 500, PreviewRows: 5, Workers: 2},
	}
	engine := validation.NewEngine(records, cfg.Migration.Workers, zerolog.Nop())
	svc := session.NewService(repos, engine, parser.New(cfg.Migration.PreviewRows), cfg, zerolog.Nop())
	return &fixture{svc: svc, repos: repos, errs: errRepo, records: records, audit: audit}
}

var (
	clientsCSV  = []byte("Client ID,Company,Email\n7,Acme,info@acme.com\n8,Globex,hi@globex.com\n")
	projectsCSV = []byte("Project Name,Client\nWebsite,7\nRebrand,8\n")
)

func TestCreateAndUploadFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sess, err := f.svc.CreateSession(ctx, "firm-1", nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if sess.Status != models.SessionStatusCreated {
		t.Errorf("status = %s, want created", sess.Status)
	}

	file, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", clientsCSV, "")
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if file.EntityType != models.EntityClients {
		t.Errorf("entity type = %s, want clients", file.EntityType)
	}
	if file.TotalRecords != 2 {
		t.Errorf("total records = %d, want 2", file.TotalRecords)
	}

	overview, err := f.svc.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if overview.Session.Status != models.SessionStatusMapping {
		t.Errorf("status after upload = %s, want mapping", overview.Session.Status)
	}
	if !overview.Session.HasEntity(models.EntityClients) {
		t.Error("uploaded entity type should join the session")
	}

	// Mappings are seeded from suggestions
	set, err := f.svc.GetMappings(ctx, sess.ID, models.EntityClients)
	if err != nil {
		t.Fatalf("GetMappings failed: %v", err)
	}
	if set.Version != 1 {
		t.Errorf("mapping version = %d, want 1", set.Version)
	}
	name, _ := set.Get("name")
	if name.SourceField != "Company" {
		t.Errorf("name bound to %q, want Company", name.SourceField)
	}
	id, _ := set.Get("id")
	if id.SourceField != "Client ID" {
		t.Errorf("id bound to %q, want Client ID", id.SourceField)
	}

	names := f.audit.EventNames(sess.ID)
	if len(names) < 2 || names[0] != models.AuditSessionCreated || names[1] != models.AuditFileUploaded {
		t.Errorf("audit trail = %v", names)
	}
}

func TestCreateSessionRejectsUnknownEntity(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.CreateSession(context.Background(), "firm-1", []models.EntityType{"widgets"}); !errors.Is(err, models.ErrUnknownEntityType) {
		t.Errorf("err = %v, want ErrUnknownEntityType", err)
	}
}

func TestUploadParseErrorSurfaces(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)

	_, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", []byte("<html><head></head></html>"), "")
	var parseErr *models.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestUpdateMappingsVersionConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", clientsCSV, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	set, _ := f.svc.GetMappings(ctx, sess.ID, models.EntityClients)

	if _, err := f.svc.UpdateMappings(ctx, sess.ID, models.EntityClients, set.Mappings, set.Version-1); !errors.Is(err, models.ErrMappingConflict) {
		t.Errorf("stale version err = %v, want ErrMappingConflict", err)
	}

	updated, err := f.svc.UpdateMappings(ctx, sess.ID, models.EntityClients, set.Mappings, set.Version)
	if err != nil {
		t.Fatalf("UpdateMappings failed: %v", err)
	}
	if updated.Version != set.Version+1 {
		t.Errorf("version = %d, want %d", updated.Version, set.Version+1)
	}
}

func TestUpdateMappingsDiscardsStaleValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)

	bad := []byte("Client ID,Company,Email\n7,Acme,not-an-email\n")
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", bad, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	summary, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients)
	if err != nil {
		t.Fatalf("ValidateEntity failed: %v", err)
	}
	if summary.ErrorRows != 1 {
		t.Fatalf("error rows = %d, want 1", summary.ErrorRows)
	}
	if len(f.errs.Errors) == 0 {
		t.Fatal("errors should be queued after validation")
	}

	// Editing the mapping takes the back-edge and discards the results
	set, _ := f.svc.GetMappings(ctx, sess.ID, models.EntityClients)
	if _, err := f.svc.UpdateMappings(ctx, sess.ID, models.EntityClients, set.Mappings, set.Version); err != nil {
		t.Fatalf("UpdateMappings failed: %v", err)
	}

	overview, _ := f.svc.GetSession(ctx, sess.ID)
	if overview.Session.Status != models.SessionStatusMapping {
		t.Errorf("status = %s, want mapping after back-edge", overview.Session.Status)
	}
	if len(f.errs.Errors) != 0 {
		t.Errorf("stale validation errors should be discarded, %d remain", len(f.errs.Errors))
	}
}

func TestValidateEntitySummary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)

	data := []byte("Client ID,Company,Email\n7,Acme,info@acme.com\n8,Globex,bad-email\n9,,it@initech.com\n")
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", data, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	summary, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients)
	if err != nil {
		t.Fatalf("ValidateEntity failed: %v", err)
	}
	if summary.TotalRows != 3 || summary.ValidRows != 1 || summary.ErrorRows != 2 {
		t.Errorf("summary = %+v, want 3 total / 1 valid / 2 error rows", summary)
	}
	if summary.CountsByType[models.ErrorTypeFormat] != 1 || summary.CountsByType[models.ErrorTypeRequired] != 1 {
		t.Errorf("counts = %v", summary.CountsByType)
	}

	// Re-validating replaces the queue instead of appending
	if _, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("second ValidateEntity failed: %v", err)
	}
	if len(f.errs.Errors) != 2 {
		t.Errorf("queued errors = %d, want 2 after re-validation", len(f.errs.Errors))
	}
}

func TestCommitDependencyOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)

	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", clientsCSV, ""); err != nil {
		t.Fatalf("upload clients failed: %v", err)
	}
	if _, err := f.svc.UploadFile(ctx, sess.ID, "projects.csv", projectsCSV, ""); err != nil {
		t.Fatalf("upload projects failed: %v", err)
	}
	if _, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("validate clients failed: %v", err)
	}

	// Projects reference clients: committing them first is refused
	if _, err := f.svc.CommitEntity(ctx, sess.ID, models.EntityProjects); !errors.Is(err, models.ErrDependencyPending) {
		t.Fatalf("err = %v, want ErrDependencyPending", err)
	}

	batch, err := f.svc.CommitEntity(ctx, sess.ID, models.EntityClients)
	if err != nil {
		t.Fatalf("commit clients failed: %v", err)
	}
	if batch.Committed != 2 || batch.Failed != 0 {
		t.Fatalf("clients batch = %+v", batch)
	}

	// With clients committed, project references now resolve
	batch, err = f.svc.CommitEntity(ctx, sess.ID, models.EntityProjects)
	if err != nil {
		t.Fatalf("commit projects failed: %v", err)
	}
	if batch.Committed != 2 || batch.Failed != 0 {
		t.Errorf("projects batch = %+v", batch)
	}

	overview, _ := f.svc.GetSession(ctx, sess.ID)
	if !overview.Session.HasCommittedBatch(models.EntityClients) || !overview.Session.HasCommittedBatch(models.EntityProjects) {
		t.Errorf("committed batches = %v", overview.Session.CommittedBatches)
	}

	// Clean queue lets the session complete
	done, err := f.svc.CompleteSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	if done.Status != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
}

func TestCommitEntityPartialFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)

	// Two rows share a legacy id: the second fails at the sink while the
	// first still commits.
	data := []byte("Client ID,Company,Email\n7,Acme,info@acme.com\n7,Shadow,shadow@acme.com\n")
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", data, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if _, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("ValidateEntity failed: %v", err)
	}

	batch, err := f.svc.CommitEntity(ctx, sess.ID, models.EntityClients)
	if err != nil {
		t.Fatalf("CommitEntity failed: %v", err)
	}
	if batch.Total != 2 || batch.Committed != 1 || batch.Failed != 1 {
		t.Fatalf("batch = %+v, want 1 committed / 1 failed", batch)
	}

	// The failed row lands back on the queue as a retryable duplicate
	queued, _ := f.errs.List(ctx, sess.ID, models.ErrorFilter{})
	if len(queued) != 1 {
		t.Fatalf("queued errors = %d, want 1", len(queued))
	}
	if queued[0].ErrorType != models.ErrorTypeDuplicate || !queued[0].CanRetry {
		t.Errorf("queued error = %+v, want retryable duplicate", queued[0])
	}
	if queued[0].SourceRowNumber != 2 {
		t.Errorf("queued row = %d, want 2", queued[0].SourceRowNumber)
	}
}

func TestCompleteSessionBlockedByOpenErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)

	data := []byte("Client ID,Company,Email\n7,Acme,bad-email\n8,Globex,hi@globex.com\n")
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", data, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if _, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("ValidateEntity failed: %v", err)
	}
	if _, err := f.svc.CommitEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("CommitEntity failed: %v", err)
	}

	if _, err := f.svc.CompleteSession(ctx, sess.ID); !errors.Is(err, models.ErrCommitBlocked) {
		t.Fatalf("err = %v, want ErrCommitBlocked while errors are open", err)
	}
}

func TestCancelSessionKeepsCommittedBatches(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", clientsCSV, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if _, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("ValidateEntity failed: %v", err)
	}
	if _, err := f.svc.CommitEntity(ctx, sess.ID, models.EntityClients); err != nil {
		t.Fatalf("CommitEntity failed: %v", err)
	}

	cancelled, err := f.svc.CancelSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CancelSession failed: %v", err)
	}
	if cancelled.Status != models.SessionStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	// No rollback of records already accepted
	if len(f.records.Committed) != 2 {
		t.Errorf("committed records = %d, want 2 preserved after cancel", len(f.records.Committed))
	}

	// A cancelled session accepts no further work
	if _, err := f.svc.ValidateEntity(ctx, sess.ID, models.EntityClients); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.GetSession(context.Background(), "nope"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSaveTemplate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess, _ := f.svc.CreateSession(ctx, "firm-1", nil)
	if _, err := f.svc.UploadFile(ctx, sess.ID, "clients.csv", clientsCSV, ""); err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	tpl, err := f.svc.SaveTemplate(ctx, sess.ID, models.EntityClients, "legacy export")
	if err != nil {
		t.Fatalf("SaveTemplate failed: %v", err)
	}
	if tpl.Name != "legacy export" || tpl.EntityType != models.EntityClients {
		t.Errorf("template = %+v", tpl)
	}

	stored, err := f.repos.Template.GetByID(ctx, tpl.ID)
	if err != nil || stored == nil {
		t.Fatalf("template not stored: %v", err)
	}
}
