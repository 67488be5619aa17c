package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crm-migration-api/internal/database"
	"github.com/crm-migration-api/internal/models"
)

// templateRepo is the concrete implementation of TemplateStore
type templateRepo struct {
	db *database.DB
}

// NewTemplateRepo creates a new template store
func NewTemplateRepo(db *database.DB) TemplateStore {
	return &templateRepo{db: db}
}

// Create inserts a new mapping template
func (r *templateRepo) Create(ctx context.Context, tpl *models.MappingTemplate) error {
	mappings, err := json.Marshal(tpl.Mappings)
	if err != nil {
		return fmt.Errorf("marshal template mappings: %w", err)
	}
	query := `
		INSERT INTO mapping_templates (id, name, entity_type, mappings, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.ExecContext(ctx, query, tpl.ID, tpl.Name, tpl.EntityType, mappings, tpl.CreatedAt)
	return err
}

// GetByID retrieves a template; nil when not found
func (r *templateRepo) GetByID(ctx context.Context, id string) (*models.MappingTemplate, error) {
	query := `SELECT id, name, entity_type, mappings, created_at FROM mapping_templates WHERE id = $1`
	var tpl models.MappingTemplate
	var mappings []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tpl.ID, &tpl.Name, &tpl.EntityType, &mappings, &tpl.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mappings, &tpl.Mappings); err != nil {
		return nil, fmt.Errorf("unmarshal template mappings: %w", err)
	}
	return &tpl, nil
}

// ListByEntity returns all templates for an entity type, newest first
func (r *templateRepo) ListByEntity(ctx context.Context, entity models.EntityType) ([]*models.MappingTemplate, error) {
	query := `
		SELECT id, name, entity_type, mappings, created_at FROM mapping_templates
		WHERE entity_type = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.MappingTemplate
	for rows.Next() {
		var tpl models.MappingTemplate
		var mappings []byte
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.EntityType, &mappings, &tpl.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(mappings, &tpl.Mappings); err != nil {
			return nil, fmt.Errorf("unmarshal template mappings: %w", err)
		}
		templates = append(templates, &tpl)
	}
	return templates, rows.Err()
}

// Delete removes a template
func (r *templateRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mapping_templates WHERE id = $1`, id)
	return err
}
