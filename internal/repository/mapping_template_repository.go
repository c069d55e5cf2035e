package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const mappingTemplateColumns = `id, name, mappings, merge_rules, ignored_columns, created_at, updated_at`

type mappingTemplateRepository struct {
	pool *pgxpool.Pool
}

// NewMappingTemplateRepository wires a template repository backed by pgxpool.
func NewMappingTemplateRepository(pool *pgxpool.Pool) MappingTemplateRepository {
	return &mappingTemplateRepository{pool: pool}
}

// Upsert stores mapping under name, replacing any template with the same name.
func (r *mappingTemplateRepository) Upsert(ctx context.Context, name string, mapping domain.ColumnMapping) (domain.MappingTemplate, error) {
	mappingsJSON, err := mapping.MappingsToJSON()
	if err != nil {
		return domain.MappingTemplate{}, fmt.Errorf("marshal template mappings: %w", err)
	}
	rulesJSON, err := mapping.MergeRulesToJSON()
	if err != nil {
		return domain.MappingTemplate{}, fmt.Errorf("marshal template merge rules: %w", err)
	}
	ignoredJSON, err := mapping.IgnoredToJSON()
	if err != nil {
		return domain.MappingTemplate{}, fmt.Errorf("marshal template ignored columns: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO mapping_templates (name, mappings, merge_rules, ignored_columns)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE
		 SET mappings = EXCLUDED.mappings,
		     merge_rules = EXCLUDED.merge_rules,
		     ignored_columns = EXCLUDED.ignored_columns,
		     updated_at = NOW()
		 RETURNING `+mappingTemplateColumns,
		name,
		mappingsJSON,
		rulesJSON,
		ignoredJSON,
	)
	template, err := scanMappingTemplate(row)
	if err != nil {
		return domain.MappingTemplate{}, wrapErr("upsert mapping template", err)
	}
	return template, nil
}

func (r *mappingTemplateRepository) GetByName(ctx context.Context, name string) (domain.MappingTemplate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mappingTemplateColumns+` FROM mapping_templates WHERE name = $1`, name)
	template, err := scanMappingTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MappingTemplate{}, ErrTemplateNotFound
		}
		return domain.MappingTemplate{}, wrapErr("get mapping template", err)
	}
	return template, nil
}

func (r *mappingTemplateRepository) List(ctx context.Context) ([]domain.MappingTemplate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+mappingTemplateColumns+` FROM mapping_templates ORDER BY name`)
	if err != nil {
		return nil, wrapErr("list mapping templates", err)
	}
	defer rows.Close()

	templates := []domain.MappingTemplate{}
	for rows.Next() {
		template, scanErr := scanMappingTemplate(rows)
		if scanErr != nil {
			return nil, wrapErr("scan mapping template", scanErr)
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate mapping templates", err)
	}
	return templates, nil
}

func (r *mappingTemplateRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mapping_templates WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete mapping template", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func scanMappingTemplate(row pgx.Row) (domain.MappingTemplate, error) {
	var (
		template                           domain.MappingTemplate
		mappingsJSON, rulesJSON, ignoredJS []byte
	)
	if err := row.Scan(
		&template.ID,
		&template.Name,
		&mappingsJSON,
		&rulesJSON,
		&ignoredJS,
		&template.CreatedAt,
		&template.UpdatedAt,
	); err != nil {
		return domain.MappingTemplate{}, err
	}
	mapping, err := domain.ColumnMappingFromJSON(mappingsJSON, rulesJSON, ignoredJS)
	if err != nil {
		return domain.MappingTemplate{}, fmt.Errorf("decode mapping template %q: %w", template.Name, err)
	}
	template.Mapping = mapping
	return template, nil
}
