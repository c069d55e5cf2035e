package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var leadColumns = []string{"id", "full_name", "email", "phone", "source", "status", "created_at", "updated_at"}

type leadRepository struct {
	pool *pgxpool.Pool
}

// NewLeadRepository wires a lead repository backed by pgxpool.
func NewLeadRepository(pool *pgxpool.Pool) LeadRepository {
	return &leadRepository{pool: pool}
}

func (r *leadRepository) GetByID(ctx context.Context, id int64) (domain.Lead, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns...)
	sb.From("leads")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	lead, err := scanLead(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, ErrLeadNotFound
		}
		return domain.Lead{}, wrapErr("get lead", err)
	}
	return lead, nil
}

func (r *leadRepository) FindByEmails(ctx context.Context, emails []string) ([]domain.Lead, error) {
	if len(emails) == 0 {
		return []domain.Lead{}, nil
	}
	query, args := buildFindByEmails(emails)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("find leads by email", err)
	}
	return collectLeads(rows)
}

func (r *leadRepository) FindSimilar(ctx context.Context, fullName, email string, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		return []domain.Lead{}, nil
	}
	query, args := buildFindSimilar(fullName, email, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("find similar leads", err)
	}
	return collectLeads(rows)
}

func (r *leadRepository) Create(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("leads")
	sb.Cols("full_name", "email", "phone", "source", "status")
	sb.Values(lead.FullName, lead.Email, lead.Phone, lead.Source, string(lead.Status))
	sb.SQL("RETURNING " + strings.Join(leadColumns, ", "))

	query, args := sb.Build()
	created, err := scanLead(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Lead{}, wrapErr("insert lead", err)
	}
	return created, nil
}

func (r *leadRepository) Update(ctx context.Context, id int64, patch domain.LeadPatch) (domain.Lead, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	query, args := buildLeadUpdate(id, patch)
	updated, err := scanLead(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, ErrLeadNotFound
		}
		return domain.Lead{}, wrapErr("update lead", err)
	}
	return updated, nil
}

func buildFindByEmails(emails []string) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns...)
	sb.From("leads")
	sb.Where(sb.In("lower(email)", sqlbuilder.Flatten(emails)...))
	sb.OrderBy("id")
	return sb.Build()
}

func buildFindSimilar(fullName, email string, limit int) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	name := sb.Var(fullName)
	mail := sb.Var(email)
	sb.Select(leadColumns...)
	sb.From("leads")
	sb.Where(sb.Or(
		fmt.Sprintf("lower(full_name) %% lower(%s)", name),
		fmt.Sprintf("lower(email) %% lower(%s)", mail),
	))
	sb.OrderBy(
		fmt.Sprintf("GREATEST(similarity(lower(full_name), lower(%s)), similarity(lower(email), lower(%s))) DESC", name, mail),
		"id ASC",
	)
	sb.Limit(limit)
	return sb.Build()
}

func buildLeadUpdate(id int64, patch domain.LeadPatch) (string, []interface{}) {
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("leads")

	assignments := make([]string, 0, 5)
	if patch.FullName != nil {
		assignments = append(assignments, sb.Assign("full_name", *patch.FullName))
	}
	if patch.Email != nil {
		assignments = append(assignments, sb.Assign("email", *patch.Email))
	}
	if patch.Phone != nil {
		assignments = append(assignments, sb.Assign("phone", *patch.Phone))
	}
	if patch.Source != nil {
		assignments = append(assignments, sb.Assign("source", *patch.Source))
	}
	assignments = append(assignments, "updated_at = NOW()")

	sb.Set(assignments...)
	sb.Where(sb.Equal("id", id))
	sb.SQL("RETURNING " + strings.Join(leadColumns, ", "))
	return sb.Build()
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead   domain.Lead
		phone  pgtype.Text
		source pgtype.Text
		status string
	)
	if err := row.Scan(
		&lead.ID,
		&lead.FullName,
		&lead.Email,
		&phone,
		&source,
		&status,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return domain.Lead{}, err
	}
	if phone.Valid {
		value := phone.String
		lead.Phone = &value
	}
	if source.Valid {
		value := source.String
		lead.Source = &value
	}
	lead.Status = domain.LeadStatus(status)
	return lead, nil
}

func collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()

	leads := []domain.Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, wrapErr("scan lead", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate leads", err)
	}
	return leads, nil
}
