package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// LeadRepositoryInterface is the read side of the lead directory, plus Create
// for seeding.
type LeadRepositoryInterface interface {
	Create(ctx context.Context, l *model.Lead) error
	GetByID(ctx context.Context, tenantID string, id int64) (*model.Lead, error)
	FilterExisting(ctx context.Context, tenantID string, ids []int64) ([]int64, error)
}

// LeadRepository is the concrete implementation
type LeadRepository struct {
	DB *sql.DB
}

func (r *LeadRepository) Create(ctx context.Context, l *model.Lead) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO leads (tenant_id, email, name, company, title, linkedin_url, phone, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		l.TenantID, l.Email, l.Name, l.Company, l.Title, l.LinkedInURL, l.Phone, l.CreatedAt,
	).Scan(&l.ID)
}

// GetByID fetches a lead within the tenant.
func (r *LeadRepository) GetByID(ctx context.Context, tenantID string, id int64) (*model.Lead, error) {
	query := `
        SELECT id, tenant_id, email, name, company, title, linkedin_url, phone, created_at
        FROM leads
        WHERE id = $1 AND tenant_id = $2
    `
	var l model.Lead
	err := r.DB.QueryRowContext(ctx, query, id, tenantID).Scan(
		&l.ID, &l.TenantID, &l.Email, &l.Name, &l.Company, &l.Title, &l.LinkedInURL, &l.Phone, &l.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewLeadNotFound(id)
		}
		return nil, err
	}
	return &l, nil
}

// FilterExisting returns the subset of ids that belong to the tenant.
func (r *LeadRepository) FilterExisting(ctx context.Context, tenantID string, ids []int64) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id FROM leads WHERE tenant_id = $1 AND id = ANY($2) ORDER BY id
    `, tenantID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
