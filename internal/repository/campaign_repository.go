package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, tenantID string, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error)
	ReplaceSteps(ctx context.Context, tenantID string, id int64, steps []model.Step) error
	UpdateDetails(ctx context.Context, tenantID string, id int64, name, description string, now time.Time) error

	// Lifecycle
	Transition(ctx context.Context, tenantID string, id int64, from []model.CampaignStatus, to model.CampaignStatus, now time.Time) error
	Activate(ctx context.Context, tenantID string, id int64, from []model.CampaignStatus, firstDueAt, now time.Time) (int, error)
	Delete(ctx context.Context, tenantID string, id int64, now time.Time) (int, error)
	CompleteIfDrained(ctx context.Context, tenantID string, id int64, now time.Time) (bool, error)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		query := `
            INSERT INTO campaigns (tenant_id, name, description, status, created_at)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id
        `
		if err := tx.QueryRowContext(ctx, query, c.TenantID, c.Name, c.Description, c.Status, c.CreatedAt).Scan(&c.ID); err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		return insertSteps(ctx, tx, c.ID, c.Steps)
	})
}

func insertSteps(ctx context.Context, ex execer, campaignID int64, steps []model.Step) error {
	query := `
        INSERT INTO campaign_steps (campaign_id, step_order, type, title, subject, content, delay_days)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	for _, s := range steps {
		if _, err := ex.ExecContext(ctx, query, campaignID, s.Order, s.Type, s.Title, s.Subject, s.Content, s.DelayDays); err != nil {
			return fmt.Errorf("insert step %d: %w", s.Order, err)
		}
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, tenantID string, id int64) (*model.Campaign, error) {
	query := `
        SELECT id, tenant_id, name, description, status, created_at, updated_at
        FROM campaigns WHERE id=$1 AND tenant_id=$2
    `
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Description, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}

	steps, err := r.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return &c, nil
}

func (r *CampaignRepository) loadSteps(ctx context.Context, campaignID int64) ([]model.Step, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT step_order, type, title, subject, content, delay_days
        FROM campaign_steps WHERE campaign_id=$1 ORDER BY step_order
    `, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		var s model.Step
		if err := rows.Scan(&s.Order, &s.Type, &s.Title, &s.Subject, &s.Content, &s.DelayDays); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE tenant_id=$1`
	args := []any{tenantID}
	if status != "" {
		where += ` AND status=$2`
		args = append(args, status)
	}

	query := `SELECT id, tenant_id, name, description, status, created_at, updated_at FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Description, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) ReplaceSteps(ctx context.Context, tenantID string, id int64, steps []model.Step) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		status, err := lockCampaign(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if status != model.CampaignDraft {
			return appErrors.NewInvalidTransition(id, string(status), "steps_edit")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_steps WHERE campaign_id=$1`, id); err != nil {
			return err
		}
		if err := insertSteps(ctx, tx, id, steps); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE campaigns SET updated_at=NOW() WHERE id=$1`, id)
		return err
	})
}

// UpdateDetails renames the campaign. Deleted campaigns are read-only.
func (r *CampaignRepository) UpdateDetails(ctx context.Context, tenantID string, id int64, name, description string, now time.Time) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		status, err := lockCampaign(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if status == model.CampaignDeleted {
			return appErrors.NewInvalidTransition(id, string(status), "edit")
		}
		_, err = tx.ExecContext(ctx, `UPDATE campaigns SET name=$1, description=$2, updated_at=$3 WHERE id=$4`,
			name, description, now, id)
		return err
	})
}

func lockCampaign(ctx context.Context, tx *sql.Tx, tenantID string, id int64) (model.CampaignStatus, error) {
	var status model.CampaignStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, id, tenantID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return status, err
}

// ====================== Lifecycle ======================

func statusStrings(in []model.CampaignStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// transition is a compare-and-set on campaigns.status.
func transition(ctx context.Context, tx *sql.Tx, tenantID string, id int64, from []model.CampaignStatus, to model.CampaignStatus, now time.Time) error {
	status, err := lockCampaign(ctx, tx, tenantID, id)
	if err != nil {
		return err
	}
	allowed := false
	for _, f := range from {
		if f == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return appErrors.NewInvalidTransition(id, string(status), string(to))
	}
	_, err = tx.ExecContext(ctx, `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3 AND status = ANY($4)`,
		to, now, id, pq.Array(statusStrings(from)))
	return err
}

func (r *CampaignRepository) Transition(ctx context.Context, tenantID string, id int64, from []model.CampaignStatus, to model.CampaignStatus, now time.Time) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		return transition(ctx, tx, tenantID, id, from, to, now)
	})
}

// Activate moves the campaign to active and every pending assignment to
// active with next_action_at = firstDueAt, in one transaction.
func (r *CampaignRepository) Activate(ctx context.Context, tenantID string, id int64, from []model.CampaignStatus, firstDueAt, now time.Time) (int, error) {
	var activated int
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := transition(ctx, tx, tenantID, id, from, model.CampaignActive, now); err != nil {
			return err
		}
		n, err := activatePending(ctx, tx, tenantID, id, firstDueAt, now)
		activated = n
		return err
	})
	return activated, err
}

// Delete soft-deletes the campaign and forces every non-terminal assignment
// to failed with reason campaign_deleted. Deleting twice is a no-op.
func (r *CampaignRepository) Delete(ctx context.Context, tenantID string, id int64, now time.Time) (int, error) {
	var failed int
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		status, err := lockCampaign(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if status == model.CampaignDeleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET status='deleted', updated_at=$1 WHERE id=$2`, now, id); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
            WITH failed AS (
                UPDATE campaign_assignments
                SET status='failed', failure_reason=$3, next_action_at=NULL,
                    claim_owner=NULL, lease_expires_at=NULL, updated_at=$4
                WHERE campaign_id=$1 AND tenant_id=$2 AND status IN ('pending', 'active')
                RETURNING id, tenant_id, current_step_index, attempt_count
            )
            INSERT INTO assignment_events (assignment_id, tenant_id, kind, step_index, attempt, detail, created_at)
            SELECT id, tenant_id, $5, current_step_index, attempt_count, $3, $4 FROM failed
        `, id, tenantID, model.ReasonCampaignDeleted, now, model.EventFailed)
		if err != nil {
			return fmt.Errorf("fail open assignments: %w", err)
		}
		n, err := res.RowsAffected()
		failed = int(n)
		return err
	})
	return failed, err
}

func (r *CampaignRepository) CompleteIfDrained(ctx context.Context, tenantID string, id int64, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns SET status='completed', updated_at=$3
        WHERE id=$1 AND tenant_id=$2 AND status='active'
          AND NOT EXISTS (
              SELECT 1 FROM campaign_assignments
              WHERE campaign_id=$1 AND status IN ('pending', 'active')
          )
    `, id, tenantID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
