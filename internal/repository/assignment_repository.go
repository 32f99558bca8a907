package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// AssignmentRepositoryInterface is the assignment ledger. Every method is
// scoped by the tenant of the owning campaign except the claim path, which
// joins campaigns on tenant_id itself.
type AssignmentRepositoryInterface interface {
	Enroll(ctx context.Context, tenantID string, campaignID int64, leadIDs []int64, dueAt, now time.Time) (int, error)
	Remove(ctx context.Context, tenantID string, campaignID, leadID int64, now time.Time) error

	// Claim / advance
	ClaimDue(ctx context.Context, now time.Time, limit int, owner string, leaseUntil time.Time) ([]*model.Assignment, error)
	RenewLease(ctx context.Context, id int64, owner string, leaseUntil time.Time) error
	Commit(ctx context.Context, next *model.Assignment, owner string, ev model.AssignmentEvent) error
	Release(ctx context.Context, id int64, owner string) error

	// Reads
	GetByID(ctx context.Context, tenantID string, id int64) (*model.Assignment, error)
	ListByCampaign(ctx context.Context, tenantID string, campaignID int64) ([]*model.Assignment, error)
	CountByStatus(ctx context.Context, tenantID string, campaignID int64) (map[model.AssignmentStatus]int, error)
	ListEvents(ctx context.Context, tenantID string, assignmentID int64) ([]model.AssignmentEvent, error)
}

type AssignmentRepository struct {
	DB *sql.DB
}

const assignmentColumns = `id, campaign_id, tenant_id, lead_id, status, current_step_index, next_action_at,
    completed_steps, attempt_count, last_error, failure_reason, claim_owner, lease_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (*model.Assignment, error) {
	var (
		a         model.Assignment
		nextAt    sql.NullTime
		leaseAt   sql.NullTime
		updatedAt sql.NullTime
		owner     sql.NullString
		completed pq.Int64Array
	)
	err := row.Scan(
		&a.ID, &a.CampaignID, &a.TenantID, &a.LeadID, &a.Status, &a.CurrentStepIndex, &nextAt,
		&completed, &a.AttemptCount, &a.LastError, &a.FailureReason, &owner, &leaseAt, &a.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if nextAt.Valid {
		a.NextActionAt = &nextAt.Time
	}
	if leaseAt.Valid {
		a.LeaseExpiresAt = &leaseAt.Time
	}
	if updatedAt.Valid {
		a.UpdatedAt = &updatedAt.Time
	}
	a.ClaimOwner = owner.String
	a.CompletedSteps = make([]int, len(completed))
	for i, s := range completed {
		a.CompletedSteps[i] = int(s)
	}
	return &a, nil
}

func toInt64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// ====================== Seeding / activation ======================

// Enroll assigns leads to the campaign. Leads already assigned are skipped
// and their progress is untouched. The new rows take the campaign's status
// at insert time: on an active campaign they start active and due at dueAt,
// otherwise they wait as pending for the next activation. The campaign row is
// share-locked so a concurrent Activate either sees the new pending rows or
// is seen by the insert.
func (r *AssignmentRepository) Enroll(ctx context.Context, tenantID string, campaignID int64, leadIDs []int64, dueAt, now time.Time) (int, error) {
	var added int
	err := r.DB.QueryRowContext(ctx, `
        WITH c AS (
            SELECT status FROM campaigns
            WHERE id=$1 AND tenant_id=$2 AND status NOT IN ('completed', 'deleted')
            FOR SHARE
        ), ins AS (
            INSERT INTO campaign_assignments (campaign_id, tenant_id, lead_id, status, next_action_at, created_at)
            SELECT $1, $2, lead_id,
                   CASE WHEN c.status='active' THEN 'active' ELSE 'pending' END,
                   CASE WHEN c.status='active' THEN $4::timestamptz END,
                   $5
            FROM unnest($3::bigint[]) AS lead_id CROSS JOIN c
            ON CONFLICT (campaign_id, lead_id) DO NOTHING
            RETURNING id, tenant_id, status, current_step_index
        ), ev AS (
            INSERT INTO assignment_events (assignment_id, tenant_id, kind, step_index, attempt, created_at)
            SELECT id, tenant_id, $6, current_step_index, 0, $5 FROM ins WHERE status='active'
        )
        SELECT count(*) FROM ins
    `, campaignID, tenantID, pq.Array(leadIDs), dueAt, now, model.EventActivated).Scan(&added)
	if err != nil {
		return 0, fmt.Errorf("enroll leads: %w", err)
	}
	return added, nil
}

func activatePending(ctx context.Context, ex execer, tenantID string, campaignID int64, dueAt, now time.Time) (int, error) {
	res, err := ex.ExecContext(ctx, `
        WITH activated AS (
            UPDATE campaign_assignments
            SET status='active', next_action_at=$3, attempt_count=0, updated_at=$4
            WHERE campaign_id=$1 AND tenant_id=$2 AND status='pending'
              AND EXISTS (SELECT 1 FROM campaigns c WHERE c.id=$1 AND c.status='active')
            RETURNING id, tenant_id, current_step_index
        )
        INSERT INTO assignment_events (assignment_id, tenant_id, kind, step_index, attempt, created_at)
        SELECT id, tenant_id, $5, current_step_index, 0, $4 FROM activated
    `, campaignID, tenantID, dueAt, now, model.EventActivated)
	if err != nil {
		return 0, fmt.Errorf("activate pending assignments: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *AssignmentRepository) Remove(ctx context.Context, tenantID string, campaignID, leadID int64, now time.Time) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var (
			id     int64
			status model.AssignmentStatus
			step   int
		)
		err := tx.QueryRowContext(ctx, `
            SELECT id, status, current_step_index FROM campaign_assignments
            WHERE campaign_id=$1 AND tenant_id=$2 AND lead_id=$3 FOR UPDATE
        `, campaignID, tenantID, leadID).Scan(&id, &status, &step)
		if err == sql.ErrNoRows {
			return appErrors.NewLeadNotFound(leadID)
		}
		if err != nil {
			return err
		}
		if status.Terminal() {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE campaign_assignments
            SET status='deleted', failure_reason=$2, next_action_at=NULL,
                claim_owner=NULL, lease_expires_at=NULL, updated_at=$3
            WHERE id=$1
        `, id, model.ReasonLeadRemoved, now); err != nil {
			return err
		}
		return insertEvent(ctx, tx, model.AssignmentEvent{
			AssignmentID: id, TenantID: tenantID, Kind: model.EventRemoved,
			StepIndex: step, Detail: model.ReasonLeadRemoved, CreatedAt: now,
		})
	})
}

// ====================== Claim / advance ======================

// ClaimDue selects and claims up to limit due assignments in one statement.
// Rows locked by a concurrent claimer are skipped rather than waited on, so
// racing workers never block each other and never claim the same row.
func (r *AssignmentRepository) ClaimDue(ctx context.Context, now time.Time, limit int, owner string, leaseUntil time.Time) ([]*model.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `
        UPDATE campaign_assignments a
        SET claim_owner=$1, lease_expires_at=$2
        WHERE a.id IN (
            SELECT ca.id
            FROM campaign_assignments ca
            JOIN campaigns c ON c.id = ca.campaign_id AND c.tenant_id = ca.tenant_id
            WHERE ca.status = 'active'
              AND c.status = 'active'
              AND ca.next_action_at <= $3
              AND (ca.claim_owner IS NULL OR ca.lease_expires_at <= $3)
            ORDER BY ca.next_action_at, ca.id
            LIMIT $4
            FOR UPDATE OF ca SKIP LOCKED
        )
        AND a.status = 'active'
        AND (a.claim_owner IS NULL OR a.lease_expires_at <= $3)
        RETURNING `+prefixed("a", assignmentColumns), owner, leaseUntil, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due assignments: %w", err)
	}
	defer rows.Close()

	claimed := []*model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the subquery order.
	SortDue(claimed)
	return claimed, nil
}

// SortDue orders assignments by next_action_at, then id.
func SortDue(as []*model.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		ti, tj := as[i].NextActionAt, as[j].NextActionAt
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return as[i].ID < as[j].ID
	})
}

func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func (r *AssignmentRepository) RenewLease(ctx context.Context, id int64, owner string, leaseUntil time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_assignments SET lease_expires_at=$3
        WHERE id=$1 AND claim_owner=$2 AND status='active'
    `, id, owner, leaseUntil)
	return claimResult(res, err)
}

// Commit writes the advanced state and its event, releasing the claim. It only
// applies while the caller still owns an active assignment and never moves
// current_step_index backwards.
func (r *AssignmentRepository) Commit(ctx context.Context, next *model.Assignment, owner string, ev model.AssignmentEvent) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE campaign_assignments
            SET status=$3, current_step_index=$4, next_action_at=$5, completed_steps=$6,
                attempt_count=$7, last_error=$8, failure_reason=$9,
                claim_owner=NULL, lease_expires_at=NULL, updated_at=$10
            WHERE id=$1 AND claim_owner=$2 AND status='active' AND current_step_index <= $4
        `, next.ID, owner, next.Status, next.CurrentStepIndex, next.NextActionAt,
			pq.Array(toInt64s(next.CompletedSteps)), next.AttemptCount, next.LastError, next.FailureReason, ev.CreatedAt)
		if err := claimResult(res, err); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (r *AssignmentRepository) Release(ctx context.Context, id int64, owner string) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_assignments SET claim_owner=NULL, lease_expires_at=NULL
        WHERE id=$1 AND claim_owner=$2
    `, id, owner)
	return claimResult(res, err)
}

func claimResult(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrClaimLost
	}
	return nil
}

func insertEvent(ctx context.Context, ex execer, ev model.AssignmentEvent) error {
	_, err := ex.ExecContext(ctx, `
        INSERT INTO assignment_events (assignment_id, tenant_id, kind, step_index, attempt, detail, artifact_ref, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, ev.AssignmentID, ev.TenantID, ev.Kind, ev.StepIndex, ev.Attempt, ev.Detail, ev.ArtifactRef, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert assignment event: %w", err)
	}
	return nil
}

// ====================== Reads ======================

func (r *AssignmentRepository) GetByID(ctx context.Context, tenantID string, id int64) (*model.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM campaign_assignments WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, appErrors.NewAssignmentNotFound(id)
	}
	return a, err
}

func (r *AssignmentRepository) ListByCampaign(ctx context.Context, tenantID string, campaignID int64) ([]*model.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT `+assignmentColumns+` FROM campaign_assignments
        WHERE campaign_id=$1 AND tenant_id=$2 ORDER BY id
    `, campaignID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AssignmentRepository) CountByStatus(ctx context.Context, tenantID string, campaignID int64) (map[model.AssignmentStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT status, COUNT(*) FROM campaign_assignments
        WHERE campaign_id=$1 AND tenant_id=$2 GROUP BY status
    `, campaignID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.AssignmentStatus]int{}
	for rows.Next() {
		var status model.AssignmentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *AssignmentRepository) ListEvents(ctx context.Context, tenantID string, assignmentID int64) ([]model.AssignmentEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, assignment_id, tenant_id, kind, step_index, attempt, detail, artifact_ref, created_at
        FROM assignment_events WHERE assignment_id=$1 AND tenant_id=$2 ORDER BY id
    `, assignmentID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.AssignmentEvent{}
	for rows.Next() {
		var ev model.AssignmentEvent
		if err := rows.Scan(&ev.ID, &ev.AssignmentID, &ev.TenantID, &ev.Kind, &ev.StepIndex, &ev.Attempt, &ev.Detail, &ev.ArtifactRef, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ AssignmentRepositoryInterface = (*AssignmentRepository)(nil)
