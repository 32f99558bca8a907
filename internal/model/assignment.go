// internal/model/assignment.go
package model

import "time"

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentFailed    AssignmentStatus = "failed"
	AssignmentDeleted   AssignmentStatus = "deleted"
)

// Terminal statuses are never mutated by the scheduler again.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted || s == AssignmentFailed || s == AssignmentDeleted
}

// Failure reasons recorded on an assignment.
const (
	ReasonCampaignDeleted  = "campaign_deleted"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonPermanent        = "permanent_failure"
	ReasonLeadRemoved      = "lead_removed"
)

// Assignment binds one lead to one campaign and tracks its step progress.
type Assignment struct {
	ID               int64            `db:"id" json:"id"`
	CampaignID       int64            `db:"campaign_id" json:"campaign_id"`
	TenantID         string           `db:"tenant_id" json:"tenant_id"`
	LeadID           int64            `db:"lead_id" json:"lead_id"`
	Status           AssignmentStatus `db:"status" json:"status"`
	CurrentStepIndex int              `db:"current_step_index" json:"current_step_index"`
	NextActionAt     *time.Time       `db:"next_action_at" json:"next_action_at,omitempty"`
	CompletedSteps   []int            `db:"completed_steps" json:"completed_steps"`
	AttemptCount     int              `db:"attempt_count" json:"attempt_count"`
	LastError        string           `db:"last_error" json:"last_error,omitempty"`
	FailureReason    string           `db:"failure_reason" json:"failure_reason,omitempty"`
	ClaimOwner       string           `db:"claim_owner" json:"-"`
	LeaseExpiresAt   *time.Time       `db:"lease_expires_at" json:"-"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}

// Clone returns a deep copy so callers can compute a next state without
// touching the claimed snapshot.
func (a *Assignment) Clone() *Assignment {
	c := *a
	c.CompletedSteps = append([]int(nil), a.CompletedSteps...)
	if a.NextActionAt != nil {
		t := *a.NextActionAt
		c.NextActionAt = &t
	}
	if a.LeaseExpiresAt != nil {
		t := *a.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	if a.UpdatedAt != nil {
		t := *a.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// Claimable reports whether a worker may take the assignment at now.
func (a *Assignment) Claimable(now time.Time) bool {
	if a.Status != AssignmentActive || a.NextActionAt == nil || a.NextActionAt.After(now) {
		return false
	}
	return a.ClaimOwner == "" || a.LeaseExpiresAt == nil || !a.LeaseExpiresAt.After(now)
}

type EventKind string

const (
	EventActivated     EventKind = "activated"
	EventStepSucceeded EventKind = "step_succeeded"
	EventStepRetry     EventKind = "step_retry_scheduled"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "failed"
	EventRemoved       EventKind = "removed"
)

// AssignmentEvent is one append-only entry in an assignment's history.
type AssignmentEvent struct {
	ID           int64     `db:"id" json:"id"`
	AssignmentID int64     `db:"assignment_id" json:"assignment_id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	Kind         EventKind `db:"kind" json:"kind"`
	StepIndex    int       `db:"step_index" json:"step_index"`
	Attempt      int       `db:"attempt" json:"attempt"`
	Detail       string    `db:"detail" json:"detail,omitempty"`
	ArtifactRef  string    `db:"artifact_ref" json:"artifact_ref,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
