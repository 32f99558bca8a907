// internal/model/campaign.go
package model

import (
	"fmt"
	"sort"
	"time"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignDeleted   CampaignStatus = "deleted"
)

type StepType string

const (
	StepEmail    StepType = "email"
	StepCall     StepType = "call"
	StepTask     StepType = "task"
	StepLinkedIn StepType = "linkedin"
)

// Valid reports whether t is one of the supported drip step types.
func (t StepType) Valid() bool {
	switch t {
	case StepEmail, StepCall, StepTask, StepLinkedIn:
		return true
	}
	return false
}

type Campaign struct {
	ID          int64          `db:"id" json:"id"`
	TenantID    string         `db:"tenant_id" json:"tenant_id"`
	Name        string         `db:"name" json:"name"`
	Description string         `db:"description" json:"description,omitempty"`
	Status      CampaignStatus `db:"status" json:"status"`
	Steps       []Step         `json:"steps"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

type Step struct {
	Order     int      `db:"step_order" json:"order" yaml:"order"`
	Type      StepType `db:"type" json:"type" yaml:"type"`
	Title     string   `db:"title" json:"title,omitempty" yaml:"title"`
	Subject   string   `db:"subject" json:"subject,omitempty" yaml:"subject"`
	Content   string   `db:"content" json:"content" yaml:"content"`
	DelayDays int      `db:"delay_days" json:"delay_days" yaml:"delay_days"`
}

// StepAt returns the step at index i, or false when i is past the last step.
func (c *Campaign) StepAt(i int) (Step, bool) {
	if i < 0 || i >= len(c.Steps) {
		return Step{}, false
	}
	return c.Steps[i], true
}

// StepsMutable is true only while the campaign is still a draft.
func (c *Campaign) StepsMutable() bool {
	return c.Status == CampaignDraft
}

// ValidateSteps checks that orders form exactly {0..N-1}, and returns the
// steps sorted by order.
func ValidateSteps(steps []Step) ([]Step, error) {
	if len(steps) == 0 {
		return nil, appErrors.NewValidation("steps", "campaign must have at least one step")
	}

	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i, s := range sorted {
		if s.Order != i {
			if i > 0 && sorted[i-1].Order == s.Order {
				return nil, appErrors.NewValidation("steps", fmt.Sprintf("duplicate step order %d", s.Order))
			}
			return nil, appErrors.NewValidation("steps", fmt.Sprintf("step orders must be contiguous from 0, missing %d", i))
		}
		if !s.Type.Valid() {
			return nil, appErrors.NewValidation("steps", fmt.Sprintf("step %d has unknown type %q", s.Order, s.Type))
		}
		if s.DelayDays < 0 {
			return nil, appErrors.NewValidation("steps", fmt.Sprintf("step %d has negative delay_days", s.Order))
		}
	}
	return sorted, nil
}

// CampaignStats is the per-status assignment breakdown for a campaign.
type CampaignStats struct {
	CampaignID     int64          `json:"campaign_id"`
	Status         CampaignStatus `json:"status"`
	PendingCount   int            `json:"pending_count"`
	ActiveCount    int            `json:"active_count"`
	CompletedCount int            `json:"completed_count"`
	FailedCount    int            `json:"failed_count"`
	DeletedCount   int            `json:"deleted_count"`
}

// Total counts every assignment regardless of status.
func (s CampaignStats) Total() int {
	return s.PendingCount + s.ActiveCount + s.CompletedCount + s.FailedCount + s.DeletedCount
}
