// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// CampaignService owns campaign definitions and the campaign lifecycle. The
// tenant id passed to every method comes from the calling layer; ledger
// queries are scoped by the tenant stored on the campaign.
type CampaignService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	AssignmentRepo repository.AssignmentRepositoryInterface
	LeadRepo       repository.LeadRepositoryInterface
	Clock          Clock
	Logger         *zap.Logger
}

type CampaignDetails struct {
	model.Campaign
	Stats model.CampaignStats `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	return orSystemClock(s.Clock).Now().UTC()
}

func (s *CampaignService) log() *zap.Logger {
	return logging.OrNop(s.Logger)
}

// firstDueAt is when step 0 becomes due for an assignment activated at now.
func firstDueAt(c *model.Campaign, now time.Time) time.Time {
	step, ok := c.StepAt(0)
	if !ok {
		return now
	}
	return now.AddDate(0, 0, step.DelayDays)
}

// ====================== Definitions ======================

func (s *CampaignService) CreateCampaign(ctx context.Context, tenantID, name, description string, steps []model.Step) (*model.Campaign, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, appErrors.NewValidation("tenant_id", "tenant is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, appErrors.NewValidation("name", "name cannot be empty")
	}
	sorted, err := model.ValidateSteps(steps)
	if err != nil {
		return nil, err
	}

	c := &model.Campaign{
		TenantID:    tenantID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Status:      model.CampaignDraft,
		Steps:       sorted,
		CreatedAt:   s.now(),
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log().Info("campaign created",
		zap.Int64("campaign_id", c.ID), zap.String("tenant_id", tenantID), zap.Int("steps", len(sorted)))
	return c, nil
}

// UpdateCampaign changes the campaign's name and description at any point
// before deletion.
func (s *CampaignService) UpdateCampaign(ctx context.Context, tenantID string, campaignID int64, name, description string) (*model.Campaign, error) {
	if strings.TrimSpace(name) == "" {
		return nil, appErrors.NewValidation("name", "name cannot be empty")
	}
	if err := s.CampaignRepo.UpdateDetails(ctx, tenantID, campaignID, strings.TrimSpace(name), description, s.now()); err != nil {
		return nil, err
	}
	return s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
}

// UpdateSteps replaces the step list; only drafts may change their steps.
func (s *CampaignService) UpdateSteps(ctx context.Context, tenantID string, campaignID int64, steps []model.Step) error {
	sorted, err := model.ValidateSteps(steps)
	if err != nil {
		return err
	}
	return s.CampaignRepo.ReplaceSteps(ctx, tenantID, campaignID, sorted)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, tenantID string, campaignID int64) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.stats(ctx, c)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: *c, Stats: *stats}, nil
}

// GetStatus returns per-status assignment counts for the campaign.
func (s *CampaignService) GetStatus(ctx context.Context, tenantID string, campaignID int64) (*model.CampaignStats, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	return s.stats(ctx, c)
}

func (s *CampaignService) stats(ctx context.Context, c *model.Campaign) (*model.CampaignStats, error) {
	counts, err := s.AssignmentRepo.CountByStatus(ctx, c.TenantID, c.ID)
	if err != nil {
		return nil, err
	}
	return &model.CampaignStats{
		CampaignID:     c.ID,
		Status:         c.Status,
		PendingCount:   counts[model.AssignmentPending],
		ActiveCount:    counts[model.AssignmentActive],
		CompletedCount: counts[model.AssignmentCompleted],
		FailedCount:    counts[model.AssignmentFailed],
		DeletedCount:   counts[model.AssignmentDeleted],
	}, nil
}

// ====================== Leads ======================

// AddLeads assigns leads to the campaign and returns how many assignments
// were created. Leads already assigned are skipped with their progress
// untouched. On an active campaign the new assignments start immediately.
func (s *CampaignService) AddLeads(ctx context.Context, tenantID string, campaignID int64, leadIDs []int64) (int, error) {
	if len(leadIDs) == 0 {
		return 0, appErrors.NewValidation("lead_ids", "at least one lead is required")
	}

	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status == model.CampaignCompleted || c.Status == model.CampaignDeleted {
		return 0, appErrors.NewInvalidTransition(c.ID, string(c.Status), "add_leads")
	}

	unique := dedupeIDs(leadIDs)
	found, err := s.LeadRepo.FilterExisting(ctx, c.TenantID, unique)
	if err != nil {
		return 0, err
	}
	if missing := missingIDs(unique, found); len(missing) > 0 {
		return 0, appErrors.NewValidation("lead_ids", fmt.Sprintf("unknown lead ids %v", missing))
	}

	now := s.now()
	added, err := s.AssignmentRepo.Enroll(ctx, c.TenantID, c.ID, unique, firstDueAt(c, now), now)
	if err != nil {
		return 0, err
	}

	s.log().Info("leads added to campaign",
		zap.Int64("campaign_id", c.ID), zap.Int("requested", len(unique)), zap.Int("added", added))
	return added, nil
}

// RemoveLead takes one lead out of the campaign without touching the others.
func (s *CampaignService) RemoveLead(ctx context.Context, tenantID string, campaignID, leadID int64) error {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	return s.AssignmentRepo.Remove(ctx, c.TenantID, c.ID, leadID, s.now())
}

func (s *CampaignService) ListAssignments(ctx context.Context, tenantID string, campaignID int64) ([]*model.Assignment, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	return s.AssignmentRepo.ListByCampaign(ctx, c.TenantID, c.ID)
}

func (s *CampaignService) AssignmentHistory(ctx context.Context, tenantID string, assignmentID int64) ([]model.AssignmentEvent, error) {
	a, err := s.AssignmentRepo.GetByID(ctx, tenantID, assignmentID)
	if err != nil {
		return nil, err
	}
	return s.AssignmentRepo.ListEvents(ctx, a.TenantID, a.ID)
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func missingIDs(want, found []int64) []int64 {
	have := make(map[int64]bool, len(found))
	for _, id := range found {
		have[id] = true
	}
	var missing []int64
	for _, id := range want {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// ====================== Lifecycle ======================

// Activate starts a draft campaign or resumes a paused one. Pending
// assignments become due at now plus step 0's delay. Activating an active
// campaign is a no-op.
func (s *CampaignService) Activate(ctx context.Context, tenantID string, campaignID int64) error {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignActive {
		return nil
	}

	now := s.now()
	n, err := s.CampaignRepo.Activate(ctx, c.TenantID, c.ID,
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignPaused}, firstDueAt(c, now), now)
	if err != nil {
		return err
	}

	s.log().Info("campaign activated",
		zap.Int64("campaign_id", c.ID), zap.String("from", string(c.Status)), zap.Int("assignments_activated", n))

	if c.Status == model.CampaignPaused {
		return s.completeIfDrainedWhilePaused(ctx, c, now)
	}
	return nil
}

// completeIfDrainedWhilePaused finishes a resumed campaign whose last open
// assignments reached a terminal state while it was paused. A campaign that
// never had assignments stays active so leads can still be added.
func (s *CampaignService) completeIfDrainedWhilePaused(ctx context.Context, c *model.Campaign, now time.Time) error {
	counts, err := s.AssignmentRepo.CountByStatus(ctx, c.TenantID, c.ID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}
	done, err := s.CampaignRepo.CompleteIfDrained(ctx, c.TenantID, c.ID, now)
	if err != nil {
		return err
	}
	if done {
		s.log().Info("campaign completed on resume", zap.Int64("campaign_id", c.ID))
	}
	return nil
}

// Pause stops new claims for the campaign. Assignment rows are untouched and
// in-flight steps finish normally.
func (s *CampaignService) Pause(ctx context.Context, tenantID string, campaignID int64) error {
	err := s.CampaignRepo.Transition(ctx, tenantID, campaignID,
		[]model.CampaignStatus{model.CampaignActive}, model.CampaignPaused, s.now())
	if err != nil {
		return err
	}
	s.log().Info("campaign paused", zap.Int64("campaign_id", campaignID))
	return nil
}

// Delete soft-deletes the campaign; every non-terminal assignment is failed
// with reason campaign_deleted.
func (s *CampaignService) Delete(ctx context.Context, tenantID string, campaignID int64) error {
	n, err := s.CampaignRepo.Delete(ctx, tenantID, campaignID, s.now())
	if err != nil {
		return err
	}
	s.log().Info("campaign deleted", zap.Int64("campaign_id", campaignID), zap.Int("assignments_failed", n))
	return nil
}
