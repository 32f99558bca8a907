package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// MemoryStore keeps campaigns, leads and the assignment ledger in process.
// A single mutex makes every method atomic, which gives the same
// compare-and-set guarantees as the Postgres statements. Used by tests and by
// the server when no database is configured.
type MemoryStore struct {
	Campaigns   *MemoryCampaignRepository
	Assignments *MemoryAssignmentRepository
	Leads       *MemoryLeadRepository
}

type memoryState struct {
	mu          sync.Mutex
	seq         int64
	campaigns   map[int64]*model.Campaign
	assignments map[int64]*model.Assignment
	pairs       map[[2]int64]int64
	leads       map[int64]*model.Lead
	events      []model.AssignmentEvent
}

func NewMemoryStore() *MemoryStore {
	st := &memoryState{
		campaigns:   map[int64]*model.Campaign{},
		assignments: map[int64]*model.Assignment{},
		pairs:       map[[2]int64]int64{},
		leads:       map[int64]*model.Lead{},
	}
	return &MemoryStore{
		Campaigns:   &MemoryCampaignRepository{st: st},
		Assignments: &MemoryAssignmentRepository{st: st},
		Leads:       &MemoryLeadRepository{st: st},
	}
}

func (s *memoryState) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memoryState) appendEvent(ev model.AssignmentEvent) {
	ev.ID = s.nextID()
	s.events = append(s.events, ev)
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Steps = append([]model.Step(nil), c.Steps...)
	return &cp
}

// ====================== Campaigns ======================

type MemoryCampaignRepository struct {
	st *memoryState
}

func (r *MemoryCampaignRepository) Create(_ context.Context, c *model.Campaign) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.ID = r.st.nextID()
	r.st.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *MemoryCampaignRepository) get(tenantID string, id int64) (*model.Campaign, error) {
	c, ok := r.st.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (r *MemoryCampaignRepository) GetByID(_ context.Context, tenantID string, id int64) (*model.Campaign, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, err := r.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	return cloneCampaign(c), nil
}

func (r *MemoryCampaignRepository) ListCampaigns(_ context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var filtered []*model.Campaign
	for _, c := range r.st.campaigns {
		if c.TenantID != tenantID || (status != "" && string(c.Status) != status) {
			continue
		}
		cp := cloneCampaign(c)
		cp.Steps = nil
		filtered = append(filtered, cp)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID > filtered[j].ID })

	total := len(filtered)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (r *MemoryCampaignRepository) ReplaceSteps(_ context.Context, tenantID string, id int64, steps []model.Step) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, err := r.get(tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignDraft {
		return appErrors.NewInvalidTransition(id, string(c.Status), "steps_edit")
	}
	c.Steps = append([]model.Step(nil), steps...)
	now := time.Now().UTC()
	c.UpdatedAt = &now
	return nil
}

func (r *MemoryCampaignRepository) UpdateDetails(_ context.Context, tenantID string, id int64, name, description string, now time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, err := r.get(tenantID, id)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignDeleted {
		return appErrors.NewInvalidTransition(id, string(c.Status), "edit")
	}
	c.Name = name
	c.Description = description
	c.UpdatedAt = &now
	return nil
}

func (r *MemoryCampaignRepository) transition(tenantID string, id int64, from []model.CampaignStatus, to model.CampaignStatus, now time.Time) error {
	c, err := r.get(tenantID, id)
	if err != nil {
		return err
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			c.UpdatedAt = &now
			return nil
		}
	}
	return appErrors.NewInvalidTransition(id, string(c.Status), string(to))
}

func (r *MemoryCampaignRepository) Transition(_ context.Context, tenantID string, id int64, from []model.CampaignStatus, to model.CampaignStatus, now time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.transition(tenantID, id, from, to, now)
}

func (r *MemoryCampaignRepository) Activate(_ context.Context, tenantID string, id int64, from []model.CampaignStatus, firstDueAt, now time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if err := r.transition(tenantID, id, from, model.CampaignActive, now); err != nil {
		return 0, err
	}
	return r.st.activatePending(tenantID, id, firstDueAt, now), nil
}

func (r *MemoryCampaignRepository) Delete(_ context.Context, tenantID string, id int64, now time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, err := r.get(tenantID, id)
	if err != nil {
		return 0, err
	}
	if c.Status == model.CampaignDeleted {
		return 0, nil
	}
	c.Status = model.CampaignDeleted
	c.UpdatedAt = &now

	failed := 0
	for _, a := range r.st.sortedAssignments() {
		if a.CampaignID != id || a.TenantID != tenantID || a.Status.Terminal() {
			continue
		}
		a.Status = model.AssignmentFailed
		a.FailureReason = model.ReasonCampaignDeleted
		a.NextActionAt = nil
		a.ClaimOwner = ""
		a.LeaseExpiresAt = nil
		a.UpdatedAt = &now
		r.st.appendEvent(model.AssignmentEvent{
			AssignmentID: a.ID, TenantID: a.TenantID, Kind: model.EventFailed,
			StepIndex: a.CurrentStepIndex, Attempt: a.AttemptCount,
			Detail: model.ReasonCampaignDeleted, CreatedAt: now,
		})
		failed++
	}
	return failed, nil
}

func (r *MemoryCampaignRepository) CompleteIfDrained(_ context.Context, tenantID string, id int64, now time.Time) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, err := r.get(tenantID, id)
	if err != nil {
		return false, err
	}
	if c.Status != model.CampaignActive {
		return false, nil
	}
	for _, a := range r.st.assignments {
		if a.CampaignID == id && (a.Status == model.AssignmentPending || a.Status == model.AssignmentActive) {
			return false, nil
		}
	}
	c.Status = model.CampaignCompleted
	c.UpdatedAt = &now
	return true, nil
}

// ====================== Assignments ======================

type MemoryAssignmentRepository struct {
	st *memoryState
}

func (s *memoryState) sortedAssignments() []*model.Assignment {
	out := make([]*model.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryState) activatePending(tenantID string, campaignID int64, dueAt, now time.Time) int {
	if c, ok := s.campaigns[campaignID]; !ok || c.Status != model.CampaignActive {
		return 0
	}
	n := 0
	for _, a := range s.sortedAssignments() {
		if a.CampaignID != campaignID || a.TenantID != tenantID || a.Status != model.AssignmentPending {
			continue
		}
		due := dueAt
		a.Status = model.AssignmentActive
		a.NextActionAt = &due
		a.AttemptCount = 0
		a.UpdatedAt = &now
		s.appendEvent(model.AssignmentEvent{
			AssignmentID: a.ID, TenantID: a.TenantID, Kind: model.EventActivated,
			StepIndex: a.CurrentStepIndex, CreatedAt: now,
		})
		n++
	}
	return n
}

func (r *MemoryAssignmentRepository) Enroll(_ context.Context, tenantID string, campaignID int64, leadIDs []int64, dueAt, now time.Time) (int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	c, ok := r.st.campaigns[campaignID]
	if !ok || c.TenantID != tenantID || c.Status == model.CampaignCompleted || c.Status == model.CampaignDeleted {
		return 0, nil
	}

	added := 0
	for _, leadID := range leadIDs {
		key := [2]int64{campaignID, leadID}
		if _, exists := r.st.pairs[key]; exists {
			continue
		}
		a := &model.Assignment{
			ID:             r.st.nextID(),
			CampaignID:     campaignID,
			TenantID:       tenantID,
			LeadID:         leadID,
			Status:         model.AssignmentPending,
			CompletedSteps: []int{},
			CreatedAt:      now,
		}
		if c.Status == model.CampaignActive {
			due := dueAt
			a.Status = model.AssignmentActive
			a.NextActionAt = &due
			r.st.appendEvent(model.AssignmentEvent{
				AssignmentID: a.ID, TenantID: tenantID, Kind: model.EventActivated, CreatedAt: now,
			})
		}
		r.st.assignments[a.ID] = a
		r.st.pairs[key] = a.ID
		added++
	}
	return added, nil
}

func (r *MemoryAssignmentRepository) Remove(_ context.Context, tenantID string, campaignID, leadID int64, now time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	id, ok := r.st.pairs[[2]int64{campaignID, leadID}]
	if !ok || r.st.assignments[id].TenantID != tenantID {
		return appErrors.NewLeadNotFound(leadID)
	}
	a := r.st.assignments[id]
	if a.Status.Terminal() {
		return nil
	}
	a.Status = model.AssignmentDeleted
	a.FailureReason = model.ReasonLeadRemoved
	a.NextActionAt = nil
	a.ClaimOwner = ""
	a.LeaseExpiresAt = nil
	a.UpdatedAt = &now
	r.st.appendEvent(model.AssignmentEvent{
		AssignmentID: a.ID, TenantID: a.TenantID, Kind: model.EventRemoved,
		StepIndex: a.CurrentStepIndex, Detail: model.ReasonLeadRemoved, CreatedAt: now,
	})
	return nil
}

func (r *MemoryAssignmentRepository) ClaimDue(_ context.Context, now time.Time, limit int, owner string, leaseUntil time.Time) ([]*model.Assignment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	var due []*model.Assignment
	for _, a := range r.st.assignments {
		c, ok := r.st.campaigns[a.CampaignID]
		if !ok || c.TenantID != a.TenantID || c.Status != model.CampaignActive {
			continue
		}
		if a.Claimable(now) {
			due = append(due, a)
		}
	}
	SortDue(due)
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.Assignment, 0, len(due))
	for _, a := range due {
		until := leaseUntil
		a.ClaimOwner = owner
		a.LeaseExpiresAt = &until
		claimed = append(claimed, a.Clone())
	}
	return claimed, nil
}

// owned returns the assignment when owner still holds an active claim on it.
func (r *MemoryAssignmentRepository) owned(id int64, owner string) (*model.Assignment, bool) {
	a, ok := r.st.assignments[id]
	if !ok || a.ClaimOwner != owner || a.Status != model.AssignmentActive {
		return nil, false
	}
	return a, true
}

func (r *MemoryAssignmentRepository) RenewLease(_ context.Context, id int64, owner string, leaseUntil time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a, ok := r.owned(id, owner)
	if !ok {
		return appErrors.ErrClaimLost
	}
	a.LeaseExpiresAt = &leaseUntil
	return nil
}

func (r *MemoryAssignmentRepository) Commit(_ context.Context, next *model.Assignment, owner string, ev model.AssignmentEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a, ok := r.owned(next.ID, owner)
	if !ok || next.CurrentStepIndex < a.CurrentStepIndex {
		return appErrors.ErrClaimLost
	}

	updated := next.Clone()
	updated.ClaimOwner = ""
	updated.LeaseExpiresAt = nil
	at := ev.CreatedAt
	updated.UpdatedAt = &at
	r.st.assignments[next.ID] = updated
	r.st.appendEvent(ev)
	return nil
}

func (r *MemoryAssignmentRepository) Release(_ context.Context, id int64, owner string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a, ok := r.st.assignments[id]
	if !ok || a.ClaimOwner != owner {
		return appErrors.ErrClaimLost
	}
	a.ClaimOwner = ""
	a.LeaseExpiresAt = nil
	return nil
}

func (r *MemoryAssignmentRepository) GetByID(_ context.Context, tenantID string, id int64) (*model.Assignment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	a, ok := r.st.assignments[id]
	if !ok || a.TenantID != tenantID {
		return nil, appErrors.NewAssignmentNotFound(id)
	}
	return a.Clone(), nil
}

func (r *MemoryAssignmentRepository) ListByCampaign(_ context.Context, tenantID string, campaignID int64) ([]*model.Assignment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	out := []*model.Assignment{}
	for _, a := range r.st.sortedAssignments() {
		if a.CampaignID == campaignID && a.TenantID == tenantID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *MemoryAssignmentRepository) CountByStatus(_ context.Context, tenantID string, campaignID int64) (map[model.AssignmentStatus]int, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	stats := map[model.AssignmentStatus]int{}
	for _, a := range r.st.assignments {
		if a.CampaignID == campaignID && a.TenantID == tenantID {
			stats[a.Status]++
		}
	}
	return stats, nil
}

func (r *MemoryAssignmentRepository) ListEvents(_ context.Context, tenantID string, assignmentID int64) ([]model.AssignmentEvent, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	events := []model.AssignmentEvent{}
	for _, ev := range r.st.events {
		if ev.AssignmentID == assignmentID && ev.TenantID == tenantID {
			events = append(events, ev)
		}
	}
	return events, nil
}

// ====================== Leads ======================

type MemoryLeadRepository struct {
	st *memoryState
}

func (r *MemoryLeadRepository) Create(_ context.Context, l *model.Lead) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.ID = r.st.nextID()
	cp := *l
	r.st.leads[l.ID] = &cp
	return nil
}

func (r *MemoryLeadRepository) GetByID(_ context.Context, tenantID string, id int64) (*model.Lead, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	l, ok := r.st.leads[id]
	if !ok || l.TenantID != tenantID {
		return nil, appErrors.NewLeadNotFound(id)
	}
	cp := *l
	return &cp, nil
}

func (r *MemoryLeadRepository) FilterExisting(_ context.Context, tenantID string, ids []int64) ([]int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	found := []int64{}
	for _, id := range ids {
		if l, ok := r.st.leads[id]; ok && l.TenantID == tenantID {
			found = append(found, id)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	return found, nil
}

var (
	_ CampaignRepositoryInterface   = (*MemoryCampaignRepository)(nil)
	_ AssignmentRepositoryInterface = (*MemoryAssignmentRepository)(nil)
	_ LeadRepositoryInterface       = (*MemoryLeadRepository)(nil)
)
