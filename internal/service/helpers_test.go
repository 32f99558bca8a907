package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-scheduler/internal/channel"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

const tenant = "tenant-a"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

// scriptedChannel answers every step type through one function and records
// the idempotency keys it was called with.
type scriptedChannel struct {
	typ  model.StepType
	send func(ctx context.Context, req channel.Request) (string, error)

	mu   sync.Mutex
	keys []string
}

func (c *scriptedChannel) Type() model.StepType { return c.typ }

func (c *scriptedChannel) Send(ctx context.Context, req channel.Request) (string, error) {
	c.mu.Lock()
	c.keys = append(c.keys, req.IdempotencyKey)
	c.mu.Unlock()
	if c.send == nil {
		return "ok/" + req.IdempotencyKey, nil
	}
	return c.send(ctx, req)
}

func (c *scriptedChannel) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

type harness struct {
	store  *repository.MemoryStore
	clock  *fakeClock
	queue  *queue.InMemoryQueue
	svc    *service.CampaignService
	worker *service.Worker
}

// newHarness wires the service and a worker over a memory store. With no
// channels the built-in ones publish to an in-memory queue.
func newHarness(t *testing.T, opts service.WorkerOptions, channels ...channel.Channel) *harness {
	t.Helper()

	store := repository.NewMemoryStore()
	clock := newFakeClock(t0)
	q := queue.NewInMemoryQueue(nil)

	registry := channel.NewDefaultRegistry(q)
	if len(channels) > 0 {
		registry = channel.NewRegistry(channels...)
	}
	if opts.Owner == "" {
		opts.Owner = "test-worker"
	}

	return &harness{
		store: store,
		clock: clock,
		queue: q,
		svc: &service.CampaignService{
			CampaignRepo:   store.Campaigns,
			AssignmentRepo: store.Assignments,
			LeadRepo:       store.Leads,
			Clock:          clock,
		},
		worker: service.NewWorker(service.WorkerDeps{
			Campaigns:   store.Campaigns,
			Assignments: store.Assignments,
			Leads:       store.Leads,
			Channels:    registry,
			Clock:       clock,
		}, opts),
	}
}

func (h *harness) newWorker(owner string, registry *channel.Registry, opts service.WorkerOptions) *service.Worker {
	opts.Owner = owner
	return service.NewWorker(service.WorkerDeps{
		Campaigns:   h.store.Campaigns,
		Assignments: h.store.Assignments,
		Leads:       h.store.Leads,
		Channels:    registry,
		Clock:       h.clock,
	}, opts)
}

func (h *harness) lead(t *testing.T, name string) int64 {
	t.Helper()
	l := &model.Lead{
		TenantID:    tenant,
		Name:        name,
		Email:       name + "@example.com",
		Phone:       "+15550100",
		LinkedInURL: "https://www.linkedin.com/in/" + name,
	}
	require.NoError(t, h.store.Leads.Create(context.Background(), l))
	return l.ID
}

func (h *harness) campaign(t *testing.T, delays ...int) *model.Campaign {
	t.Helper()
	steps := make([]model.Step, len(delays))
	for i, d := range delays {
		steps[i] = model.Step{
			Order:     i,
			Type:      model.StepEmail,
			Subject:   "Hello {first_name}",
			Content:   "Hi {name}, step " + string(rune('A'+i)),
			DelayDays: d,
		}
	}
	c, err := h.svc.CreateCampaign(context.Background(), tenant, "Spring outreach", "", steps)
	require.NoError(t, err)
	return c
}

func (h *harness) assignments(t *testing.T, campaignID int64) []*model.Assignment {
	t.Helper()
	as, err := h.svc.ListAssignments(context.Background(), tenant, campaignID)
	require.NoError(t, err)
	return as
}

func (h *harness) only(t *testing.T, campaignID int64) *model.Assignment {
	t.Helper()
	as := h.assignments(t, campaignID)
	require.Len(t, as, 1)
	return as[0]
}

func (h *harness) run(t *testing.T) int {
	t.Helper()
	n, err := h.worker.RunDueWork(context.Background(), 10)
	require.NoError(t, err)
	return n
}
