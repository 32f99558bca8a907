package repository_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("drip"),
		postgres.WithUsername("drip"),
		postgres.WithPassword("drip"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := db.Open(ctx, connStr, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.Migrate(ctx, conn))
	require.NoError(t, db.Migrate(ctx, conn), "schema is idempotent")
	return conn
}

func TestPostgresLedger(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()

	campaigns := &repository.CampaignRepository{DB: conn}
	assignments := &repository.AssignmentRepository{DB: conn}
	leads := &repository.LeadRepository{DB: conn}

	c := &model.Campaign{
		TenantID: "acme",
		Name:     "Launch",
		Status:   model.CampaignDraft,
		Steps: []model.Step{
			{Order: 0, Type: model.StepEmail, Subject: "Hi {first_name}", Content: "Hello"},
			{Order: 1, Type: model.StepCall, DelayDays: 3, Content: "Call script"},
		},
		CreatedAt: now,
	}
	require.NoError(t, campaigns.Create(ctx, c))

	ids := make([]int64, 5)
	for i := range ids {
		l := &model.Lead{TenantID: "acme", Name: "Lead", Email: "lead@example.com", Phone: "+15550100"}
		require.NoError(t, leads.Create(ctx, l))
		ids[i] = l.ID
	}

	t.Run("steps round trip", func(t *testing.T) {
		got, err := campaigns.GetByID(ctx, "acme", c.ID)
		require.NoError(t, err)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, 3, got.Steps[1].DelayDays)

		_, err = campaigns.GetByID(ctx, "other", c.ID)
		assert.True(t, appErrors.IsNotFound(err))
	})

	t.Run("update details", func(t *testing.T) {
		require.NoError(t, campaigns.UpdateDetails(ctx, "acme", c.ID, "Launch", "renamed", now))
		got, err := campaigns.GetByID(ctx, "acme", c.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Description)
		require.NotNil(t, got.UpdatedAt)

		err = campaigns.UpdateDetails(ctx, "other", c.ID, "x", "", now)
		assert.True(t, appErrors.IsNotFound(err))
	})

	t.Run("add leads is idempotent", func(t *testing.T) {
		added, err := assignments.Enroll(ctx, "acme", c.ID, ids, now, now)
		require.NoError(t, err)
		assert.Equal(t, 5, added)

		added, err = assignments.Enroll(ctx, "acme", c.ID, ids, now, now)
		require.NoError(t, err)
		assert.Zero(t, added)

		found, err := leads.FilterExisting(ctx, "acme", append(ids, 999999))
		require.NoError(t, err)
		assert.Len(t, found, 5)
	})

	t.Run("activate and racing claims", func(t *testing.T) {
		n, err := campaigns.Activate(ctx, "acme", c.ID, []model.CampaignStatus{model.CampaignDraft}, now, now)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		var mu sync.Mutex
		claimedBy := map[int64]string{}
		var wg sync.WaitGroup
		for _, owner := range []string{"w1", "w2", "w3", "w4"} {
			wg.Add(1)
			go func(owner string) {
				defer wg.Done()
				got, err := assignments.ClaimDue(ctx, now, 5, owner, now.Add(time.Minute))
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				for _, a := range got {
					prev, dup := claimedBy[a.ID]
					assert.False(t, dup, "assignment %d claimed by %s and %s", a.ID, prev, owner)
					claimedBy[a.ID] = owner
				}
			}(owner)
		}
		wg.Wait()
		assert.Len(t, claimedBy, 5)

		for id, owner := range claimedBy {
			require.NoError(t, assignments.RenewLease(ctx, id, owner, now.Add(2*time.Minute)))
			require.NoError(t, assignments.Release(ctx, id, owner))
		}
	})

	t.Run("commit advances and guards ownership", func(t *testing.T) {
		got, err := assignments.ClaimDue(ctx, now, 1, "w1", now.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)

		next := got[0].Clone()
		next.CompletedSteps = append(next.CompletedSteps, 0)
		next.CurrentStepIndex = 1
		due := now.AddDate(0, 0, 3)
		next.NextActionAt = &due
		ev := model.AssignmentEvent{AssignmentID: next.ID, TenantID: "acme", Kind: model.EventStepSucceeded, StepIndex: 0, ArtifactRef: "ref", CreatedAt: now}

		assert.ErrorIs(t, assignments.Commit(ctx, next, "intruder", ev), appErrors.ErrClaimLost)
		require.NoError(t, assignments.Commit(ctx, next, "w1", ev))
		assert.ErrorIs(t, assignments.Commit(ctx, next, "w1", ev), appErrors.ErrClaimLost, "claim released by first commit")

		stored, err := assignments.GetByID(ctx, "acme", next.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.CurrentStepIndex)
		assert.Equal(t, []int{0}, stored.CompletedSteps)
		assert.Empty(t, stored.ClaimOwner)

		events, err := assignments.ListEvents(ctx, "acme", next.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventActivated, events[0].Kind)
		assert.Equal(t, model.EventStepSucceeded, events[1].Kind)
	})

	t.Run("enroll on an active campaign starts immediately", func(t *testing.T) {
		live := &model.Campaign{
			TenantID: "acme", Name: "Live", Status: model.CampaignDraft,
			Steps: []model.Step{{Order: 0, Type: model.StepTask, DelayDays: 2}}, CreatedAt: now,
		}
		require.NoError(t, campaigns.Create(ctx, live))
		_, err := campaigns.Activate(ctx, "acme", live.ID, []model.CampaignStatus{model.CampaignDraft}, now, now)
		require.NoError(t, err)

		due := now.AddDate(0, 0, 2)
		added, err := assignments.Enroll(ctx, "acme", live.ID, ids[:2], due, now)
		require.NoError(t, err)
		assert.Equal(t, 2, added)

		list, err := assignments.ListByCampaign(ctx, "acme", live.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, a := range list {
			assert.Equal(t, model.AssignmentActive, a.Status)
			require.NotNil(t, a.NextActionAt)
			assert.True(t, due.Equal(*a.NextActionAt))

			events, err := assignments.ListEvents(ctx, "acme", a.ID)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, model.EventActivated, events[0].Kind)
		}

		require.NoError(t, campaigns.Transition(ctx, "acme", live.ID,
			[]model.CampaignStatus{model.CampaignActive}, model.CampaignPaused, now))
		added, err = assignments.Enroll(ctx, "acme", live.ID, ids[2:3], due, now)
		require.NoError(t, err)
		assert.Equal(t, 1, added)
		pending, err := assignments.CountByStatus(ctx, "acme", live.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, pending[model.AssignmentPending])
	})

	t.Run("pause hides work", func(t *testing.T) {
		require.NoError(t, campaigns.Transition(ctx, "acme", c.ID,
			[]model.CampaignStatus{model.CampaignActive}, model.CampaignPaused, now))
		got, err := assignments.ClaimDue(ctx, now, 10, "w1", now.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, got)

		err = campaigns.Transition(ctx, "acme", c.ID,
			[]model.CampaignStatus{model.CampaignActive}, model.CampaignPaused, now)
		assert.True(t, appErrors.IsInvalidTransition(err))
	})

	t.Run("delete cascades", func(t *testing.T) {
		n, err := campaigns.Delete(ctx, "acme", c.ID, now)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = campaigns.Delete(ctx, "acme", c.ID, now)
		require.NoError(t, err)
		assert.Zero(t, n)

		counts, err := assignments.CountByStatus(ctx, "acme", c.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, counts[model.AssignmentFailed])

		list, err := assignments.ListByCampaign(ctx, "acme", c.ID)
		require.NoError(t, err)
		for _, a := range list {
			assert.Equal(t, model.ReasonCampaignDeleted, a.FailureReason)
			assert.Nil(t, a.NextActionAt)
		}

		added, err := assignments.Enroll(ctx, "acme", c.ID, []int64{ids[0]}, now, now)
		require.NoError(t, err)
		assert.Zero(t, added)
	})

	t.Run("pagination", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, campaigns.Create(ctx, &model.Campaign{
				TenantID: "acme", Name: "Extra", Status: model.CampaignDraft,
				Steps: []model.Step{{Order: 0, Type: model.StepTask}}, CreatedAt: now,
			}))
		}
		page, total, err := campaigns.ListCampaigns(ctx, "acme", 0, 2, string(model.CampaignDraft))
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, page, 2)
	})
}
