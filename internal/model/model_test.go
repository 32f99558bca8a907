package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

func TestValidateSteps(t *testing.T) {
	cases := []struct {
		name    string
		steps   []model.Step
		wantErr string
	}{
		{name: "empty", steps: nil, wantErr: "at least one step"},
		{name: "gap", steps: []model.Step{{Order: 0, Type: model.StepEmail}, {Order: 2, Type: model.StepCall}}, wantErr: "contiguous"},
		{name: "not from zero", steps: []model.Step{{Order: 1, Type: model.StepEmail}}, wantErr: "contiguous"},
		{name: "duplicate", steps: []model.Step{{Order: 0, Type: model.StepEmail}, {Order: 0, Type: model.StepTask}}, wantErr: "duplicate"},
		{name: "unknown type", steps: []model.Step{{Order: 0, Type: "fax"}}, wantErr: "unknown type"},
		{name: "negative delay", steps: []model.Step{{Order: 0, Type: model.StepEmail, DelayDays: -1}}, wantErr: "negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.ValidateSteps(tc.steps)
			require.Error(t, err)
			assert.True(t, appErrors.IsValidation(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	in := []model.Step{
		{Order: 2, Type: model.StepLinkedIn, DelayDays: 4},
		{Order: 0, Type: model.StepEmail},
		{Order: 1, Type: model.StepCall, DelayDays: 2},
	}
	sorted, err := model.ValidateSteps(in)
	require.NoError(t, err)
	for i, s := range sorted {
		assert.Equal(t, i, s.Order)
	}
	assert.Equal(t, 2, in[0].Order, "input slice is not reordered")
}

func TestAssignmentClaimable(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	a := &model.Assignment{Status: model.AssignmentActive, NextActionAt: &past}
	assert.True(t, a.Claimable(now))

	a.ClaimOwner, a.LeaseExpiresAt = "w1", &future
	assert.False(t, a.Claimable(now), "live lease")

	a.LeaseExpiresAt = &past
	assert.True(t, a.Claimable(now), "expired lease")

	a.NextActionAt = &future
	assert.False(t, a.Claimable(now))

	a.NextActionAt, a.Status = &past, model.AssignmentPending
	assert.False(t, a.Claimable(now))
}

func TestAssignmentCloneIsDeep(t *testing.T) {
	due := time.Now()
	a := &model.Assignment{CompletedSteps: []int{0}, NextActionAt: &due}
	c := a.Clone()
	c.CompletedSteps[0] = 9
	*c.NextActionAt = due.Add(time.Hour)

	assert.Equal(t, []int{0}, a.CompletedSteps)
	assert.Equal(t, due, *a.NextActionAt)
}

func TestLeadPlaceholders(t *testing.T) {
	l := &model.Lead{Name: "Ada King Lovelace", Email: "ada@example.com", Company: "Analytical"}
	p := l.Placeholders()
	assert.Equal(t, "Ada", p["first_name"])
	assert.Equal(t, "King Lovelace", p["last_name"])
	assert.Equal(t, "Analytical", p["company"])
	assert.True(t, strings.HasSuffix(p["email"], "@example.com"))
}

func TestAssignmentStatusTerminal(t *testing.T) {
	assert.False(t, model.AssignmentPending.Terminal())
	assert.False(t, model.AssignmentActive.Terminal())
	assert.True(t, model.AssignmentCompleted.Terminal())
	assert.True(t, model.AssignmentFailed.Terminal())
	assert.True(t, model.AssignmentDeleted.Terminal())
}
