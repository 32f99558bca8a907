package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// RetryPolicy bounds how often a failing step is retried and how long to wait.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour}
}

// Backoff is min(base * 2^(attempt-1), max).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Advance computes the next ledger state for a claimed assignment after one
// execution of its current step. It does not touch storage.
func Advance(a *model.Assignment, c *model.Campaign, out Outcome, now time.Time, p RetryPolicy) (*model.Assignment, model.AssignmentEvent) {
	now = now.UTC()
	next := a.Clone()
	ev := model.AssignmentEvent{
		AssignmentID: a.ID,
		TenantID:     a.TenantID,
		StepIndex:    a.CurrentStepIndex,
		Attempt:      a.AttemptCount,
		ArtifactRef:  out.ArtifactRef,
		CreatedAt:    now,
	}

	if out.Success {
		next.CompletedSteps = append(next.CompletedSteps, a.CurrentStepIndex)
		next.CurrentStepIndex++
		next.AttemptCount = 0
		next.LastError = ""

		if step, ok := c.StepAt(next.CurrentStepIndex); ok {
			due := now.AddDate(0, 0, step.DelayDays)
			next.NextActionAt = &due
			ev.Kind = model.EventStepSucceeded
			return next, ev
		}
		next.Status = model.AssignmentCompleted
		next.NextActionAt = nil
		ev.Kind = model.EventCompleted
		return next, ev
	}

	next.AttemptCount++
	ev.Attempt = next.AttemptCount
	if out.Err != nil {
		next.LastError = out.Err.Error()
		ev.Detail = next.LastError
	}

	switch {
	case out.Permanent:
		next.Status = model.AssignmentFailed
		next.FailureReason = model.ReasonPermanent
		next.NextActionAt = nil
		ev.Kind = model.EventFailed
	case next.AttemptCount < p.MaxRetries:
		due := now.Add(p.Backoff(next.AttemptCount))
		next.NextActionAt = &due
		ev.Kind = model.EventStepRetry
	default:
		next.Status = model.AssignmentFailed
		next.FailureReason = model.ReasonRetriesExhausted
		next.NextActionAt = nil
		ev.Kind = model.EventFailed
	}
	return next, ev
}

// finalize closes out an active assignment that has no step left to run.
func finalize(a *model.Assignment, now time.Time) (*model.Assignment, model.AssignmentEvent) {
	next := a.Clone()
	next.Status = model.AssignmentCompleted
	next.NextActionAt = nil
	return next, model.AssignmentEvent{
		AssignmentID: a.ID,
		TenantID:     a.TenantID,
		Kind:         model.EventCompleted,
		StepIndex:    a.CurrentStepIndex,
		CreatedAt:    now.UTC(),
	}
}

// Engine commits advanced state to the ledger.
type Engine struct {
	Campaigns   repository.CampaignRepositoryInterface
	Assignments repository.AssignmentRepositoryInterface
	Policy      RetryPolicy
	Logger      *zap.Logger
}

// Apply advances a claimed assignment and releases the claim. A lost claim
// (lease taken over, or the campaign was deleted meanwhile) is a silent no-op.
func (e *Engine) Apply(ctx context.Context, a *model.Assignment, c *model.Campaign, out Outcome, now time.Time, owner string) error {
	next, ev := Advance(a, c, out, now, e.Policy)
	return e.commit(ctx, next, ev, owner)
}

func (e *Engine) commit(ctx context.Context, next *model.Assignment, ev model.AssignmentEvent, owner string) error {
	logger := logging.OrNop(e.Logger).With(
		zap.Int64("assignment_id", next.ID),
		zap.Int64("campaign_id", next.CampaignID),
		zap.String("tenant_id", next.TenantID),
		zap.Int("step_index", ev.StepIndex),
		zap.Int("attempt", ev.Attempt),
	)

	if err := e.Assignments.Commit(ctx, next, owner, ev); err != nil {
		if errors.Is(err, appErrors.ErrClaimLost) {
			logger.Debug("assignment no longer claimed by this worker, dropping result")
			return nil
		}
		return fmt.Errorf("commit assignment %d: %w", next.ID, err)
	}
	logger.Info("assignment advanced", zap.String("event", string(ev.Kind)), zap.String("status", string(next.Status)))

	if next.Status.Terminal() {
		done, err := e.Campaigns.CompleteIfDrained(ctx, next.TenantID, next.CampaignID, ev.CreatedAt)
		if err != nil {
			logger.Warn("campaign completion check failed", zap.Error(err))
		} else if done {
			logger.Info("campaign completed")
		}
	}
	return nil
}
