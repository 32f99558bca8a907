package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-scheduler/internal/channel"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// idempotencyNamespace seeds the UUIDv5 keys handed to channels.
var idempotencyNamespace = uuid.MustParse("6f1b7c1e-3d5a-4f7e-9b2a-8c4d2e1f0a93")

// IdempotencyKey is stable for a given (assignment, step, attempt), so a step
// re-dispatched after a crash and lease expiry carries the same key.
func IdempotencyKey(assignmentID int64, stepIndex, attempt int) string {
	name := fmt.Sprintf("assignment:%d:step:%d:attempt:%d", assignmentID, stepIndex, attempt)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

// Outcome is the result of executing one step.
type Outcome struct {
	Success     bool
	ArtifactRef string
	Err         error
	Permanent   bool
}

func failed(err error) Outcome {
	return Outcome{Err: err, Permanent: appErrors.IsPermanent(err)}
}

// StepExecutor dispatches a step to the channel selected by its type.
type StepExecutor struct {
	Channels *channel.Registry
	Logger   *zap.Logger
}

// Execute never returns an error or panics: every failure, including a panic
// inside a channel, comes back as a failed Outcome.
func (e *StepExecutor) Execute(ctx context.Context, a *model.Assignment, step model.Step, lead *model.Lead) (out Outcome) {
	logger := logging.OrNop(e.Logger)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("channel panicked", zap.Int64("assignment_id", a.ID), zap.Any("panic", p))
			out = failed(appErrors.NewTransient(fmt.Errorf("channel panic: %v", p)))
		}
	}()

	ch, err := e.Channels.For(step.Type)
	if err != nil {
		return failed(err)
	}

	key := IdempotencyKey(a.ID, a.CurrentStepIndex, a.AttemptCount)
	ref, err := ch.Send(ctx, channel.Request{
		IdempotencyKey: key,
		Assignment:     a,
		Step:           step,
		Lead:           lead,
	})
	if err != nil {
		return failed(err)
	}
	return Outcome{Success: true, ArtifactRef: ref}
}
