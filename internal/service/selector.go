package service

import (
	"context"
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// Selector finds due assignments and claims them for Owner. Assignments lost
// to a concurrent claimer are simply absent from the result.
type Selector struct {
	Assignments repository.AssignmentRepositoryInterface
	Owner       string
	Lease       time.Duration
}

func (s *Selector) SelectDue(ctx context.Context, now time.Time, batchSize int) ([]*model.Assignment, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	return s.Assignments.ClaimDue(ctx, now, batchSize, s.Owner, now.Add(s.Lease))
}
