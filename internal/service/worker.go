package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-scheduler/internal/channel"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

const tracerName = "github.com/unclebandit/outreach-scheduler/internal/service"

// errSkipped marks a claim released without executing because its campaign
// left active after the claim.
var errSkipped = errors.New("campaign no longer active")

// WorkerDeps are the collaborators a Worker drives.
type WorkerDeps struct {
	Campaigns   repository.CampaignRepositoryInterface
	Assignments repository.AssignmentRepositoryInterface
	Leads       repository.LeadRepositoryInterface
	Channels    *channel.Registry
	Clock       Clock
	Logger      *zap.Logger
}

// WorkerOptions tune a Worker. Zero values take the defaults.
type WorkerOptions struct {
	Owner        string
	Lease        time.Duration
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
	Policy       RetryPolicy
}

// Worker runs the select -> execute -> advance loop. Any number of workers
// may run against the same ledger; the claim is their only coordination.
type Worker struct {
	selector    *Selector
	executor    *StepExecutor
	engine      *Engine
	campaigns   repository.CampaignRepositoryInterface
	assignments repository.AssignmentRepositoryInterface
	leads       repository.LeadRepositoryInterface
	clock       Clock
	logger      *zap.Logger
	tracer      trace.Tracer

	owner        string
	lease        time.Duration
	batchSize    int
	concurrency  int
	pollInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Constructor
func NewWorker(deps WorkerDeps, opts WorkerOptions) *Worker {
	if opts.Owner == "" {
		opts.Owner = "worker-" + uuid.NewString()
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Policy.MaxRetries <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	logger := logging.OrNop(deps.Logger).With(zap.String("owner", opts.Owner))

	return &Worker{
		selector: &Selector{Assignments: deps.Assignments, Owner: opts.Owner, Lease: opts.Lease},
		executor: &StepExecutor{Channels: deps.Channels, Logger: logger},
		engine: &Engine{
			Campaigns:   deps.Campaigns,
			Assignments: deps.Assignments,
			Policy:      opts.Policy,
			Logger:      logger,
		},
		campaigns:    deps.Campaigns,
		assignments:  deps.Assignments,
		leads:        deps.Leads,
		clock:        orSystemClock(deps.Clock),
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		owner:        opts.Owner,
		lease:        opts.Lease,
		batchSize:    opts.BatchSize,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
	}
}

func (w *Worker) Owner() string { return w.owner }

// RunDueWork claims up to batchSize due assignments, executes and advances
// each, and returns how many were processed. Claims released because the
// campaign stopped being active do not count. batchSize <= 0 uses the
// configured batch size.
func (w *Worker) RunDueWork(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = w.batchSize
	}
	ctx, span := w.tracer.Start(ctx, "drip.run_due_work")
	defer span.End()

	claimed, err := w.selector.SelectDue(ctx, w.clock.Now(), batchSize)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("select due work: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	var processed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, a := range claimed {
		a := a
		g.Go(func() error {
			err := w.process(ctx, a)
			if errors.Is(err, errSkipped) {
				w.logger.Debug("claim released, campaign not active", zap.Int64("assignment_id", a.ID))
				return nil
			}
			if err != nil {
				w.logger.Error("processing assignment failed", zap.Int64("assignment_id", a.ID), zap.Error(err))
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("drip.claimed", len(claimed)),
		attribute.Int64("drip.processed", processed.Load()),
	)
	return int(processed.Load()), nil
}

// process is one claim-and-advance unit of work. The claim is released on
// every path that does not commit.
func (w *Worker) process(ctx context.Context, a *model.Assignment) (err error) {
	ctx, span := w.tracer.Start(ctx, "drip.process_assignment", trace.WithAttributes(
		attribute.Int64("drip.assignment_id", a.ID),
		attribute.Int64("drip.campaign_id", a.CampaignID),
		attribute.Int("drip.step_index", a.CurrentStepIndex),
		attribute.Int("drip.attempt", a.AttemptCount),
	))
	defer span.End()

	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := w.assignments.Release(context.WithoutCancel(ctx), a.ID, w.owner); rerr != nil && !errors.Is(rerr, appErrors.ErrClaimLost) {
			w.logger.Warn("release claim failed", zap.Int64("assignment_id", a.ID), zap.Error(rerr))
		}
		if err != nil && !errors.Is(err, errSkipped) {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	campaign, err := w.campaigns.GetByID(ctx, a.TenantID, a.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign %d: %w", a.CampaignID, err)
	}

	if campaign.Status != model.CampaignActive {
		// paused or deleted after the claim; leave it for the lifecycle path
		return errSkipped
	}

	step, ok := campaign.StepAt(a.CurrentStepIndex)
	if !ok {
		next, ev := finalize(a, w.clock.Now())
		if err := w.engine.commit(ctx, next, ev, w.owner); err != nil {
			return err
		}
		committed = true
		return nil
	}

	var out Outcome
	lead, err := w.leads.GetByID(ctx, a.TenantID, a.LeadID)
	switch {
	case appErrors.IsNotFound(err):
		out = failed(appErrors.NewPermanent("lead not found", err))
	case err != nil:
		return fmt.Errorf("load lead %d: %w", a.LeadID, err)
	default:
		out = w.executeWithLease(ctx, a, step, lead)
	}

	if err := w.engine.Apply(ctx, a, campaign, out, w.clock.Now(), w.owner); err != nil {
		return err
	}
	committed = true
	return nil
}

// executeWithLease runs the step while renewing the claim every half lease.
func (w *Worker) executeWithLease(ctx context.Context, a *model.Assignment, step model.Step, lead *model.Lead) Outcome {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.renewLease(ctx, a.ID, stop)
	}()

	out := w.executor.Execute(ctx, a, step, lead)
	close(stop)
	wg.Wait()
	return out
}

func (w *Worker) renewLease(ctx context.Context, id int64, stop <-chan struct{}) {
	interval := w.lease / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.assignments.RenewLease(ctx, id, w.owner, w.clock.Now().Add(w.lease))
			if errors.Is(err, appErrors.ErrClaimLost) {
				w.logger.Warn("claim lost while step in flight", zap.Int64("assignment_id", id))
				return
			}
			if err != nil {
				w.logger.Warn("lease renewal failed", zap.Int64("assignment_id", id), zap.Error(err))
			}
		}
	}
}

// ====================== Runtime ======================

// Start polls for due work every poll interval until Stop is called or ctx
// ends. In-flight units of work are allowed to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("worker already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
		zap.Duration("lease", w.lease))
	return nil
}

// Stop ends the poll loop and waits for the current batch.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain keeps running batches while they come back full.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.RunDueWork(context.WithoutCancel(ctx), w.batchSize)
		if err != nil {
			w.logger.Error("run due work", zap.Error(err))
			return
		}
		if n < w.batchSize {
			return
		}
	}
}
