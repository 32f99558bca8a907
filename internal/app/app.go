// Package app wires configuration into the stores, publisher, service and
// worker shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-scheduler/internal/channel"
	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/db"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	// DB is nil when the memory driver is selected.
	DB *sql.DB

	Campaigns   repository.CampaignRepositoryInterface
	Assignments repository.AssignmentRepositoryInterface
	Leads       repository.LeadRepositoryInterface

	Publisher queue.Publisher
	AMQP      *queue.AMQPPublisher
	Service   *service.CampaignService
	Worker    *service.Worker

	closers []func() error
}

// New connects the configured backends. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	switch cfg.DB.Driver {
	case "memory":
		store := repository.NewMemoryStore()
		a.Campaigns, a.Assignments, a.Leads = store.Campaigns, store.Assignments, store.Leads
		logger.Warn("using in-memory store, state is lost on exit")
	default:
		conn, err := db.Open(ctx, cfg.DB.DSN(), logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.Migrate(ctx, conn); err != nil {
			a.Close()
			return nil, err
		}
		a.DB = conn
		a.Campaigns = &repository.CampaignRepository{DB: conn}
		a.Assignments = &repository.AssignmentRepository{DB: conn}
		a.Leads = &repository.LeadRepository{DB: conn}
	}

	if cfg.AMQP.URL != "" {
		pub, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		a.AMQP = pub
		a.Publisher = pub
		logger.Info("publishing step payloads to rabbitmq", zap.String("exchange", cfg.AMQP.Exchange))
	} else {
		a.Publisher = queue.NewInMemoryQueue(logger)
		logger.Info("publishing step payloads to in-memory queue")
	}

	clock := service.SystemClock{}
	a.Service = &service.CampaignService{
		CampaignRepo:   a.Campaigns,
		AssignmentRepo: a.Assignments,
		LeadRepo:       a.Leads,
		Clock:          clock,
		Logger:         logger,
	}

	s := cfg.Scheduler
	policy := service.DefaultRetryPolicy()
	policy.MaxRetries = s.MaxRetries
	a.Worker = service.NewWorker(service.WorkerDeps{
		Campaigns:   a.Campaigns,
		Assignments: a.Assignments,
		Leads:       a.Leads,
		Channels:    channel.NewDefaultRegistry(a.Publisher),
		Clock:       clock,
		Logger:      logger,
	}, service.WorkerOptions{
		Owner:        s.WorkerID,
		Lease:        s.Lease,
		BatchSize:    s.BatchSize,
		Concurrency:  s.Concurrency,
		PollInterval: s.PollInterval,
		Policy:       policy,
	})
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
