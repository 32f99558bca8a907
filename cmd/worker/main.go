package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-scheduler/internal/app"
	"github.com/unclebandit/outreach-scheduler/internal/channel"
	"github.com/unclebandit/outreach-scheduler/internal/config"
	"github.com/unclebandit/outreach-scheduler/internal/logging"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/queue"
	"github.com/unclebandit/outreach-scheduler/internal/tracing"
)

var (
	once      bool
	batchSize int
	interval  time.Duration
	dedupe    int
)

// rootCmd runs the drip scheduler poll loop.
var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run due drip steps",
	Long: `Claims due campaign assignments, executes their current step and
advances them. Any number of workers may run against the same database.`,
	SilenceUsage: true,
	RunE:         runWorker,
}

// deliverCmd consumes published step payloads from RabbitMQ.
var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Consume step payloads from RabbitMQ and hand them to providers",
	Long: `Consumes the drip.* queues. Redelivered payloads carrying an
idempotency key seen recently are acknowledged without being delivered again.`,
	SilenceUsage: true,
	RunE:         runDeliver,
}

func init() {
	rootCmd.Flags().BoolVar(&once, "once", false, "Run a single batch and exit")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Assignments per batch (default SCHEDULER_BATCH_SIZE)")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default SCHEDULER_POLL_INTERVAL)")
	deliverCmd.Flags().IntVar(&dedupe, "dedupe-window", 10000, "Idempotency keys remembered per process")
	rootCmd.AddCommand(deliverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context) (*app.App, *zap.Logger, func(), error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if batchSize > 0 {
		cfg.Scheduler.BatchSize = batchSize
	}
	if interval > 0 {
		cfg.Scheduler.PollInterval = interval
	}
	if cfg.DB.Driver == "memory" {
		return nil, nil, nil, errors.New("the standalone worker needs DB_DRIVER=postgres; use SCHEDULER_EMBEDDED with the memory store")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, nil, err
	}
	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
		_ = shutdownTracing(context.Background())
		_ = logger.Sync()
	}
	return a, logger, cleanup, nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if once {
		n, err := a.Worker.RunDueWork(ctx, 0)
		if err != nil {
			return err
		}
		logger.Info("batch finished", zap.Int("processed", n))
		return nil
	}

	if err := a.Worker.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("signal received, waiting for in-flight steps")
	a.Worker.Stop()
	return nil
}

func runDeliver(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, logger, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.AMQP == nil {
		return errors.New("deliver needs AMQP_URL")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range []model.StepType{model.StepEmail, model.StepCall, model.StepTask, model.StepLinkedIn} {
		topic := channel.Topic(t)
		handle := queue.Dedupe(dedupe, logDelivery(logger))
		g.Go(func() error {
			logger.Info("consuming", zap.String("topic", topic))
			return a.AMQP.Consume(ctx, topic, handle)
		})
	}
	return g.Wait()
}

// logDelivery stands in for the provider integrations; it records what would
// be sent.
func logDelivery(logger *zap.Logger) func(queue.Message) error {
	return func(m queue.Message) error {
		var payload map[string]any
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			// malformed payloads will never succeed; drop them
			logger.Error("undecodable payload", zap.String("topic", m.Topic), zap.Error(err))
			return nil
		}
		logger.Info("delivered",
			zap.String("topic", m.Topic),
			zap.String("idempotency_key", m.IdempotencyKey),
			zap.String("tenant_id", fmt.Sprint(payload["tenant_id"])),
			zap.Any("assignment_id", payload["assignment_id"]),
		)
		return nil
	}
}
