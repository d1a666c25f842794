package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/ranking"
	"github.com/wprank/backend/internal/scheduler"
	"github.com/wprank/backend/pkg/logger"
)

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process the crawl queue and run maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps()
			if err != nil {
				return err
			}
			defer d.Close()
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWorker(ctx, d)
		},
	}
}

// runWorker blocks until ctx is cancelled. In-flight items are allowed to
// finish before it returns.
func runWorker(ctx context.Context, d *deps) error {
	engine := d.rankingEngine()
	proc := d.processor(engine)

	sched, err := newMaintenance(d, engine)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("Worker started")
	err = proc.Run(ctx)
	logger.Info("Worker stopped")
	return err
}

func newMaintenance(d *deps, engine *ranking.Engine) (*scheduler.Scheduler, error) {
	sched := scheduler.New()

	jobs := []scheduler.Job{
		{
			Name:     "recover-stale",
			Schedule: cfg.Schedule.RecoverStale,
			Run: func(ctx context.Context) error {
				_, err := d.queue.RecoverStale(ctx)
				return err
			},
		},
		{
			Name:     "cleanup",
			Schedule: cfg.Schedule.Cleanup,
			Run: func(ctx context.Context) error {
				return runCleanup(ctx, d, cfg.Retention.Days)
			},
		},
		{
			Name:     "rerank",
			Schedule: cfg.Schedule.Rerank,
			Run: func(ctx context.Context) error {
				_, err := engine.Recompute(ctx)
				return err
			},
		},
	}

	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func runCleanup(ctx context.Context, d *deps, days int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	res, err := d.store.Cleanup(ctx, cutoff)
	if err != nil {
		return err
	}

	logger.Info("Retention cleanup finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("queue_items", res.QueueItems),
		zap.Int64("snapshots", res.Snapshots),
	)
	return nil
}
