// Package scheduler runs the worker's periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wprank/backend/pkg/logger"
)

// Job is one periodic task. It receives a context that is cancelled when
// the scheduler stops.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger sends cron's own messages, such as recovered panics and
// skipped overlapping runs, through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(logger.With(context.Background(), zap.String("component", "scheduler")))
	cl := cronLogger{log: logger.Named("cron").Sugar()}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser: parser,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. Jobs with an empty schedule are disabled and skipped.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		logger.Info("Scheduled job disabled", zap.String("job", job.Name))
		return nil
	}

	if _, err := s.parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Schedule, job.Name, err)
	}

	jobCtx := logger.With(s.ctx, zap.String("job", job.Name))
	log := logger.FromContext(jobCtx)

	_, err := s.cron.AddFunc(job.Schedule, func() {
		start := time.Now()
		if err := job.Run(jobCtx); err != nil {
			log.Error("Scheduled job failed", zap.Error(err))
			return
		}
		log.Debug("Scheduled job finished", zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}

	logger.Info("Scheduled job registered", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs' context and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
