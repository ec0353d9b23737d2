package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler decides whether sweeps recur inside this process.
type Scheduler interface {
	Schedule(job func()) error
	Stop(ctx context.Context)
}

// CronScheduler runs the job on a cron expression (5 fields, optional seconds, or descriptors like @daily).
type CronScheduler struct {
	cron   *cron.Cron
	spec   string
	logger *slog.Logger
}

func NewCronScheduler(log *slog.Logger, spec string) (*CronScheduler, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &CronScheduler{
		cron:   cron.New(cron.WithParser(parser)),
		spec:   spec,
		logger: log.With(slog.String("component", "retention-cron")),
	}, nil
}

func (c *CronScheduler) Schedule(job func()) error {
	if _, err := c.cron.AddFunc(c.spec, job); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info("cleanup scheduled", slog.String("spec", c.spec))
	return nil
}

// Stop waits for a running job to finish or ctx to end.
func (c *CronScheduler) Stop(ctx context.Context) {
	done := c.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// ExternalScheduler leaves recurrence to something outside the process
// (a cron job or orchestrator calling POST /upload/cleanup).
type ExternalScheduler struct {
	logger *slog.Logger
}

func NewExternalScheduler(log *slog.Logger) *ExternalScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &ExternalScheduler{logger: log}
}

func (e *ExternalScheduler) Schedule(func()) error {
	e.logger.Info("no cleanup schedule configured; recurring sweeps rely on an external caller")
	return nil
}

func (e *ExternalScheduler) Stop(context.Context) {}

// Job adapts a sweep into a scheduler job with its own timeout.
func Job(ctx context.Context, s *Sweeper, days int, timeout time.Duration) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := s.Run(runCtx, days); err != nil {
			s.logger.Error("scheduled sweep failed", slog.Any("error", err))
		}
	}
}
