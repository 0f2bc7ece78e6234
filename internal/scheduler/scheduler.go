// Package scheduler triggers the pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled pipeline run.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron schedule. A run that is still going when
// the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates a scheduler for spec, a standard five-field cron expression.
func New(ctx context.Context, spec string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		logger.Info().Msg("cron triggered, running pipeline")
		if err := job(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled run failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents further runs and returns a context that is done once the
// running job, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
