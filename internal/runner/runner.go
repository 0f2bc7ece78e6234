// Package runner executes one full pipeline cycle.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/ingest"
)

// Ingester refreshes every source.
type Ingester interface {
	IngestAll(ctx context.Context) (ingest.Summary, error)
}

// Sender generates and publishes the digest.
type Sender interface {
	Send(ctx context.Context) (string, error)
}

// Runner orchestrates the ingest -> curate -> publish pipeline.
type Runner struct {
	ingester Ingester
	sender   Sender
	logger   zerolog.Logger
}

func New(ingester Ingester, sender Sender, logger zerolog.Logger) *Runner {
	return &Runner{ingester: ingester, sender: sender, logger: logger}
}

// Run executes the full pipeline once: all sources are ingested, then the
// digest is sent.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()
	r.logger.Info().Msg("starting pipeline")

	sum, err := r.ingester.IngestAll(ctx)
	if err != nil {
		return fmt.Errorf("runner: ingest: %w", err)
	}
	r.logger.Info().Int("sources", sum.Sources).Int("inserted", sum.Inserted).Msg("ingest done")

	subject, err := r.sender.Send(ctx)
	if err != nil {
		return fmt.Errorf("runner: send: %w", err)
	}
	r.logger.Info().Str("subject", subject).Dur("elapsed", time.Since(start)).Msg("pipeline complete")
	return nil
}
