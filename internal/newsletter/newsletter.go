// Package newsletter assembles the daily digest from stored items and
// hands it to the configured publishers.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryan-buckman/pulse/internal/model"
	"github.com/bryan-buckman/pulse/internal/publisher"
	"github.com/bryan-buckman/pulse/internal/render"
)

// DefaultLimit is the number of items in a digest.
const DefaultLimit = 5

// ErrNoItems is returned when there is nothing to put in a digest.
var ErrNoItems = errors.New("newsletter: no items found, add sources and ingest content first")

// Store is the persistence the service needs.
type Store interface {
	LatestItems(ctx context.Context, limit int) ([]model.Item, error)
	RecordRun(ctx context.Context, run model.Run) error
}

// Curator turns stored items into a rendered digest.
type Curator interface {
	BuildDigest(ctx context.Context, items []model.Item, limit int) (*model.Digest, error)
}

// Config controls digest size and subject.
type Config struct {
	Title string
	Limit int
}

// Service generates and sends digests.
type Service struct {
	cfg        Config
	store      Store
	curator    Curator
	publishers []publisher.Publisher
	logger     zerolog.Logger
	now        func() time.Time
}

func New(cfg Config, store Store, curator Curator, publishers []publisher.Publisher, logger zerolog.Logger) *Service {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Title == "" {
		cfg.Title = render.DefaultTitle
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		curator:    curator,
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
	}
}

// Generate builds a digest from the newest items.
func (s *Service) Generate(ctx context.Context) (*model.Digest, error) {
	items, err := s.store.LatestItems(ctx, s.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return s.curator.BuildDigest(ctx, items, s.cfg.Limit)
}

// Subject returns the email subject for a digest sent at t.
func (s *Service) Subject(t time.Time) string {
	return fmt.Sprintf("%s - %s", s.cfg.Title, t.UTC().Format("2006-01-02"))
}

// Send generates a digest and publishes it everywhere. It fails only when
// every publisher fails. The attempt is recorded in the run history.
func (s *Service) Send(ctx context.Context) (string, error) {
	d, err := s.Generate(ctx)
	if err != nil {
		return "", err
	}
	if len(s.publishers) == 0 {
		return "", errors.New("newsletter: no publishers configured")
	}

	now := s.now()
	subject := s.Subject(now)

	var errs []error
	for _, p := range s.publishers {
		if err := p.Publish(ctx, subject, d); err != nil {
			s.logger.Error().Err(err).Str("publisher", p.Name()).Msg("publish failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		s.logger.Info().Str("publisher", p.Name()).Str("subject", subject).Msg("digest published")
	}

	status := model.RunSent
	var sendErr error
	if len(errs) == len(s.publishers) {
		status = model.RunFailed
		sendErr = fmt.Errorf("newsletter: every publisher failed: %w", errors.Join(errs...))
	}

	run := model.Run{ID: uuid.NewString(), RunDate: now, Status: status, Subject: subject}
	if err := s.store.RecordRun(ctx, run); err != nil {
		s.logger.Warn().Err(err).Msg("could not record run")
	}
	return subject, sendErr
}
