// Package database provides storage backends for sources, items, feedback
// and send history.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/pulse/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("database: not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("database: duplicate")
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL backends satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Source operations
	ListSources(ctx context.Context) ([]model.Source, error)
	GetSourceByURL(ctx context.Context, url string) (*model.Source, error)
	CreateSource(ctx context.Context, name, url string, kind model.SourceKind) (*model.Source, error)
	DeleteSource(ctx context.Context, url string) (int64, error)

	// Item operations
	ItemURLs(ctx context.Context, sourceID int64) (map[string]bool, error)
	UpsertItems(ctx context.Context, items []model.Item) (int, error)
	LatestItems(ctx context.Context, limit int) ([]model.Item, error)
	UpdateItemStory(ctx context.Context, url, title, summary string) error

	// Feedback and history
	AddFeedback(ctx context.Context, fb model.Feedback) (*model.Feedback, error)
	RecordRun(ctx context.Context, run model.Run) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// Open connects to the backend named by driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "", "sqlite":
		return New(dsn)
	case "postgres":
		return NewPostgres(dsn)
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}
