// Package publisher delivers rendered digests to their readers.
package publisher

import (
	"context"

	"github.com/bryan-buckman/pulse/internal/model"
)

// Publisher publishes a digest to some output destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, subject string, digest *model.Digest) error
}
