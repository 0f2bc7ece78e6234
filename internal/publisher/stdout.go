package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bryan-buckman/pulse/internal/model"
)

// StdoutPublisher prints the plain-text digest.
type StdoutPublisher struct {
	w io.Writer
}

// NewStdoutPublisher writes to w, or os.Stdout when w is nil.
func NewStdoutPublisher(w io.Writer) *StdoutPublisher {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutPublisher{w: w}
}

func (p *StdoutPublisher) Name() string { return "stdout" }

func (p *StdoutPublisher) Publish(_ context.Context, subject string, digest *model.Digest) error {
	rule := strings.Repeat("=", 72)
	_, err := fmt.Fprintf(p.w, "%s\n%s\n%s\n\n%s\n%s\n", rule, subject, rule, strings.TrimRight(digest.Text, "\n"), rule)
	return err
}
