package channels

import (
	"context"
	"log/slog"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/bus"
	"github.com/basket/archivist/internal/moderation"
)

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins listening for messages. It should block until the context is canceled or a fatal error occurs.
	Start(ctx context.Context) error
}

// Services are the operations a chat surface exposes. Moderator may be nil
// on surfaces that have no guild.
type Services struct {
	Archives  *archive.Engine
	Moderator *moderation.Moderator
	Analyzer  *analyzer.Analyzer
	Bus       *bus.Bus
	Logger    *slog.Logger
}

func (s Services) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s Services) analyze(ctx context.Context, code string) analyzer.Report {
	if s.Analyzer == nil {
		return analyzer.Analyze(code)
	}
	return s.Analyzer.Analyze(ctx, code)
}
