package cli

import (
	"io"
	"log/slog"

	"github.com/rs/xid"
)

// newLogger returns a text logger tagged with a fresh run id, so the lines of
// one invocation can be told apart in a shared log.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("run", xid.New().String())
}
