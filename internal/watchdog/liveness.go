package watchdog

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// The liveness file is the last line of defense: a tiny timestamp file
// the agent refreshes on a fixed interval. The external supervisor
// process compares it against wall time and force-restarts the whole
// process tree when it goes stale, catching total in-process deadlocks
// that no in-process watchdog can see.

// Pulse periodically writes the current unix time to path until ctx is
// cancelled. Runs blocking; call in a goroutine.
func Pulse(ctx context.Context, path string, interval time.Duration, log zerolog.Logger) {
	l := log.With().Str("component", "liveness").Logger()

	write := func() {
		stamp := strconv.FormatInt(time.Now().Unix(), 10)
		if err := os.WriteFile(path, []byte(stamp), 0644); err != nil {
			l.Error().Err(err).Msg("liveness pulse write failed")
		}
	}

	write()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			write()
		}
	}
}

// Staleness returns how long ago the pulse file was written. A missing
// or unreadable file counts as infinitely stale.
func Staleness(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read liveness file: %w", err)
	}

	stamp, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse liveness stamp: %w", err)
	}
	return time.Since(time.Unix(stamp, 0)), nil
}
