package store

import (
	"context"
	"log/slog"
	"time"
)

const sessionSweepInterval = 60 * time.Second

// RunSessionSweeper deletes expired auth sessions every 60 seconds until
// ctx is cancelled. Intended to run as its own goroutine from main.
func (s *Store) RunSessionSweeper(ctx context.Context) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("state store: session sweeper stopping")
			return
		case <-ticker.C:
			n, err := s.SweepExpiredSessions()
			if err != nil {
				slog.Error("state store: session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("state store: swept expired sessions", "count", n)
			}
		}
	}
}
