package proxy

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"aegis/internal/store"
)

// StateCache is the proxy-side read view of protection state, refreshed by
// polling the State Store's change sequence rather than sharing memory
// with the Decision API process. Reads are lock-free atomic loads so the
// hot request path never blocks on the poller. When a Redis subscriber is
// configured, a "protection" publish wakes the cache immediately instead
// of waiting for the next poll tick; polling still runs regardless, so a
// missed or delayed publish self-heals within one interval.
type StateCache struct {
	st           *store.Store
	pollInterval time.Duration
	subscriber   *store.ChangeSubscriber

	lastSeq int64
	enabled atomic.Bool
}

// NewStateCache builds a cache that polls st every pollInterval (spec
// default 100 ms). The initial protection status is loaded synchronously
// so the cache is correct before Run's first tick. subscriber may be nil,
// in which case the cache relies purely on polling.
func NewStateCache(st *store.Store, pollInterval time.Duration, subscriber *store.ChangeSubscriber) (*StateCache, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	c := &StateCache{st: st, pollInterval: pollInterval, subscriber: subscriber}
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// IsFilteringEnabled reports whether protection is currently active. A
// false result causes the proxy to passthrough without invoking the
// extractor or classifier at all.
func (c *StateCache) IsFilteringEnabled() bool {
	return c.enabled.Load()
}

// Run polls for state_changes rows affecting protection status until ctx
// is done. Only a "protection" key change triggers a refresh; unrelated
// keys (profiles, sites, events) are skipped so polling stays cheap. If a
// Redis subscriber is configured, it runs alongside polling in its own
// goroutine for a faster wake on "protection" publishes.
func (c *StateCache) Run(ctx context.Context) {
	if c.subscriber != nil {
		go func() {
			defer c.subscriber.Close()
			c.subscriber.Listen(ctx, func(key string) {
				if key != "protection" {
					return
				}
				if err := c.refresh(); err != nil {
					slog.Error("state cache: redis-triggered refresh failed", "error", err)
				}
			})
		}()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := c.st.ChangesSince(c.lastSeq)
			if err != nil {
				slog.Error("state cache: poll failed", "error", err)
				continue
			}
			if len(changed) == 0 {
				continue
			}
			c.lastSeq = changed[len(changed)-1].Seq
			for _, ch := range changed {
				if ch.Key == "protection" {
					if err := c.refresh(); err != nil {
						slog.Error("state cache: refresh failed", "error", err)
					}
					break
				}
			}
		}
	}
}

func (c *StateCache) refresh() error {
	status, err := c.st.GetProtectionStatus()
	if err != nil {
		return err
	}
	c.enabled.Store(status.State == "Active")
	return nil
}
