// Package profile resolves the current OS user to an Aegis profile and
// watches for session changes that require a reload.
package profile

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"aegis/internal/rules"
)

// ProfileLookup abstracts the persisted profile source (the State Store).
type ProfileLookup interface {
	// ProfilesEnabled returns every enabled profile. The order is the
	// source's own; the Manager takes the first OSUsername match in it.
	ProfilesEnabled() ([]rules.Profile, error)
}

// SessionChangeWatcher notifies on platform session-change events (user
// switch, lock/unlock). Platform-specific bindings (WTS on Windows,
// NSWorkspace on macOS, logind on Linux) implement this; Aegis's core
// ships only a polling-based default since the OS integration itself is
// out of this core's scope.
type SessionChangeWatcher interface {
	// Changes returns a channel that receives a value on every detected
	// session change. The channel is closed when ctx is done.
	Changes(ctx context.Context) <-chan struct{}
}

const debounceInterval = 500 * time.Millisecond

// Manager holds the currently active profile and refreshes it on startup
// and, while Run is active, whenever the session-change watcher fires. It
// does not watch the State Store's change sequence: a "profiles" or
// "sessions" bump alone does not reload the current profile.
type Manager struct {
	mu      sync.RWMutex
	current rules.Profile

	lookup  ProfileLookup
	watcher SessionChangeWatcher

	onChange func(rules.Profile)
}

// New resolves the initial profile for the current OS user and returns a
// Manager ready to Run.
func New(lookup ProfileLookup, watcher SessionChangeWatcher) (*Manager, error) {
	m := &Manager{lookup: lookup, watcher: watcher}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// OSUsername returns the current OS user from USER (POSIX) or USERNAME
// (Windows), per the spec's environment-variable contract.
func OSUsername() string {
	if runtime.GOOS == "windows" {
		if u := os.Getenv("USERNAME"); u != "" {
			return u
		}
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

// UnrestrictedProfile synthesizes the ephemeral fallback profile used when
// no profile matches the current OS user.
func UnrestrictedProfile(osUsername string) rules.Profile {
	return rules.Profile{
		ID:         "unrestricted",
		Name:       "Unrestricted (no matching profile)",
		OSUsername: osUsername,
		Enabled:    true,
	}
}

func (m *Manager) reload() error {
	username := OSUsername()

	profiles, err := m.lookup.ProfilesEnabled()
	if err != nil {
		return err
	}

	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		if strings.EqualFold(p.OSUsername, username) {
			m.set(p)
			return nil
		}
	}

	slog.Warn("profile: no enabled profile matches current OS user, using unrestricted fallback", "user", username)
	m.set(UnrestrictedProfile(username))
	return nil
}

func (m *Manager) set(p rules.Profile) {
	m.mu.Lock()
	m.current = p
	cb := m.onChange
	m.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

// Lookup resolves the profile for an arbitrary OS username without
// disturbing the Manager's current profile, for API callers (e.g. the
// Decision API's /api/check) that test a verdict on behalf of a specific
// user rather than the process's own OS session.
func (m *Manager) Lookup(osUsername string) rules.Profile {
	profiles, err := m.lookup.ProfilesEnabled()
	if err != nil {
		slog.Error("profile: lookup failed, using unrestricted fallback", "user", osUsername, "error", err)
		return UnrestrictedProfile(osUsername)
	}
	for _, p := range profiles {
		if p.Enabled && strings.EqualFold(p.OSUsername, osUsername) {
			return p
		}
	}
	return UnrestrictedProfile(osUsername)
}

// Current returns the active profile.
func (m *Manager) Current() rules.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a callback invoked whenever the active profile is
// replaced, e.g. so the MITM proxy's StateCache can be informed.
func (m *Manager) OnChange(cb func(rules.Profile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = cb
}

// Run subscribes to the session-change watcher (if any) and debounces
// bursts of change signals before reloading the current profile. It
// blocks until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.watcher == nil {
		<-ctx.Done()
		return
	}

	changes := m.watcher.Changes(ctx)
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				if err := m.reload(); err != nil {
					slog.Error("profile: reload after session change failed", "error", err)
				}
			})
		}
	}
}

// PollingWatcher is the default SessionChangeWatcher: it polls
// OSUsername() at interval and reports a change whenever it differs from
// the last observed value. Real platform bindings (WTS/NSWorkspace/logind)
// can replace this without touching Manager.
type PollingWatcher struct {
	Interval time.Duration
}

func (w PollingWatcher) Changes(ctx context.Context) <-chan struct{} {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	out := make(chan struct{})

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := OSUsername()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cur := OSUsername(); cur != last {
					last = cur
					select {
					case out <- struct{}{}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out
}
