package profile

import (
	"context"
	"os"
	"testing"
	"time"

	"aegis/internal/rules"
)

type stubLookup struct {
	profiles []rules.Profile
}

func (s stubLookup) ProfilesEnabled() ([]rules.Profile, error) {
	return s.profiles, nil
}

func TestNewMatchesCurrentOSUser(t *testing.T) {
	t.Setenv("USER", "alice")
	lookup := stubLookup{profiles: []rules.Profile{
		{ID: "p1", OSUsername: "Alice", Enabled: true},
	}}

	m, err := New(lookup, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Current().ID != "p1" {
		t.Fatalf("expected case-insensitive username match, got %+v", m.Current())
	}
}

func TestNewFallsBackToUnrestrictedOnMiss(t *testing.T) {
	t.Setenv("USER", "bob")
	lookup := stubLookup{profiles: []rules.Profile{
		{ID: "p1", OSUsername: "alice", Enabled: true},
	}}

	m, err := New(lookup, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Current().ID != "unrestricted" {
		t.Fatalf("expected unrestricted fallback, got %+v", m.Current())
	}
}

func TestDisabledProfileIsSkipped(t *testing.T) {
	t.Setenv("USER", "alice")
	lookup := stubLookup{profiles: []rules.Profile{
		{ID: "disabled-one", OSUsername: "alice", Enabled: false},
		{ID: "enabled-one", OSUsername: "alice", Enabled: true},
	}}

	m, err := New(lookup, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Current().ID != "enabled-one" {
		t.Fatalf("expected disabled profile to be skipped, got %+v", m.Current())
	}
}

func TestOnChangeFiresOnReload(t *testing.T) {
	t.Setenv("USER", "alice")
	lookup := stubLookup{profiles: []rules.Profile{{ID: "p1", OSUsername: "alice", Enabled: true}}}

	m, err := New(lookup, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fired := make(chan rules.Profile, 1)
	m.OnChange(func(p rules.Profile) { fired <- p })

	if err := m.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	select {
	case p := <-fired:
		if p.ID != "p1" {
			t.Fatalf("unexpected profile in callback: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected OnChange callback to fire")
	}
}

func TestRunWithoutWatcherBlocksUntilCancelled(t *testing.T) {
	t.Setenv("USER", "alice")
	lookup := stubLookup{profiles: []rules.Profile{{ID: "p1", OSUsername: "alice", Enabled: true}}}
	m, err := New(lookup, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
}

func TestOSUsernamePrefersUserOnNonWindows(t *testing.T) {
	old := os.Getenv("USER")
	defer os.Setenv("USER", old)
	t.Setenv("USER", "carol")
	if got := OSUsername(); got != "carol" {
		t.Fatalf("expected carol, got %q", got)
	}
}
