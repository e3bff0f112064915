package store

import (
	"path/filepath"
	"testing"
	"time"

	"aegis/internal/classify"
	"aegis/internal/registry"
	"aegis/internal/rules"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "aegis.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDefaultProtectionStatusIsActive(t *testing.T) {
	s := openTestStore(t)
	status, err := s.GetProtectionStatus()
	if err != nil {
		t.Fatalf("GetProtectionStatus: %v", err)
	}
	if status.State != "Active" {
		t.Fatalf("expected default Active, got %+v", status)
	}
}

func TestSetProtectionStatusBumpsSeq(t *testing.T) {
	s := openTestStore(t)
	before, err := s.LatestSeq()
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}

	if err := s.SetProtectionStatus(ProtectionStatus{State: "Paused"}); err != nil {
		t.Fatalf("SetProtectionStatus: %v", err)
	}

	after, err := s.LatestSeq()
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if after <= before {
		t.Fatalf("expected seq to advance, before=%d after=%d", before, after)
	}

	changes, err := s.ChangesSince(before)
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(changes) != 1 || changes[0].Key != appStateProtectionKey {
		t.Fatalf("expected one protection change, got %+v", changes)
	}
}

func TestExpiredPauseNormalizesToActiveOnRead(t *testing.T) {
	s := openTestStore(t)
	past := time.Now().Add(-time.Minute)
	if err := s.SetProtectionStatus(ProtectionStatus{State: "Paused", PauseUntil: &past}); err != nil {
		t.Fatalf("SetProtectionStatus: %v", err)
	}

	status, err := s.GetProtectionStatus()
	if err != nil {
		t.Fatalf("GetProtectionStatus: %v", err)
	}
	if status.State != "Active" {
		t.Fatalf("expected expired pause to normalize to Active, got %+v", status)
	}
}

func TestCreateAndValidateSession(t *testing.T) {
	s := openTestStore(t)
	token, err := NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	if _, err := s.CreateSession(token); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess, ok, err := s.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !ok || sess.Token != token {
		t.Fatalf("expected valid session, got ok=%v sess=%+v", ok, sess)
	}
}

func TestValidateSessionRejectsUnknownToken(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.ValidateSession("does-not-exist")
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if ok {
		t.Fatal("expected unknown token to be rejected")
	}
}

func TestDeleteSessionInvalidatesToken(t *testing.T) {
	s := openTestStore(t)
	token, _ := NewSessionToken()
	if _, err := s.CreateSession(token); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	_, ok, err := s.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if ok {
		t.Fatal("expected deleted session to be invalid")
	}
}

func TestSweepExpiredSessionsRemovesOnlyExpired(t *testing.T) {
	s := openTestStore(t)

	live, _ := NewSessionToken()
	if _, err := s.CreateSession(live); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	expired, _ := NewSessionToken()
	if _, err := s.CreateSession(expired); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if _, err := s.db.Exec(`UPDATE sessions SET expires = ? WHERE token = ?`, past, expired); err != nil {
		t.Fatalf("forcing expiry: %v", err)
	}

	n, err := s.SweepExpiredSessions()
	if err != nil {
		t.Fatalf("SweepExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}

	if _, ok, _ := s.ValidateSession(expired); ok {
		t.Fatal("expected expired session to be gone")
	}
	if _, ok, _ := s.ValidateSession(live); !ok {
		t.Fatal("expected live session to remain")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := VerifyPassword("correct-horse", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Fatal("expected matching password to verify")
	}
	ok, err = VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Fatal("expected mismatched password to fail verification")
	}
}

func TestHashPasswordRejectsShortPassword(t *testing.T) {
	if _, err := HashPassword("ab"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestStorePasswordHash(t *testing.T) {
	s := openTestStore(t)
	if existing, err := s.PasswordHash(); err != nil || existing != "" {
		t.Fatalf("expected no password set initially, got %q err=%v", existing, err)
	}

	hash, err := HashPassword("swordfish")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := s.SetPasswordHash(hash); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}

	got, err := s.PasswordHash()
	if err != nil {
		t.Fatalf("PasswordHash: %v", err)
	}
	if got != hash {
		t.Fatalf("expected stored hash to round-trip, got %q want %q", got, hash)
	}
}

func TestUpsertAndListProfiles(t *testing.T) {
	s := openTestStore(t)
	p := rules.Profile{
		ID:            "kid1",
		Name:          "Kid Profile",
		OSUsername:    "kiddo",
		NSFWThreshold: 0.5,
		Enabled:       true,
		TimeRules: []rules.TimeRule{
			{ID: "bedtime", Name: "bedtime", Days: []rules.Weekday{rules.Mon}, Start: rules.LocalTime{Hour: 21}, End: rules.LocalTime{Hour: 7}, Enabled: true},
		},
		ContentRules: []rules.ContentRule{
			{Category: classify.CategoryJailbreak, Action: rules.ActionBlock, Threshold: 0.8, Enabled: true},
		},
	}
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	profiles, err := s.ProfilesEnabled()
	if err != nil {
		t.Fatalf("ProfilesEnabled: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	got := profiles[0]
	if got.ID != p.ID || len(got.TimeRules) != 1 || len(got.ContentRules) != 1 {
		t.Fatalf("round-tripped profile mismatch: %+v", got)
	}
	if got.TimeRules[0].ID != "bedtime" || got.ContentRules[0].Category != classify.CategoryJailbreak {
		t.Fatalf("nested rule round-trip mismatch: %+v", got)
	}
}

func TestDisabledProfileExcludedFromProfilesEnabled(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertProfile(rules.Profile{ID: "off", Name: "off", OSUsername: "x", Enabled: false}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	profiles, err := s.ProfilesEnabled()
	if err != nil {
		t.Fatalf("ProfilesEnabled: %v", err)
	}
	if len(profiles) != 0 {
		t.Fatalf("expected disabled profile to be excluded, got %+v", profiles)
	}
}

func TestUpsertAndListSites(t *testing.T) {
	s := openTestStore(t)
	e := registry.Entry{
		Pattern: "*.example-llm.com", ServiceName: "ExampleLLM", Category: registry.CategoryConsumer,
		ParserID: "unknown", Priority: 0, Enabled: true, Source: registry.SourceCustom,
	}
	if err := s.UpsertSite(e); err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}
	sites, err := s.Sites()
	if err != nil {
		t.Fatalf("Sites: %v", err)
	}
	if len(sites) != 1 || sites[0].Pattern != e.Pattern || sites[0].Source != registry.SourceCustom {
		t.Fatalf("round-tripped site mismatch: %+v", sites)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	ev := EventRecord{
		ID: "ev1", TS: now, ProfileID: "p1", Source: "chatgpt.com",
		Action: rules.ActionBlock, Categories: []classify.Category{classify.CategoryJailbreak},
		PromptHash: "deadbeef", PromptPreview: "ignore all previous...",
	}
	if err := s.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	page, err := s.ListEvents(10, 0, "")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if page.TotalCount != 1 || len(page.Events) != 1 {
		t.Fatalf("expected 1 event, got %+v", page)
	}
	if page.Events[0].Action != rules.ActionBlock || len(page.Events[0].Categories) != 1 {
		t.Fatalf("round-tripped event mismatch: %+v", page.Events[0])
	}
}

func TestListEventsFiltersByAction(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	if err := s.AppendEvent(EventRecord{ID: "a", TS: now, ProfileID: "p1", Source: "x", Action: rules.ActionAllow, PromptHash: "h1"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent(EventRecord{ID: "b", TS: now, ProfileID: "p1", Source: "x", Action: rules.ActionBlock, PromptHash: "h2"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	page, err := s.ListEvents(10, 0, string(rules.ActionBlock))
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if page.TotalCount != 1 || page.Events[0].ID != "b" {
		t.Fatalf("expected only the Block event, got %+v", page)
	}
}

func TestFlaggedEventAcknowledgeFlow(t *testing.T) {
	s := openTestStore(t)
	fe := FlaggedEventRecord{
		ID: "f1", TS: time.Now().UTC(), ProfileID: "p1", Source: "chatgpt.com",
		Flags: []classify.Flag{classify.FlagDistress}, PromptHash: "abc123", PromptPreview: "i feel...",
	}
	if err := s.AppendFlaggedEvent(fe); err != nil {
		t.Fatalf("AppendFlaggedEvent: %v", err)
	}

	flagged, err := s.ListFlaggedEvents(10, 0)
	if err != nil {
		t.Fatalf("ListFlaggedEvents: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Acknowledged {
		t.Fatalf("expected 1 unacknowledged flagged event, got %+v", flagged)
	}

	if err := s.AcknowledgeFlaggedEvent("f1"); err != nil {
		t.Fatalf("AcknowledgeFlaggedEvent: %v", err)
	}
	flagged, err = s.ListFlaggedEvents(10, 0)
	if err != nil {
		t.Fatalf("ListFlaggedEvents: %v", err)
	}
	if !flagged[0].Acknowledged {
		t.Fatal("expected flagged event to be acknowledged")
	}
}

func TestAcknowledgeUnknownFlaggedEventErrors(t *testing.T) {
	s := openTestStore(t)
	if err := s.AcknowledgeFlaggedEvent("missing"); err == nil {
		t.Fatal("expected error acknowledging unknown flagged event")
	}
}

func TestStatsSinceAggregatesByAction(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	actions := []rules.Action{rules.ActionAllow, rules.ActionAllow, rules.ActionWarn, rules.ActionBlock}
	for i, a := range actions {
		ev := EventRecord{ID: string(rune('a' + i)), TS: now, ProfileID: "p1", Source: "x", Action: a, PromptHash: "h"}
		if err := s.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	stats, err := s.StatsSince(now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("StatsSince: %v", err)
	}
	if stats.Total != 4 || stats.Allowed != 2 || stats.Warned != 1 || stats.Blocked != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
