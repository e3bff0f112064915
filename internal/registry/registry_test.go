package registry

import "testing"

func TestExactMatch(t *testing.T) {
	r, err := New([]Entry{
		{Pattern: "chat.openai.com", ServiceName: "ChatGPT", Enabled: true, Source: SourceBundled},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e, ok := r.Lookup("chat.openai.com")
	if !ok || e.ServiceName != "ChatGPT" {
		t.Fatalf("expected exact match, got %+v ok=%v", e, ok)
	}
}

func TestWildcardMatchDoesNotMatchBareDomain(t *testing.T) {
	r, err := New([]Entry{
		{Pattern: "*.openai.com", ServiceName: "OpenAI API", Enabled: true, Source: SourceBundled},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := r.Lookup("api.openai.com"); !ok {
		t.Fatal("expected api.openai.com to match *.openai.com")
	}
	if _, ok := r.Lookup("openai.com"); ok {
		t.Fatal("*.openai.com must not match the bare domain")
	}
}

func TestUnmatchedHostReturnsNotOK(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := r.Lookup("example.com"); ok {
		t.Fatal("expected unmatched host to report ok=false")
	}
}

func TestDisabledEntryIsShadowedNotDeleted(t *testing.T) {
	r, err := New([]Entry{
		{Pattern: "claude.ai", ServiceName: "Claude", Enabled: false, Source: SourceBundled},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := r.Lookup("claude.ai"); ok {
		t.Fatal("disabled entry must not be reported as a match")
	}
}

func TestCustomOverridesBundled(t *testing.T) {
	r, err := New([]Entry{
		{Pattern: "claude.ai", ServiceName: "Claude (bundled)", Enabled: true, Source: SourceBundled},
		{Pattern: "claude.ai", ServiceName: "Claude (custom)", Enabled: true, Source: SourceCustom},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, ok := r.Lookup("claude.ai")
	if !ok || e.ServiceName != "Claude (custom)" {
		t.Fatalf("expected custom entry to win, got %+v", e)
	}
}

func TestReloadInvalidatesCache(t *testing.T) {
	r, err := New([]Entry{
		{Pattern: "claude.ai", ServiceName: "v1", Enabled: true, Source: SourceBundled},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e, _ := r.Lookup("claude.ai"); e.ServiceName != "v1" {
		t.Fatalf("expected v1, got %+v", e)
	}

	r.Reload([]Entry{
		{Pattern: "claude.ai", ServiceName: "v2", Enabled: true, Source: SourceBundled},
	})

	if e, _ := r.Lookup("claude.ai"); e.ServiceName != "v2" {
		t.Fatalf("expected v2 after reload, got %+v", e)
	}
}
