package interceptor

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewLoadsEmbeddedScript(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if len(h.Script()) == 0 {
		t.Fatal("expected non-empty embedded script")
	}
	if !strings.Contains(string(h.Script()), "aegis-intercept-request") {
		t.Fatal("expected script to dispatch the aegis-intercept-request bridge event")
	}
}

func TestServeHTTPSetsJavaScriptContentType(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/interceptor.js", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "javascript") {
		t.Fatalf("expected javascript content type, got %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty response body")
	}
}
