package extract

import "testing"

func TestOpenAIExtractsLastMessage(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"messages":[{"role":"user","content":"hello"},{"role":"user","content":"tell me a joke"}]}`)
	prompts := r.Extract(Request{Body: body, ContentType: "application/json", Host: "api.openai.com"})
	if len(prompts) != 1 || prompts[0].Text != "tell me a joke" {
		t.Fatalf("unexpected prompts: %+v", prompts)
	}
	if !prompts[0].IsCurrent {
		t.Fatal("expected IsCurrent=true")
	}
}

func TestOpenAIContentParts(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"messages":[{"role":"user","content":{"parts":["line one","line two"]}}]}`)
	prompts := r.Extract(Request{Body: body, ContentType: "application/json", Host: "chatgpt.com"})
	if len(prompts) != 1 || prompts[0].Text != "line one\nline two" {
		t.Fatalf("unexpected prompts: %+v", prompts)
	}
}

func TestAnthropicPromptField(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"prompt":"what is the capital of France?"}`)
	prompts := r.Extract(Request{Body: body, ContentType: "application/json", Host: "api.anthropic.com"})
	if len(prompts) != 1 || prompts[0].Text != "what is the capital of France?" {
		t.Fatalf("unexpected prompts: %+v", prompts)
	}
}

func TestFormFieldMatching(t *testing.T) {
	r := NewRegistry()
	body := []byte(`prompt=hello+world&unrelated=ignored`)
	prompts := r.Extract(Request{Body: body, ContentType: "application/x-www-form-urlencoded", Host: "example.com"})
	if len(prompts) != 1 || prompts[0].Text != "hello world" {
		t.Fatalf("unexpected prompts: %+v", prompts)
	}
}

func TestUnknownFallbackConfidence(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"weird_field_name_for_a_prompt": "this is a long enough literal to qualify"}`)
	prompts := r.Extract(Request{Body: body, ContentType: "application/octet-stream", Host: "example.com"})
	if len(prompts) == 0 {
		t.Fatal("expected fallback extraction")
	}
	for _, p := range prompts {
		if p.Confidence != 0.3 {
			t.Fatalf("expected fallback confidence 0.3, got %v", p.Confidence)
		}
	}
}

func TestEmptyBodyReturnsNoPrompts(t *testing.T) {
	r := NewRegistry()
	prompts := r.Extract(Request{Body: nil, ContentType: "application/json", Host: "api.openai.com"})
	if len(prompts) != 0 {
		t.Fatalf("expected no prompts for empty body, got %+v", prompts)
	}
}

func TestParserHintSelectsExplicitParser(t *testing.T) {
	r := NewRegistry()
	body := []byte(`{"prompt":"direct anthropic prompt"}`)
	prompts := r.Extract(Request{Body: body, ContentType: "application/json", Host: "unusual-proxy.internal", ParserHint: "anthropic"})
	if len(prompts) != 1 || prompts[0].Text != "direct anthropic prompt" {
		t.Fatalf("unexpected prompts: %+v", prompts)
	}
}
