// Package extract isolates the current user prompt from the heterogeneous
// request/response payloads sent to LLM chat services.
package extract

import (
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Prompt is a single extracted candidate prompt string.
type Prompt struct {
	Text      string
	IsCurrent bool
	Confidence float64
}

// Request carries the inputs a Parser needs to do its work.
type Request struct {
	Body        []byte
	ContentType string
	Host        string
	Method      string
	ParserHint  string
	Truncated   bool
}

// Parser is implemented once per supported wire format.
type Parser interface {
	// ID is the parser_id used by the Site Registry and parser hints.
	ID() string
	// Priority orders parsers when more than one claims CanParse.
	Priority() int
	// CanParse reports whether this parser applies to req.
	CanParse(req Request) bool
	// Parse extracts candidate prompts from req.
	Parse(req Request) []Prompt
}

// Registry holds parsers sorted by descending priority.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds a Registry containing every built-in parser plus any
// extras supplied by the caller, sorted by descending priority.
func NewRegistry(extra ...Parser) *Registry {
	parsers := []Parser{
		openAIParser{},
		anthropicParser{},
		geminiParser{},
		copilotParser{},
		perplexityParser{},
		poeParser{},
		formParser{},
		streamParser{},
	}
	parsers = append(parsers, extra...)
	// unknownParser is a deliberate catch-all; it must sort last.
	parsers = append(parsers, unknownParser{})

	sort.SliceStable(parsers, func(i, j int) bool {
		return parsers[i].Priority() > parsers[j].Priority()
	})

	return &Registry{parsers: parsers}
}

// Extract runs req through the registry, selecting by (content_type, host,
// parser_id_hint) and descending priority, and returns whatever the first
// matching parser produces. Parse errors never abort the request path: a
// parser that finds nothing simply returns no prompts.
func (r *Registry) Extract(req Request) []Prompt {
	if req.ParserHint != "" {
		for _, p := range r.parsers {
			if p.ID() == req.ParserHint && p.CanParse(req) {
				return p.Parse(req)
			}
		}
	}

	for _, p := range r.parsers {
		if p.CanParse(req) {
			if prompts := p.Parse(req); len(prompts) > 0 {
				return prompts
			}
		}
	}
	return nil
}

func isJSON(ct string) bool {
	mediaType, _, _ := mime.ParseMediaType(ct)
	return mediaType == "application/json" || mediaType == "text/json"
}

// --- OpenAI-family JSON -----------------------------------------------

type openAIParser struct{}

func (openAIParser) ID() string       { return "openai" }
func (openAIParser) Priority() int    { return 100 }
func (openAIParser) CanParse(r Request) bool {
	return isJSON(r.ContentType) && strings.Contains(string(r.Body), `"messages"`)
}

func (openAIParser) Parse(r Request) []Prompt {
	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"messages"`
	}
	if !decodeJSON(r.Body, &payload) || len(payload.Messages) == 0 {
		return nil
	}

	last := payload.Messages[len(payload.Messages)-1]
	text := contentToText(last.Content)
	if text == "" {
		return nil
	}
	return []Prompt{{Text: text, IsCurrent: true, Confidence: 0.95}}
}

// contentToText handles the OpenAI "content" field shape: a plain string,
// or {parts: [string, ...]} joined by newline.
func contentToText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		parts, ok := v["parts"].([]any)
		if !ok {
			return ""
		}
		var segs []string
		for _, p := range parts {
			if s, ok := p.(string); ok {
				segs = append(segs, s)
			}
		}
		return strings.Join(segs, "\n")
	case []any:
		// Multimodal content blocks: join any text-typed blocks.
		var segs []string
		for _, item := range v {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				segs = append(segs, text)
			}
		}
		return strings.Join(segs, "\n")
	default:
		return ""
	}
}

// --- Anthropic JSON -----------------------------------------------------

type anthropicParser struct{}

func (anthropicParser) ID() string    { return "anthropic" }
func (anthropicParser) Priority() int { return 95 }
func (anthropicParser) CanParse(r Request) bool {
	return isJSON(r.ContentType) &&
		(strings.Contains(string(r.Body), `"prompt"`) ||
			strings.Contains(string(r.Body), `"messages"`))
}

func (anthropicParser) Parse(r Request) []Prompt {
	var payload struct {
		Prompt   string `json:"prompt"`
		Message  string `json:"message"`
		Messages []struct {
			Content any `json:"content"`
		} `json:"messages"`
	}
	if !decodeJSON(r.Body, &payload) {
		return nil
	}

	if payload.Prompt != "" {
		return []Prompt{{Text: payload.Prompt, IsCurrent: true, Confidence: 0.9}}
	}
	if payload.Message != "" {
		return []Prompt{{Text: payload.Message, IsCurrent: true, Confidence: 0.9}}
	}
	if n := len(payload.Messages); n > 0 {
		text := contentToText(payload.Messages[n-1].Content)
		if text != "" {
			return []Prompt{{Text: text, IsCurrent: true, Confidence: 0.9}}
		}
	}
	return nil
}

// --- Gemini streaming JSON -----------------------------------------------

type geminiParser struct{}

func (geminiParser) ID() string    { return "gemini" }
func (geminiParser) Priority() int { return 70 }
func (geminiParser) CanParse(r Request) bool {
	return isJSON(r.ContentType) && strings.Contains(r.Host, "google")
}

func (geminiParser) Parse(r Request) []Prompt {
	var any_ any
	if !decodeJSON(r.Body, &any_) {
		return nil
	}
	best := ""
	walkStrings(any_, func(s string) {
		if len(s) >= 10 && len(s) < 10000 && len(s) > len(best) {
			best = s
		}
	})
	if best == "" {
		return nil
	}
	return []Prompt{{Text: best, IsCurrent: true, Confidence: 0.6}}
}

func walkStrings(v any, visit func(string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case []any:
		for _, item := range t {
			walkStrings(item, visit)
		}
	case map[string]any:
		for _, item := range t {
			walkStrings(item, visit)
		}
	}
}

// --- Copilot SignalR ------------------------------------------------------

type copilotParser struct{}

func (copilotParser) ID() string    { return "copilot" }
func (copilotParser) Priority() int { return 80 }
func (copilotParser) CanParse(r Request) bool {
	return strings.Contains(r.Host, "copilot") || strings.Contains(r.Host, "bing.com")
}

func (copilotParser) Parse(r Request) []Prompt {
	var payload struct {
		Arguments []struct {
			Messages []struct {
				Text    string `json:"text"`
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"arguments"`
	}
	if !decodeJSON(r.Body, &payload) || len(payload.Arguments) == 0 {
		return nil
	}
	msgs := payload.Arguments[0].Messages
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	text := last.Text
	if text == "" {
		text = last.Content
	}
	if text == "" {
		return nil
	}
	return []Prompt{{Text: text, IsCurrent: true, Confidence: 0.85}}
}

// --- Perplexity socket.io --------------------------------------------------

type perplexityParser struct{}

func (perplexityParser) ID() string    { return "perplexity" }
func (perplexityParser) Priority() int { return 80 }
func (perplexityParser) CanParse(r Request) bool {
	return strings.Contains(r.Host, "perplexity")
}

func (perplexityParser) Parse(r Request) []Prompt {
	var frame []any
	if !decodeJSON(r.Body, &frame) || len(frame) < 2 {
		return nil
	}
	payload, ok := frame[1].(map[string]any)
	if !ok {
		return nil
	}
	if q, ok := payload["query"].(string); ok && q != "" {
		return []Prompt{{Text: q, IsCurrent: true, Confidence: 0.85}}
	}
	if c, ok := payload["content"].(string); ok && c != "" {
		return []Prompt{{Text: c, IsCurrent: true, Confidence: 0.85}}
	}
	return nil
}

// --- Poe GraphQL ------------------------------------------------------------

type poeParser struct{}

func (poeParser) ID() string    { return "poe" }
func (poeParser) Priority() int { return 80 }
func (poeParser) CanParse(r Request) bool {
	return strings.Contains(r.Host, "poe.com")
}

func (poeParser) Parse(r Request) []Prompt {
	var payload struct {
		Variables struct {
			Message string `json:"message"`
			Query   string `json:"query"`
			Input   struct {
				Message string `json:"message"`
			} `json:"input"`
		} `json:"variables"`
	}
	if !decodeJSON(r.Body, &payload) {
		return nil
	}
	switch {
	case payload.Variables.Message != "":
		return []Prompt{{Text: payload.Variables.Message, IsCurrent: true, Confidence: 0.85}}
	case payload.Variables.Query != "":
		return []Prompt{{Text: payload.Variables.Query, IsCurrent: true, Confidence: 0.85}}
	case payload.Variables.Input.Message != "":
		return []Prompt{{Text: payload.Variables.Input.Message, IsCurrent: true, Confidence: 0.85}}
	default:
		return nil
	}
}

// --- Form / multipart --------------------------------------------------------

var promptFieldNames = regexp.MustCompile(`(?i)^(prompt|message|content|text|query|input)$`)

type formParser struct{}

func (formParser) ID() string    { return "form" }
func (formParser) Priority() int { return 60 }
func (formParser) CanParse(r Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.ContentType)
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}

func (formParser) Parse(r Request) []Prompt {
	mediaType, params, _ := mime.ParseMediaType(r.ContentType)
	if mediaType == "multipart/form-data" {
		return parseMultipart(r.Body, params["boundary"])
	}

	values, err := url.ParseQuery(string(r.Body))
	if err != nil {
		return nil
	}
	var out []Prompt
	for name, vals := range values {
		if !promptFieldNames.MatchString(name) {
			continue
		}
		for _, v := range vals {
			if v != "" {
				out = append(out, Prompt{Text: v, IsCurrent: true, Confidence: 0.7})
			}
		}
	}
	return out
}

func parseMultipart(body []byte, boundary string) []Prompt {
	if boundary == "" {
		return nil
	}
	reader := multipart.NewReader(strings.NewReader(string(body)), boundary)
	var out []Prompt
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		name := part.FormName()
		if !promptFieldNames.MatchString(name) {
			continue
		}
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, rerr := part.Read(chunk)
			buf = append(buf, chunk[:n]...)
			if rerr != nil {
				break
			}
		}
		if len(buf) > 0 {
			out = append(out, Prompt{Text: string(buf), IsCurrent: true, Confidence: 0.7})
		}
	}
	return out
}

// --- SSE / NDJSON / chunked ----------------------------------------------

type streamParser struct{}

func (streamParser) ID() string    { return "stream" }
func (streamParser) Priority() int { return 50 }
func (streamParser) CanParse(r Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.ContentType)
	return mediaType == "text/event-stream" || mediaType == "application/x-ndjson"
}

func (streamParser) Parse(r Request) []Prompt {
	mediaType, _, _ := mime.ParseMediaType(r.ContentType)
	var lines []string
	for _, raw := range strings.Split(string(r.Body), "\n") {
		line := strings.TrimSpace(raw)
		if mediaType == "text/event-stream" {
			line = strings.TrimPrefix(line, "data:")
			line = strings.TrimSpace(line)
		}
		if line != "" && line != "[DONE]" {
			lines = append(lines, line)
		}
	}

	var out []Prompt
	for _, line := range lines {
		var payload struct {
			Content string `json:"content"`
			Text    string `json:"text"`
		}
		if decodeJSON([]byte(line), &payload) {
			if payload.Content != "" {
				out = append(out, Prompt{Text: payload.Content, IsCurrent: true, Confidence: 0.5})
			} else if payload.Text != "" {
				out = append(out, Prompt{Text: payload.Text, IsCurrent: true, Confidence: 0.5})
			}
		}
	}
	return out
}

// --- Unknown fallback -------------------------------------------------------

type unknownParser struct{}

func (unknownParser) ID() string       { return "unknown" }
func (unknownParser) Priority() int    { return 0 }
func (unknownParser) CanParse(Request) bool { return true }

// stringLiteral matches quoted literals of at least 10 characters; Go's
// regexp caps repeat counts at 1000, so the 10 000 upper bound is applied
// in Parse instead.
var stringLiteral = regexp.MustCompile(`"((?:[^"\\]|\\.){10,})"`)

func (unknownParser) Parse(r Request) []Prompt {
	matches := stringLiteral.FindAllStringSubmatch(string(r.Body), -1)
	out := make([]Prompt, 0, len(matches))
	for _, m := range matches {
		if len(m[1]) > 10000 {
			continue
		}
		out = append(out, Prompt{Text: m[1], IsCurrent: false, Confidence: 0.3})
	}
	return out
}

// decodeJSON is a tiny wrapper kept so parsers read uniformly; failures are
// swallowed because a parser finding nothing is not an error on the request
// path.
func decodeJSON(body []byte, v any) bool {
	return json.Unmarshal(body, v) == nil
}
