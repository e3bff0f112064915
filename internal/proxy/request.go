package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/classify"
	"aegis/internal/extract"
	"aegis/internal/metrics"
	"aegis/internal/registry"
	"aegis/internal/rules"
	"aegis/internal/store"
)

// handleRequest runs one decrypted HTTP request through the
// extract -> classify -> evaluate pipeline and either forwards it
// upstream or answers inline with a block response, per spec.md §4.8's
// request-path algorithm. Returning a non-nil error means the tunnel
// should close (client disconnected or wrote an unparsable request).
func (p *Proxy) handleRequest(w io.Writer, req *http.Request, host string, entry registry.Entry, connID string) error {
	start := time.Now()
	var span trace.Span
	if p.tracer != nil {
		var ctx context.Context
		ctx, span = p.tracer.StartRequestSpan(req.Context(), connID, host)
		req = req.WithContext(ctx)
	}

	body, truncated, err := p.readBody(req)
	if err != nil {
		return err
	}

	verdict := rules.Verdict{Action: rules.ActionAllow, Reason: "allowed", Source: rules.Source{Kind: rules.SourceNone}}

	if p.state.IsFilteringEnabled() {
		verdict = p.evaluateRequest(body, req.Header.Get("Content-Type"), host, entry, truncated)
	}

	if span != nil {
		p.tracer.EndRequestSpan(span, p.profiles.Current().ID, string(verdict.Action), time.Since(start).Milliseconds(), nil)
	}

	p.guardrail.Record(connID, verdict.Action)

	if verdict.Action == rules.ActionBlock {
		p.writeBlockResponse(w, req, entry, verdict)
		return nil
	}

	return p.forward(w, req, body, host)
}

// readBody buffers the request body up to PayloadMaxBytes, restoring it
// onto req.Body so the forward path can still send it upstream
// unmodified. A read that exceeds BodyReadTimeout is treated as Allow
// (log-only), per spec.md §5's cancellation rules.
func (p *Proxy) readBody(req *http.Request) (body []byte, truncated bool, err error) {
	if req.Body == nil {
		return nil, false, nil
	}
	defer req.Body.Close()

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		limited := io.LimitReader(req.Body, int64(p.cfg.PayloadMaxBytes)+1)
		b, err := io.ReadAll(limited)
		done <- result{b, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, false, r.err
		}
		body = r.body
		if len(body) > p.cfg.PayloadMaxBytes {
			body = body[:p.cfg.PayloadMaxBytes]
			truncated = true
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		return body, truncated, nil
	case <-time.After(p.cfg.BodyReadTimeout):
		slog.Warn("proxy: request body read timed out, allowing request", "path", req.URL.Path)
		req.Body = http.NoBody
		return nil, false, nil
	}
}

// evaluateRequest extracts prompts from body and runs the current-turn
// prompt through the classifier and rule engine, returning the strongest
// verdict across every current prompt found (a request rarely carries
// more than one, but the extractor's contract allows it).
func (p *Proxy) evaluateRequest(body []byte, contentType, host string, entry registry.Entry, truncated bool) rules.Verdict {
	prompts := p.extractor.Extract(extract.Request{
		Body:        body,
		ContentType: contentType,
		Host:        host,
		Method:      "POST",
		ParserHint:  entry.ParserID,
		Truncated:   truncated,
	})

	strongest := rules.Verdict{Action: rules.ActionAllow, Reason: "allowed", Source: rules.Source{Kind: rules.SourceNone}}
	profile := p.profiles.Current()

	for _, prompt := range prompts {
		if !prompt.IsCurrent {
			continue
		}

		classification := p.classifier.Classify(prompt.Text)
		metrics.ObserveTierLatency(string(classification.TerminalTier), float64(classification.LatencyUS)/1e6)
		v := rules.Evaluate(classification, time.Now(), profile, rules.ProtectionState{Active: true})
		metrics.RecordVerdict(string(v.Action), string(v.Source.Category))

		p.recordEvent(profile.ID, entry.ServiceName, prompt.Text, classification, v)
		p.recordFlags(profile.ID, entry.ServiceName, prompt.Text, classification)

		if rules.StrongestAction(strongest.Action, v.Action) != strongest.Action {
			strongest = v
		}
		if strongest.Action == rules.ActionBlock {
			break
		}
	}

	return strongest
}

func (p *Proxy) recordEvent(profileID, source, promptText string, c classify.Classification, v rules.Verdict) {
	if p.db == nil {
		return
	}
	if p.cfg.CaptureMode == "flagged_only" && v.Action == rules.ActionAllow && len(c.Flags) == 0 {
		return
	}
	categories := make([]classify.Category, 0, len(c.Categories))
	for _, m := range c.Categories {
		categories = append(categories, m.Category)
	}
	err := p.db.AppendEvent(store.EventRecord{
		ID:            newEventID(),
		TS:            time.Now().UTC(),
		ProfileID:     profileID,
		Source:        source,
		Action:        v.Action,
		Categories:    categories,
		PromptHash:    hashPrompt(promptText),
		PromptPreview: redactPreview(promptText),
	})
	if err != nil {
		slog.Error("proxy: failed to record event", "error", err)
	}
}

func (p *Proxy) recordFlags(profileID, source, promptText string, c classify.Classification) {
	if p.db == nil || len(c.Flags) == 0 {
		return
	}
	flags := make([]classify.Flag, 0, len(c.Flags))
	for _, f := range c.Flags {
		flags = append(flags, f.Flag)
	}
	err := p.db.AppendFlaggedEvent(store.FlaggedEventRecord{
		ID:            newEventID(),
		TS:            time.Now().UTC(),
		ProfileID:     profileID,
		Source:        source,
		Flags:         flags,
		PromptHash:    hashPrompt(promptText),
		PromptPreview: redactPreview(promptText),
	})
	if err != nil {
		slog.Error("proxy: failed to record flagged event", "error", err)
	}
}

func newEventID() string {
	return uuid.New().String()
}

// writeBlockResponse answers a blocked request inline with a
// content-type-appropriate 403, per spec.md §4.8 and §6's wire formats.
func (p *Proxy) writeBlockResponse(w io.Writer, req *http.Request, entry registry.Entry, v rules.Verdict) {
	accept := req.Header.Get("Accept")
	secFetchMode := req.Header.Get("Sec-Fetch-Mode")

	var body []byte
	var contentType string
	if isBrowserNavigation(accept, secFetchMode) {
		body = renderBlockPage(entry.ServiceName, v.Reason)
		contentType = "text/html; charset=utf-8"
	} else {
		body = blockJSON()
		contentType = "application/json"
	}

	resp := &http.Response{
		StatusCode: http.StatusForbidden,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type":   []string{contentType},
			"Content-Length": []string{fmt.Sprintf("%d", len(body))},
			"X-Aegis-Blocked": []string{"true"},
		},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	resp.Write(w)

	slog.Warn("proxy: request blocked", "service", entry.ServiceName, "reason", v.Reason, "source", v.Source.Kind)
}
