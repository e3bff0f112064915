package proxy

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
)

const blockJSONBody = `{"error":"Request blocked by Aegis safety filter"}`

const streamBlockSentinel = "data: {\"error\":\"Response blocked by Aegis safety filter\"}\n\n"

var blockPageTemplate = template.Must(template.New("block").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Blocked by Aegis</title>
<style>
body { font-family: -apple-system, system-ui, sans-serif; background: #1b1f27; color: #e7e9ee; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; }
.card { max-width: 28rem; padding: 2rem; border-radius: 0.75rem; background: #242a36; box-shadow: 0 10px 30px rgba(0,0,0,0.4); }
h1 { font-size: 1.25rem; margin-top: 0; }
.meta { color: #9aa3b2; font-size: 0.9rem; }
a { color: #7aa2ff; }
</style>
</head>
<body>
<div class="card">
<h1>This request was blocked</h1>
<p>Aegis blocked a request to <strong>{{.Service}}</strong> because it matched the <strong>{{.Category}}</strong> safety category.</p>
<p class="meta">If you believe this is a mistake, ask whoever manages this device's protection settings to review the flagged request.</p>
<p><a href="{{.BackLink}}">Go back</a></p>
</div>
</body>
</html>
`))

// blockPageData feeds the HTML block page template.
type blockPageData struct {
	Service  string
	Category string
	BackLink string
}

// renderBlockPage renders the HTML block page for browser navigations,
// per spec.md's "an HTML block page for browser navigations" contract.
func renderBlockPage(serviceName, category string) []byte {
	var buf strings.Builder
	data := blockPageData{Service: serviceName, Category: category, BackLink: "javascript:history.back()"}
	if err := blockPageTemplate.Execute(&buf, data); err != nil {
		// Template execution over a fixed, valid template with plain string
		// fields cannot fail in practice; fall back to a minimal body rather
		// than panicking on the request path.
		return []byte(fmt.Sprintf("<html><body>Blocked by Aegis (%s)</body></html>", category))
	}
	return []byte(buf.String())
}

// isBrowserNavigation distinguishes a top-level page load from an API/XHR
// call using the same signal browsers send on navigation requests.
func isBrowserNavigation(accept, secFetchMode string) bool {
	if secFetchMode == "navigate" {
		return true
	}
	return strings.Contains(accept, "text/html")
}

// blockJSON renders the stable /api/check-style block body used for API
// calls blocked on the proxy path.
func blockJSON() []byte {
	return []byte(blockJSONBody)
}

// checkResponseJSON renders the wire format documented in spec.md §6 for
// callers that want full verdict detail. Nothing calls it: the proxy's
// inline 403 stays terse per the block-page contract, and the Decision
// API renders its own /api/check response.
func checkResponseJSON(action, reason string, categories []categoryJSON, latencyMS int64) ([]byte, error) {
	return json.Marshal(struct {
		Action     string         `json:"action"`
		Reason     string         `json:"reason"`
		Categories []categoryJSON `json:"categories"`
		LatencyMS  int64          `json:"latency_ms"`
	}{action, reason, categories, latencyMS})
}

type categoryJSON struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Tier       string  `json:"tier"`
}
