// Package registry resolves hostnames seen by the MITM proxy against the
// configured set of monitored LLM services.
package registry

import (
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const lookupCacheSize = 1000

// Source identifies where a SiteEntry originated from.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceCustom  Source = "custom"
	SourceRemote  Source = "remote"
)

// Category classifies the kind of LLM service a site represents.
type Category string

const (
	CategoryConsumer   Category = "consumer"
	CategoryAPI        Category = "api"
	CategoryEnterprise Category = "enterprise"
	CategoryImageGen   Category = "image_gen"
)

// Entry describes a single monitored site pattern.
type Entry struct {
	Pattern     string // exact host or "*.domain.tld"
	ServiceName string
	Category    Category
	ParserID    string
	Priority    int
	Enabled     bool
	Source      Source
}

func (e Entry) isWildcard() bool {
	return strings.HasPrefix(e.Pattern, "*.")
}

// Registry resolves host -> Entry with bundled/custom/remote precedence and
// an LRU lookup cache that Reload clears. The Registry does not watch the
// State Store's "sites" key itself.
type Registry struct {
	mu sync.RWMutex

	exact    map[string]Entry   // pattern (exact host) -> winning entry
	wildcard map[string]Entry   // domain suffix (without "*.") -> winning entry
	cache    *lru.Cache[string, Entry]
}

// New builds a Registry from the merged entry list. Disabled entries are
// kept as shadows (never deleted) so a later re-enable does not require
// reloading bundled defaults.
func New(entries []Entry) (*Registry, error) {
	cache, err := lru.New[string, Entry](lookupCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		exact:    make(map[string]Entry),
		wildcard: make(map[string]Entry),
		cache:    cache,
	}
	r.rebuild(entries)
	return r, nil
}

// Reload replaces the entry set in place and clears the lookup cache.
// cmd/aegis builds the Registry once at startup and does not call Reload.
func (r *Registry) Reload(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuild(entries)
	r.cache.Purge()
}

func (r *Registry) rebuild(entries []Entry) {
	exact := make(map[string]Entry)
	wildcard := make(map[string]Entry)

	priority := func(s Source) int {
		switch s {
		case SourceCustom:
			return 3
		case SourceRemote:
			return 2
		default:
			return 1
		}
	}

	merge := func(dst map[string]Entry, key string, e Entry) {
		existing, ok := dst[key]
		if !ok || priority(e.Source) > priority(existing.Source) {
			dst[key] = e
			return
		}
		// Equal source priority: higher explicit Priority field wins.
		if priority(e.Source) == priority(existing.Source) && e.Priority > existing.Priority {
			dst[key] = e
		}
	}

	for _, e := range entries {
		host := strings.ToLower(e.Pattern)
		e.Pattern = host
		if e.isWildcard() {
			domain := strings.TrimPrefix(host, "*.")
			merge(wildcard, domain, e)
		} else {
			merge(exact, host, e)
		}
	}

	r.exact = exact
	r.wildcard = wildcard
	slog.Debug("registry rebuilt", "exact", len(exact), "wildcard", len(wildcard))
}

// Lookup resolves host to its matched Entry. Returns ok=false for
// unmatched or disabled hosts; the caller (proxy) must not terminate TLS
// in that case.
func (r *Registry) Lookup(host string) (Entry, bool) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if cached, ok := r.cache.Get(host); ok {
		return cached, cached.Enabled
	}

	entry, ok := r.resolve(host)
	if ok {
		r.cache.Add(host, entry)
	}
	return entry, ok && entry.Enabled
}

func (r *Registry) resolve(host string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.exact[host]; ok {
		return e, true
	}

	// Single-label wildcard: strip labels from the left until a
	// "*.domain.tld" suffix matches. "*.D" never matches D itself.
	labels := strings.Split(host, ".")
	for i := 1; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		if e, ok := r.wildcard[suffix]; ok {
			return e, true
		}
	}

	return Entry{}, false
}

// BundledDefaults returns the stock set of well-known LLM services shipped
// with Aegis. Callers merge this with custom/remote entries via New/Reload.
func BundledDefaults() []Entry {
	return []Entry{
		{Pattern: "chat.openai.com", ServiceName: "ChatGPT", Category: CategoryConsumer, ParserID: "openai", Enabled: true, Source: SourceBundled},
		{Pattern: "chatgpt.com", ServiceName: "ChatGPT", Category: CategoryConsumer, ParserID: "openai", Enabled: true, Source: SourceBundled},
		{Pattern: "*.openai.com", ServiceName: "OpenAI API", Category: CategoryAPI, ParserID: "openai", Enabled: true, Source: SourceBundled},
		{Pattern: "claude.ai", ServiceName: "Claude", Category: CategoryConsumer, ParserID: "anthropic", Enabled: true, Source: SourceBundled},
		{Pattern: "*.anthropic.com", ServiceName: "Anthropic API", Category: CategoryAPI, ParserID: "anthropic", Enabled: true, Source: SourceBundled},
		{Pattern: "gemini.google.com", ServiceName: "Gemini", Category: CategoryConsumer, ParserID: "gemini", Enabled: true, Source: SourceBundled},
		{Pattern: "*.perplexity.ai", ServiceName: "Perplexity", Category: CategoryConsumer, ParserID: "perplexity", Enabled: true, Source: SourceBundled},
		{Pattern: "poe.com", ServiceName: "Poe", Category: CategoryConsumer, ParserID: "poe", Enabled: true, Source: SourceBundled},
		{Pattern: "copilot.microsoft.com", ServiceName: "Copilot", Category: CategoryConsumer, ParserID: "copilot", Enabled: true, Source: SourceBundled},
		{Pattern: "*.midjourney.com", ServiceName: "Midjourney", Category: CategoryImageGen, ParserID: "unknown", Enabled: true, Source: SourceBundled},
	}
}
