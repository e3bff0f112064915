// Package classify implements the three-tier content classification
// pipeline: keyword/regex, an optional ML head, and a sentiment lexicon.
package classify

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Category is the closed set of content categories Aegis reasons about.
type Category string

const (
	CategoryViolence  Category = "Violence"
	CategorySelfHarm  Category = "SelfHarm"
	CategoryAdult     Category = "Adult"
	CategoryJailbreak Category = "Jailbreak"
	CategoryHate      Category = "Hate"
	CategoryIllegal   Category = "Illegal"
	CategoryProfanity Category = "Profanity"
)

// Tier identifies which classifier stage produced a match.
type Tier string

const (
	TierKeyword   Tier = "keyword"
	TierML        Tier = "ml"
	TierSentiment Tier = "sentiment"
)

// CategoryMatch is a single category hit with its confidence and tier.
type CategoryMatch struct {
	Category   Category
	Confidence float64
	Tier       Tier
}

// Flag is a Tier-3 sentiment signal. Flags never block; they are routed to
// the flagged-events table for parental review.
type Flag string

const (
	FlagDistress          Flag = "Distress"
	FlagCrisisIndicator    Flag = "CrisisIndicator"
	FlagBullying           Flag = "Bullying"
	FlagNegativeSentiment  Flag = "NegativeSentiment"
)

// FlagMatch is a single sentiment flag with its confidence.
type FlagMatch struct {
	Flag       Flag
	Confidence float64
}

// Classification is the pipeline's output for one prompt or response window.
type Classification struct {
	Categories    []CategoryMatch
	Flags         []FlagMatch
	LatencyUS     int64
	TerminalTier  Tier
	Truncated     bool
}

// shortCircuitConfidence: a tier result at or above this confidence skips
// the remaining tiers.
const shortCircuitConfidence = 0.9

// KeywordPattern is a single compiled Tier-1 rule.
type KeywordPattern struct {
	Category Category
	Pattern  *regexp.Regexp
	Severity float64 // contributes to confidence, in (0,1]
}

// MLClassifier is the Tier-2 hook. A real implementation would load an
// ONNX prompt-guard model; Pipeline treats a nil MLClassifier, or one
// whose IsLoaded() is false, as "absent" and silently skips Tier 2.
type MLClassifier interface {
	IsLoaded() bool
	Classify(text string) ([]CategoryMatch, error)
}

// NoopML is used when no model path is configured.
type NoopML struct{}

func (NoopML) IsLoaded() bool                                 { return false }
func (NoopML) Classify(string) ([]CategoryMatch, error)        { return nil, nil }

// Pipeline runs the three classifier tiers in order.
type Pipeline struct {
	keyword   []KeywordPattern
	ml        MLClassifier
	sentiment *SentimentLexicon
}

// New builds a Pipeline. ml may be nil, in which case Tier 2 is always
// skipped (equivalent to NoopML{}).
func New(keyword []KeywordPattern, ml MLClassifier, sentiment *SentimentLexicon) *Pipeline {
	if ml == nil {
		ml = NoopML{}
	}
	if sentiment == nil {
		sentiment = NewSentimentLexicon(nil)
	}
	return &Pipeline{keyword: keyword, ml: ml, sentiment: sentiment}
}

// Classify runs text through Tier 1, then Tier 2 if not short-circuited,
// then Tier 3's non-blocking sentiment flags (always run; they don't
// participate in short-circuiting since they never block).
func (p *Pipeline) Classify(text string) Classification {
	start := time.Now()

	matches := p.runKeyword(text)
	terminal := TierKeyword

	if !maxConfidenceAtLeast(matches, shortCircuitConfidence) && p.ml.IsLoaded() {
		mlMatches, err := p.ml.Classify(text)
		if err != nil {
			slog.Warn("classify: ml tier failed, falling back to keyword tier", "error", err)
		} else {
			matches = append(matches, mlMatches...)
			if len(mlMatches) > 0 {
				terminal = TierML
			}
		}
	}

	flags := p.sentiment.Score(text)

	return Classification{
		Categories:   matches,
		Flags:        flags,
		LatencyUS:    time.Since(start).Microseconds(),
		TerminalTier: terminal,
	}
}

func maxConfidenceAtLeast(matches []CategoryMatch, threshold float64) bool {
	for _, m := range matches {
		if m.Confidence >= threshold {
			return true
		}
	}
	return false
}

func (p *Pipeline) runKeyword(text string) []CategoryMatch {
	if text == "" || len(p.keyword) == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	// Track the highest-severity hit per category; a category should
	// appear at most once in the result with its strongest confidence.
	best := make(map[Category]CategoryMatch)
	for _, kp := range p.keyword {
		if !kp.Pattern.MatchString(lower) {
			continue
		}
		confidence := kp.Severity
		if existing, ok := best[kp.Category]; !ok || confidence > existing.Confidence {
			best[kp.Category] = CategoryMatch{
				Category:   kp.Category,
				Confidence: confidence,
				Tier:       TierKeyword,
			}
		}
	}

	out := make([]CategoryMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	return out
}

// DefaultKeywordPatterns returns a conservative built-in Tier-1 pattern
// table. There is no configuration knob for it; callers that want more
// patterns pass an extended table to New.
func DefaultKeywordPatterns() []KeywordPattern {
	compile := func(category Category, severity float64, patterns ...string) []KeywordPattern {
		out := make([]KeywordPattern, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, KeywordPattern{
				Category: category,
				Pattern:  regexp.MustCompile(`(?i)` + p),
				Severity: severity,
			})
		}
		return out
	}

	var all []KeywordPattern
	all = append(all, compile(CategoryJailbreak, 0.85,
		`ignore (all |any )?(previous|prior|above) instructions`,
		`disregard (your|the) (system|safety) prompt`,
		`you are now (in )?dan mode`,
		`pretend (you have|to have) no (restrictions|filters|guidelines)`,
	)...)
	all = append(all, compile(CategorySelfHarm, 0.9,
		`how (do|can) i (kill|hurt) myself`,
		`want(ing)? to die`,
		`suicide method`,
	)...)
	all = append(all, compile(CategoryViolence, 0.8,
		`how to (make|build) a (bomb|weapon)`,
		`how to kill (a|someone)`,
	)...)
	all = append(all, compile(CategoryHate, 0.75,
		`\b(kill|exterminate) all \w+\b`,
	)...)
	all = append(all, compile(CategoryIllegal, 0.7,
		`how to (synthesize|cook) (meth|drugs)`,
		`how to launder money`,
	)...)
	all = append(all, compile(CategoryAdult, 0.6,
		`explicit sexual content`,
	)...)
	all = append(all, compile(CategoryProfanity, 0.4,
		`\bfuck\b`, `\bshit\b`,
	)...)
	return all
}
