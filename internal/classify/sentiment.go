package classify

import "strings"

// SentimentLexicon implements a small VADER-style lexicon scorer: a table
// of valenced words, negation handling over a 3-token window, and
// intensifier multipliers. It never blocks; its output only feeds the
// flagged-events table for parental review.
type SentimentLexicon struct {
	valence      map[string]float64
	negations    map[string]bool
	intensifiers map[string]float64
	crisis       map[string]bool
	bullying     map[string]bool
}

const negationWindow = 3

// NewSentimentLexicon builds a lexicon. A nil/empty extra map uses the
// built-in defaults only; callers may widen it via config.
func NewSentimentLexicon(extraValence map[string]float64) *SentimentLexicon {
	valence := map[string]float64{
		"hate": -0.8, "worthless": -0.8, "hopeless": -0.9, "alone": -0.5,
		"scared": -0.6, "terrified": -0.8, "sad": -0.4, "miserable": -0.7,
		"awful": -0.6, "terrible": -0.6, "hurt": -0.5, "crying": -0.5,
		"happy": 0.6, "great": 0.5, "love": 0.6, "good": 0.4, "excited": 0.6,
	}
	for k, v := range extraValence {
		valence[k] = v
	}

	return &SentimentLexicon{
		valence: valence,
		negations: map[string]bool{
			"not": true, "no": true, "never": true, "n't": true, "cant": true, "can't": true,
		},
		intensifiers: map[string]float64{
			"very": 1.5, "really": 1.4, "extremely": 1.8, "so": 1.3, "totally": 1.4,
		},
		crisis: map[string]bool{
			"suicide": true, "kill myself": true, "end it all": true, "self-harm": true, "self harm": true,
		},
		bullying: map[string]bool{
			"everyone hates you": true, "nobody likes you": true, "you're worthless": true, "loser": true,
		},
	}
}

// Score returns the sentiment flags detected in text. Confidences are in
// [0,1] and derived from lexicon magnitude, never from Tier 1/2 output.
func (l *SentimentLexicon) Score(text string) []FlagMatch {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)

	var flags []FlagMatch

	if phrase, ok := l.matchesAny(lower, l.crisis); ok {
		_ = phrase
		flags = append(flags, FlagMatch{Flag: FlagCrisisIndicator, Confidence: 0.9})
	}
	if _, ok := l.matchesAny(lower, l.bullying); ok {
		flags = append(flags, FlagMatch{Flag: FlagBullying, Confidence: 0.75})
	}

	score, hits := l.scoreTokens(tokens)
	if hits == 0 {
		return flags
	}
	avg := score / float64(hits)

	switch {
	case avg <= -0.7:
		flags = append(flags, FlagMatch{Flag: FlagDistress, Confidence: clamp01(-avg)})
	case avg < 0:
		flags = append(flags, FlagMatch{Flag: FlagNegativeSentiment, Confidence: clamp01(-avg)})
	}

	return flags
}

func (l *SentimentLexicon) matchesAny(text string, phrases map[string]bool) (string, bool) {
	for phrase := range phrases {
		if strings.Contains(text, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// scoreTokens walks the token stream applying negation (looks back up to
// negationWindow tokens) and intensifier multipliers to each valenced word.
func (l *SentimentLexicon) scoreTokens(tokens []string) (float64, int) {
	var total float64
	var hits int

	for i, tok := range tokens {
		val, ok := l.valence[tok]
		if !ok {
			continue
		}

		negated := false
		start := i - negationWindow
		if start < 0 {
			start = 0
		}
		for j := start; j < i; j++ {
			if l.negations[tokens[j]] {
				negated = true
				break
			}
		}

		multiplier := 1.0
		if i > 0 {
			if m, ok := l.intensifiers[tokens[i-1]]; ok {
				multiplier = m
			}
		}

		v := val * multiplier
		if negated {
			v = -v
		}

		total += v
		hits++
	}

	return total, hits
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
