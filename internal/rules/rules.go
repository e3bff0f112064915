// Package rules implements the Aegis rule engine: a pure function that
// combines time rules and content rules into a single verdict.
package rules

import (
	"time"

	"aegis/internal/classify"
)

// Action is the verdict's outcome. Order: Block > Warn > Allow.
type Action string

const (
	ActionAllow Action = "Allow"
	ActionWarn  Action = "Warn"
	ActionBlock Action = "Block"
)

func (a Action) rank() int {
	switch a {
	case ActionBlock:
		return 2
	case ActionWarn:
		return 1
	default:
		return 0
	}
}

// stronger returns whichever of a, b ranks higher.
func stronger(a, b Action) Action {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// SourceKind tags where a Verdict's decision came from.
type SourceKind string

const (
	SourceNone        SourceKind = "None"
	SourceTimeRule    SourceKind = "TimeRule"
	SourceContentRule SourceKind = "ContentRule"
)

// Source attributes a Verdict to the rule that produced it.
type Source struct {
	Kind     SourceKind
	ID       string           // TimeRule.ID when Kind == SourceTimeRule
	Category classify.Category // populated when Kind == SourceContentRule
}

// Verdict is the rule engine's output.
type Verdict struct {
	Action           Action
	Reason           string
	Source           Source
	MatchedCategories []classify.Category
}

// Weekday mirrors time.Weekday but with an explicit, serializable string
// form matching the spec's Mon..Sun closed set.
type Weekday string

const (
	Mon Weekday = "Mon"
	Tue Weekday = "Tue"
	Wed Weekday = "Wed"
	Thu Weekday = "Thu"
	Fri Weekday = "Fri"
	Sat Weekday = "Sat"
	Sun Weekday = "Sun"
)

func weekdayOf(t time.Time) Weekday {
	return [...]Weekday{Sun, Mon, Tue, Wed, Thu, Fri, Sat}[t.Weekday()]
}

// LocalTime is a wall-clock time of day, minutes since midnight.
type LocalTime struct {
	Hour   int
	Minute int
}

func (l LocalTime) minutes() int { return l.Hour*60 + l.Minute }

func localTimeOf(t time.Time) LocalTime {
	return LocalTime{Hour: t.Hour(), Minute: t.Minute()}
}

// TimeRule is a day-of-week + time-of-day window that blocks regardless of
// content.
type TimeRule struct {
	ID      string
	Name    string
	Days    []Weekday
	Start   LocalTime
	End     LocalTime
	Enabled bool
}

func (r TimeRule) appliesToday(day Weekday) bool {
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}

// contains reports whether now falls in [Start, End), handling the
// overnight case where End < Start by treating the window as
// [Start, 24:00) ∪ [00:00, End).
func (r TimeRule) contains(now LocalTime) bool {
	start, end, cur := r.Start.minutes(), r.End.minutes(), now.minutes()
	if end < start {
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

// ContentRule maps a classifier category to an action above a confidence
// threshold.
type ContentRule struct {
	Category  classify.Category
	Action    Action
	Threshold float64
	Enabled   bool
}

// ProtectionState mirrors the Profile Manager / State Store's notion of
// whether filtering is currently active.
type ProtectionState struct {
	Active bool
	// Reason is informational only (e.g. "paused_until:<ts>"); the engine
	// only looks at Active.
	Reason string
}

// Profile bundles the rules that apply to the current OS user.
type Profile struct {
	ID              string
	Name            string
	OSUsername      string
	TimeRules       []TimeRule
	ContentRules    []ContentRule
	NSFWThreshold   float64
	Enabled         bool
}

// Evaluate is the rule engine's pure decision function: given a
// classification, the current local time, the active profile, and the
// protection state, it returns a single Verdict. It performs no I/O and
// depends only on its arguments, so it is fully deterministic and
// trivially serializable for tests.
func Evaluate(c classify.Classification, now time.Time, profile Profile, state ProtectionState) Verdict {
	if !state.Active {
		return Verdict{
			Action: ActionAllow,
			Reason: "protection_paused_or_disabled",
			Source: Source{Kind: SourceNone},
		}
	}

	day := weekdayOf(now)
	local := localTimeOf(now)

	// Time rules win over content rules.
	for _, tr := range profile.TimeRules {
		if !tr.Enabled {
			continue
		}
		if tr.appliesToday(day) && tr.contains(local) {
			return Verdict{
				Action: ActionBlock,
				Reason: tr.Name,
				Source: Source{Kind: SourceTimeRule, ID: tr.ID},
			}
		}
	}

	strongest := ActionAllow
	var strongestCategory classify.Category
	var matched []classify.Category

	for _, cr := range profile.ContentRules {
		if !cr.Enabled {
			continue
		}
		for _, cm := range c.Categories {
			if cm.Category != cr.Category {
				continue
			}
			if cm.Confidence < cr.Threshold {
				continue
			}
			matched = append(matched, cm.Category)
			if cr.Action.rank() > strongest.rank() {
				strongest = cr.Action
				strongestCategory = cr.Category
			}
		}
	}

	if strongest != ActionAllow {
		return Verdict{
			Action:            strongest,
			Reason:            string(strongestCategory),
			Source:            Source{Kind: SourceContentRule, Category: strongestCategory},
			MatchedCategories: matched,
		}
	}

	return Verdict{
		Action: ActionAllow,
		Reason: "allowed",
		Source: Source{Kind: SourceNone},
	}
}

// StrongestAction is exposed for callers (e.g. API aggregation) that need
// the Block > Warn > Allow ordering without re-deriving it.
func StrongestAction(a, b Action) Action {
	return stronger(a, b)
}
