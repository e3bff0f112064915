package rules

import (
	"log/slog"
	"sync"
	"time"
)

// GuardrailAction is the escalating response the volume guardrail takes as
// a connection's cumulative risk score rises. This is additional
// connection-level abuse telemetry, separate from Verdict: it never
// overrides a Verdict, it only throttles or flags connections that are
// repeatedly triggering content rules.
type GuardrailAction string

const (
	GuardrailObserve   GuardrailAction = "observe"
	GuardrailWarn      GuardrailAction = "warn"
	GuardrailThrottle  GuardrailAction = "throttle"
	GuardrailBlock     GuardrailAction = "block"
	GuardrailTerminate GuardrailAction = "terminate"
)

// GuardrailThreshold maps a cumulative score to an escalation step.
type GuardrailThreshold struct {
	Score  float64
	Action GuardrailAction
}

// DefaultGuardrailThresholds mirrors the reference risk ladder used
// elsewhere in Aegis's ambient abuse tracking.
func DefaultGuardrailThresholds() []GuardrailThreshold {
	return []GuardrailThreshold{
		{Score: 5, Action: GuardrailWarn},
		{Score: 15, Action: GuardrailThrottle},
		{Score: 30, Action: GuardrailBlock},
		{Score: 50, Action: GuardrailTerminate},
	}
}

// ActionWeight assigns a risk weight to each verdict action, used to
// accumulate a connection's running score. Allow contributes nothing;
// repeated Warn/Block verdicts raise the score even though each
// individual request is otherwise handled normally by the Rule Engine.
var ActionWeight = map[Action]float64{
	ActionAllow: 0,
	ActionWarn:  1.0,
	ActionBlock: 3.0,
}

// connectionState tracks one connection's running risk score.
type connectionState struct {
	score      float64
	lastAction GuardrailAction
	updatedAt  time.Time
}

// VolumeGuardrail accumulates a weighted risk score per connection and
// escalates through DefaultGuardrailThresholds as repeated violations pile
// up. It does not participate in Verdict computation; it is a secondary,
// non-blocking signal the MITM proxy may use to throttle abusive
// connections.
type VolumeGuardrail struct {
	mu         sync.Mutex
	thresholds []GuardrailThreshold
	conns      map[string]*connectionState
}

// NewVolumeGuardrail builds a guardrail with the given thresholds (sorted
// ascending by Score is assumed); nil uses the defaults.
func NewVolumeGuardrail(thresholds []GuardrailThreshold) *VolumeGuardrail {
	if len(thresholds) == 0 {
		thresholds = DefaultGuardrailThresholds()
	}
	return &VolumeGuardrail{thresholds: thresholds, conns: make(map[string]*connectionState)}
}

// Record folds a verdict's action into connID's running score and returns
// the current escalation step.
func (g *VolumeGuardrail) Record(connID string, action Action) GuardrailAction {
	g.mu.Lock()
	defer g.mu.Unlock()

	cs, ok := g.conns[connID]
	if !ok {
		cs = &connectionState{}
		g.conns[connID] = cs
	}
	cs.score += ActionWeight[action]
	cs.updatedAt = time.Now()

	step := GuardrailObserve
	for _, th := range g.thresholds {
		if cs.score >= th.Score {
			step = th.Action
		}
	}
	if step != cs.lastAction {
		slog.Warn("volume guardrail escalation", "connection", connID, "score", cs.score, "step", step)
	}
	cs.lastAction = step
	return step
}

// Forget releases a connection's tracked state, e.g. on disconnect.
func (g *VolumeGuardrail) Forget(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, connID)
}

// Sweep removes connection state untouched since before cutoff, bounding
// memory for long-lived proxy processes.
func (g *VolumeGuardrail) Sweep(cutoff time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, cs := range g.conns {
		if cs.updatedAt.Before(cutoff) {
			delete(g.conns, id)
		}
	}
}
