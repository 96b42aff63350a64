// Package decision defines the PDP's output type and the risk-scoring rules
// that fold rule hits into a single action and numeric/categorical risk.
package decision

// Action is the PDP's final verdict for a request.
type Action string

const (
	ActionAllow     Action = "ALLOW"
	ActionBlock     Action = "BLOCK"
	ActionMonitor   Action = "MONITOR"
	ActionChallenge Action = "CHALLENGE" // reserved; v0.1 emitters MUST NOT produce it.
)

// Severity is the per-hit severity tag.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMed      Severity = "med"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel is the categorical summary of a decision's severity.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMed      RiskLevel = "med"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMed:      2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Hit is a single rule firing. Message MUST NOT contain secrets or raw
// request bodies — callers rely on this for safe logging (spec §7).
type Hit struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// Risk summarizes the severity of a Decision's hits.
type Risk struct {
	Score int       `json:"score"` // 0..100
	Level RiskLevel `json:"level"`
}

// Decision is the sole output surface of the PDP (spec §7).
type Decision struct {
	Version    string         `json:"version"`
	Action     Action         `json:"action"`
	StatusCode int            `json:"status_code"`
	Reason     string         `json:"reason,omitempty"`
	RuleHits   []Hit          `json:"rule_hits"`
	Risk       Risk           `json:"risk"`
	Redactions []string       `json:"redactions,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ComputeRisk implements the severity-monotonicity invariant (spec §3.3):
// any critical hit forces level=critical, score>=90; any hit at all forces
// at least level=high, score>=60; no hits is risk-free.
func ComputeRisk(hits []Hit) Risk {
	if len(hits) == 0 {
		return Risk{Score: 0, Level: RiskNone}
	}

	maxRank := 0
	for _, h := range hits {
		if r := severityRank[h.Severity]; r > maxRank {
			maxRank = r
		}
	}

	switch {
	case maxRank >= severityRank[SeverityCritical]:
		return Risk{Score: scoreFor(90, len(hits)), Level: RiskCritical}
	default:
		// Any hit at all (low/med/high) is floored at "high" per spec §3
		// invariant 3 — the spec only distinguishes critical vs "any hit".
		return Risk{Score: scoreFor(60, len(hits)), Level: RiskHigh}
	}
}

// scoreFor anchors the score at floor and nudges it up (capped at 100) by
// the number of contributing hits, so two critical hits don't look
// identical to one in telemetry while staying within the mandated band.
func scoreFor(floor, numHits int) int {
	score := floor + (numHits-1)*2
	if score > 100 {
		score = 100
	}
	return score
}

// DeriveAction applies the mode-aware action rule (spec §3.4, §4.7).
func DeriveAction(hits []Hit, enforce bool, blockStatusCode int) (Action, int) {
	if len(hits) == 0 {
		return ActionAllow, 200
	}
	if enforce {
		return ActionBlock, blockStatusCode
	}
	return ActionMonitor, 200
}
