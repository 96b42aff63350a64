//go:build property
// +build property

package pdp_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/contractshield/pdp/pkg/canonicaljson"
	"github.com/contractshield/pdp/pkg/decision"
	"github.com/contractshield/pdp/pkg/pdp"
	"github.com/contractshield/pdp/pkg/policy"
	"github.com/contractshield/pdp/pkg/reqcontext"
)

func pathTraversalPolicy() *policy.Set {
	return &policy.Set{
		PolicyVersion: "0.1",
		Defaults:      policy.Defaults{Mode: policy.ModeEnforce, UnmatchedRouteAction: policy.UnmatchedAllow},
		Routes: []policy.Route{{
			ID:    "api.upload",
			Match: policy.Match{Method: "POST", Path: "/api/upload"},
		}},
	}
}

func ctxWithPathCandidate(candidate string) *reqcontext.Context {
	return &reqcontext.Context{
		Request: reqcontext.Request{
			Method: "POST", Path: "/api/upload",
			Body: reqcontext.Body{
				Present: true,
				JSON:    &reqcontext.JSON{Sample: map[string]any{"path": candidate}},
			},
		},
	}
}

// TestEvaluate_Purity: two evaluations of the same (policy, context) with no
// replay store yield byte-identical canonical-JSON decisions (spec §8).
func TestEvaluate_Purity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated evaluation is pure", prop.ForAll(
		func(candidate string) bool {
			ps := pathTraversalPolicy()
			rc := ctxWithPathCandidate(candidate)

			d1 := pdp.Evaluate(context.Background(), ps, rc, pdp.Options{})
			d2 := pdp.Evaluate(context.Background(), ps, rc, pdp.Options{})

			h1, err1 := canonicaljson.Hash(d1)
			h2, err2 := canonicaljson.Hash(d2)
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestEvaluate_OrderStability: permuting non-colliding routes does not
// change the Decision for a context matching exactly one of them (spec §8).
func TestEvaluate_OrderStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	routes := []policy.Route{
		{ID: "r-a", Match: policy.Match{Method: "GET", Path: "/a"}},
		{ID: "r-b", Match: policy.Match{Method: "GET", Path: "/b"}},
		{ID: "r-c", Match: policy.Match{Method: "GET", Path: "/c"}},
	}

	properties.Property("route order does not affect the matched decision", prop.ForAll(
		func(perm []int) bool {
			if len(perm) != 3 {
				return true
			}
			seen := map[int]bool{}
			for _, p := range perm {
				seen[p%3] = true
			}
			if len(seen) != 3 {
				return true // not a genuine permutation of {0,1,2}
			}

			permuted := make([]policy.Route, 3)
			for i, p := range perm {
				permuted[i] = routes[p%3]
			}

			ps := &policy.Set{PolicyVersion: "0.1", Routes: permuted}
			rc := &reqcontext.Context{Request: reqcontext.Request{Method: "GET", Path: "/b"}}

			d := pdp.Evaluate(context.Background(), ps, rc, pdp.Options{})
			return d.Metadata["route_id"] == "r-b"
		},
		gen.SliceOfN(3, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// TestComputeRisk_SeverityMonotonicityProperty: for any non-empty set of hit
// severities, risk.level is critical when the maximum severity is critical
// and high otherwise (spec §3 invariant 3).
func TestComputeRisk_SeverityMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	severities := []decision.Severity{decision.SeverityLow, decision.SeverityMed, decision.SeverityHigh, decision.SeverityCritical}
	rank := map[decision.Severity]int{
		decision.SeverityLow: 1, decision.SeverityMed: 2, decision.SeverityHigh: 3, decision.SeverityCritical: 4,
	}

	properties.Property("risk level is critical for a critical hit, high otherwise", prop.ForAll(
		func(indices []int) bool {
			if len(indices) == 0 {
				return true
			}
			var hits []decision.Hit
			maxRank := 0
			for i, idx := range indices {
				sev := severities[idx%len(severities)]
				if rank[sev] > maxRank {
					maxRank = rank[sev]
				}
				hits = append(hits, decision.Hit{ID: "h", Severity: sev, Message: "m"})
				_ = i
			}

			risk := decision.ComputeRisk(hits)
			expected := map[int]decision.RiskLevel{
				1: decision.RiskHigh, 2: decision.RiskHigh, 3: decision.RiskHigh, 4: decision.RiskCritical,
			}[maxRank]
			return risk.Level == expected
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

// TestEvaluate_ModeInvarianceProperty: switching a matched route between
// enforce and monitor changes only action/status_code; hits, risk, and
// route_id are identical (spec §8).
func TestEvaluate_ModeInvarianceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("mode affects only action and status_code", prop.ForAll(
		func(candidate string) bool {
			route := policy.Route{ID: "api.upload", Match: policy.Match{Method: "POST", Path: "/api/upload"}}
			rc := ctxWithPathCandidate(candidate)

			route.Mode = policy.ModeEnforce
			enforcePS := &policy.Set{PolicyVersion: "0.1", Routes: []policy.Route{route}}
			enforceD := pdp.Evaluate(context.Background(), enforcePS, rc, pdp.Options{})

			route.Mode = policy.ModeMonitor
			monitorPS := &policy.Set{PolicyVersion: "0.1", Routes: []policy.Route{route}}
			monitorD := pdp.Evaluate(context.Background(), monitorPS, rc, pdp.Options{})

			if len(enforceD.RuleHits) != len(monitorD.RuleHits) {
				return false
			}
			for i := range enforceD.RuleHits {
				if enforceD.RuleHits[i] != monitorD.RuleHits[i] {
					return false
				}
			}
			return enforceD.Risk == monitorD.Risk &&
				enforceD.Metadata["route_id"] == monitorD.Metadata["route_id"]
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
