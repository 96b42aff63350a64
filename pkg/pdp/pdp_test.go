package pdp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contractshield/pdp/pkg/decision"
	"github.com/contractshield/pdp/pkg/policy"
	"github.com/contractshield/pdp/pkg/reqcontext"
)

func basePolicy() *policy.Set {
	return &policy.Set{
		PolicyVersion: "0.1",
		Defaults: policy.Defaults{
			Mode:                 policy.ModeEnforce,
			UnmatchedRouteAction: policy.UnmatchedAllow,
		},
	}
}

func TestEvaluate_TenantMismatchCELBlock(t *testing.T) {
	ps := basePolicy()
	ps.Routes = []policy.Route{{
		ID:    "license.activate.v1",
		Match: policy.Match{Method: "POST", Path: "/api/license/activate"},
		Rules: []policy.Rule{{
			ID:       "tenant.binding",
			Type:     policy.RuleTypeCEL,
			Severity: policy.SevCritical,
			Config:   policy.RuleConfig{Expression: `identity.tenant == request.body.json.sample.tenantId`},
		}},
	}}

	rc := &reqcontext.Context{
		Request: reqcontext.Request{
			Method: "POST", Path: "/api/license/activate",
			Body: reqcontext.Body{
				Present: true,
				JSON:    &reqcontext.JSON{Sample: map[string]any{"tenantId": "t-2"}},
			},
		},
		Identity: reqcontext.Identity{Tenant: "t-1"},
	}

	d := Evaluate(context.Background(), ps, rc, Options{})
	require.Equal(t, "BLOCK", string(d.Action))
	require.Equal(t, 403, d.StatusCode)
	require.Len(t, d.RuleHits, 1)
	require.Equal(t, "tenant.binding", d.RuleHits[0].ID)
	require.Equal(t, "critical", string(d.RuleHits[0].Severity))
	require.Equal(t, 90, d.Risk.Score)
	require.Equal(t, "critical", string(d.Risk.Level))
}

func TestEvaluate_PrototypePollution(t *testing.T) {
	ps := basePolicy()
	ps.Routes = []policy.Route{{
		ID:    "api.widgets.create",
		Match: policy.Match{Method: "POST", Path: "/api/widgets"},
	}}

	rc := &reqcontext.Context{
		Request: reqcontext.Request{
			Method: "POST", Path: "/api/widgets",
			Body: reqcontext.Body{
				Present: true,
				JSON: &reqcontext.JSON{Sample: map[string]any{
					"a": map[string]any{"__proto__": map[string]any{"isAdmin": true}},
				}},
			},
		},
	}

	d := Evaluate(context.Background(), ps, rc, Options{})
	require.Equal(t, "BLOCK", string(d.Action))
	require.Contains(t, hitIDs(d.RuleHits), "vuln.prototype_pollution")
	for _, h := range d.RuleHits {
		if h.ID == "vuln.prototype_pollution" {
			require.Equal(t, "Found '__proto__' key in request at body.a.__proto__", h.Message)
		}
	}
}

func TestEvaluate_UnmatchedRouteBlockByDefault(t *testing.T) {
	ps := basePolicy()
	ps.Defaults.UnmatchedRouteAction = policy.UnmatchedBlock

	rc := &reqcontext.Context{Request: reqcontext.Request{Method: "GET", Path: "/unknown"}}

	d := Evaluate(context.Background(), ps, rc, Options{})
	require.Equal(t, "BLOCK", string(d.Action))
	require.Equal(t, 403, d.StatusCode)
	require.Len(t, d.RuleHits, 1)
	require.Equal(t, "route.unmatched", d.RuleHits[0].ID)
	require.Equal(t, "high", string(d.RuleHits[0].Severity))
}

func TestEvaluate_UnmatchedRouteAllowByDefault(t *testing.T) {
	ps := basePolicy()
	rc := &reqcontext.Context{Request: reqcontext.Request{Method: "GET", Path: "/unknown"}}

	d := Evaluate(context.Background(), ps, rc, Options{})
	require.Equal(t, "ALLOW", string(d.Action))
	require.Equal(t, 200, d.StatusCode)
	require.Empty(t, d.RuleHits)
}

func TestEvaluate_MonitorModeAggregatesWithoutBlocking(t *testing.T) {
	ps := basePolicy()
	ps.Routes = []policy.Route{{
		ID:    "api.upload",
		Match: policy.Match{Method: "POST", Path: "/api/upload"},
		Mode:  policy.ModeMonitor,
	}}

	rc := &reqcontext.Context{
		Request: reqcontext.Request{
			Method: "POST", Path: "/api/upload",
			Body: reqcontext.Body{
				Present: true,
				JSON: &reqcontext.JSON{Sample: map[string]any{
					"path": "../../etc/passwd",
				}},
			},
		},
	}

	d := Evaluate(context.Background(), ps, rc, Options{})
	require.Equal(t, "MONITOR", string(d.Action))
	require.Equal(t, 200, d.StatusCode)
	require.Contains(t, hitIDs(d.RuleHits), "vuln.path_traversal")
}

func TestEvaluate_ModeInvarianceOfHits(t *testing.T) {
	ps := basePolicy()
	route := policy.Route{
		ID:    "api.upload",
		Match: policy.Match{Method: "POST", Path: "/api/upload"},
	}
	rc := &reqcontext.Context{
		Request: reqcontext.Request{
			Method: "POST", Path: "/api/upload",
			Body: reqcontext.Body{
				Present: true,
				JSON:    &reqcontext.JSON{Sample: map[string]any{"path": "../../etc/passwd"}},
			},
		},
	}

	route.Mode = policy.ModeEnforce
	ps.Routes = []policy.Route{route}
	enforceDecision := Evaluate(context.Background(), ps, rc, Options{})

	route.Mode = policy.ModeMonitor
	ps.Routes = []policy.Route{route}
	monitorDecision := Evaluate(context.Background(), ps, rc, Options{})

	require.Equal(t, enforceDecision.RuleHits, monitorDecision.RuleHits)
	require.Equal(t, enforceDecision.Risk, monitorDecision.Risk)
	require.Equal(t, enforceDecision.Metadata["route_id"], monitorDecision.Metadata["route_id"])
	require.NotEqual(t, enforceDecision.Action, monitorDecision.Action)
}

func hitIDs(hits []decision.Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}
