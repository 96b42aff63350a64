// Package pdp is the pipeline driver: the PDP's sole entry point (spec §6,
// §4.7). Evaluate orchestrates the fixed six-stage pipeline over a
// PolicySet and a RequestContext, folding every stage's hits into a single
// Decision. Grounded on the teacher's pkg/pdp/pdp.go (the Decide/Evaluate
// entry point shape) and pkg/kernel/pdp/defer.go (deferred-stage execution
// even after an early stage produces findings).
package pdp

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contractshield/pdp/pkg/celeval"
	"github.com/contractshield/pdp/pkg/decision"
	"github.com/contractshield/pdp/pkg/limits"
	"github.com/contractshield/pdp/pkg/match"
	"github.com/contractshield/pdp/pkg/policy"
	"github.com/contractshield/pdp/pkg/reqcontext"
	"github.com/contractshield/pdp/pkg/replaystore"
	"github.com/contractshield/pdp/pkg/schema"
	"github.com/contractshield/pdp/pkg/telemetry"
	"github.com/contractshield/pdp/pkg/vuln"
	"github.com/contractshield/pdp/pkg/webhook"
)

// defaultReplayTTLSeconds bounds how long a webhook event id is remembered;
// it is used for every route. The spec leaves the ttl
// unspecified beyond "set-if-absent with TTL" (§4.8), so the driver picks a
// generous, fixed default rather than exposing another knob.
const defaultReplayTTLSeconds = 24 * 60 * 60

// Options bundles the pluggable capabilities named in spec §6
// ("PdpOptions"), all optional.
type Options struct {
	SchemaLoader schema.Loader
	SchemaCache  *schema.Cache // process-lifetime; callers should share one across Evaluate calls
	CelEvaluator celeval.Evaluator
	ReplayStore  replaystore.Store
	GetSecret    webhook.SecretResolver
	Logger       *slog.Logger
	Telemetry    *telemetry.Provider // nil is a valid no-op provider
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) schemaCache() *schema.Cache {
	if o.SchemaCache != nil {
		return o.SchemaCache
	}
	return schema.NewCache()
}

// Evaluate is the PDP's sole entry point (spec §6):
// evaluate(policy, context, options) -> Decision.
func Evaluate(ctx context.Context, ps *policy.Set, rc *reqcontext.Context, opts Options) *decision.Decision {
	start := time.Now()
	ctx, span := opts.Telemetry.StartStage(ctx, "evaluate")
	defer span.End()

	d := evaluate(ctx, ps, rc, opts)

	routeID, _ := d.Metadata["route_id"].(string)
	opts.Telemetry.RecordDecision(ctx, routeID, string(d.Action), time.Since(start))
	for _, h := range d.RuleHits {
		opts.Telemetry.RecordHit(ctx, h.ID, string(h.Severity))
	}

	correlationID := rc.ID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	opts.logger().Debug("pdp decision",
		slog.String("correlation_id", correlationID),
		slog.String("route_id", routeID),
		slog.String("action", string(d.Action)),
		slog.Int("hit_count", len(d.RuleHits)),
	)
	return d
}

func evaluate(ctx context.Context, ps *policy.Set, rc *reqcontext.Context, opts Options) *decision.Decision {
	result := match.Route(ps.Routes, rc.Request.Method, rc.Request.Path, rc.Request.RouteID)
	if !result.Matched {
		return unmatchedDecision(ps)
	}
	route := result.Route

	var hits []decision.Hit

	// Stage 2: vulnerability scanners.
	vulnCfg := vuln.Effective(ps.Defaults.VulnerabilityChecks, route.Vulnerability)
	hits = append(hits, vuln.Scan(rc, vulnCfg)...)

	// Stage 3: limit checker.
	effLimits := limits.Effective(route.Limits, ps.Defaults.Limits)
	hits = append(hits, limits.Check(rc, effLimits)...)

	// Stage 4: schema validator.
	if route.Contract != nil && route.Contract.RequestSchemaRef != "" {
		var sample any
		if rc.Request.Body.JSON != nil {
			sample = rc.Request.Body.JSON.Sample
		}
		cache := opts.schemaCache()
		hits = append(hits, schema.Validate(ctx, cache, opts.SchemaLoader, route.Contract.RequestSchemaRef, sample, route.Contract.RejectUnknownFields)...)
	}

	// Stage 5: webhook signature + replay, only if the route declares a provider.
	if route.Webhook != nil && route.Webhook.Provider != "" {
		hits = append(hits, evaluateWebhook(ctx, rc, route, opts)...)
	}

	// Stage 6: CEL rules, in policy order.
	hits = append(hits, evaluateCELRules(rc, route.Rules, opts)...)

	mode := ps.EffectiveMode(route)
	risk := decision.ComputeRisk(hits)
	action, statusCode := decision.DeriveAction(hits, mode == policy.ModeEnforce, ps.EffectiveBlockStatusCode())

	return &decision.Decision{
		Version:    "0.1",
		Action:     action,
		StatusCode: statusCode,
		RuleHits:   hits,
		Risk:       risk,
		Metadata: map[string]any{
			"route_id": route.ID,
			"mode":     string(mode),
		},
	}
}

// unmatchedDecision implements the route-unmatched short-circuit (spec
// §4.1): later stages have no route context, so only defaults govern it.
func unmatchedDecision(ps *policy.Set) *decision.Decision {
	switch ps.Defaults.UnmatchedRouteAction {
	case policy.UnmatchedBlock:
		hit := decision.Hit{ID: "route.unmatched", Severity: decision.SeverityHigh, Message: "no policy route matched this request"}
		risk := decision.ComputeRisk([]decision.Hit{hit})
		return &decision.Decision{
			Version: "0.1", Action: decision.ActionBlock, StatusCode: ps.EffectiveBlockStatusCode(),
			RuleHits: []decision.Hit{hit}, Risk: risk,
			Metadata: map[string]any{"route_id": "", "mode": string(policy.ModeEnforce)},
		}
	case policy.UnmatchedMonitor:
		hit := decision.Hit{ID: "route.unmatched", Severity: decision.SeverityMed, Message: "no policy route matched this request"}
		risk := decision.ComputeRisk([]decision.Hit{hit})
		return &decision.Decision{
			Version: "0.1", Action: decision.ActionMonitor, StatusCode: 200,
			RuleHits: []decision.Hit{hit}, Risk: risk,
			Metadata: map[string]any{"route_id": "", "mode": string(policy.ModeMonitor)},
		}
	default: // allow, including an empty/unset value
		return &decision.Decision{
			Version: "0.1", Action: decision.ActionAllow, StatusCode: 200,
			RuleHits: nil, Risk: decision.Risk{Score: 0, Level: decision.RiskNone},
			Metadata: map[string]any{"route_id": "", "mode": ""},
		}
	}
}

// evaluateWebhook implements the webhook state machine (spec §4.5): missing
// raw body, then signature, then replay — short-circuiting the remainder of
// the webhook sub-stages on the first failure, but never the pipeline's
// other stages (those already ran above).
func evaluateWebhook(ctx context.Context, rc *reqcontext.Context, route *policy.Route, opts Options) []decision.Hit {
	cfg := *route.Webhook
	sigHits := webhook.VerifySignature(ctx, rc, route.ID, cfg, opts.GetSecret)
	if len(sigHits) > 0 {
		return sigHits
	}

	if !cfg.ReplayProtectionEnabled() {
		return nil
	}

	replayed, hasResult := replayResult(ctx, rc, cfg, route.ID, opts)
	if !hasResult {
		return nil
	}
	if replayed {
		return []decision.Hit{{
			ID:       webhook.ReplayHitID(cfg.Provider),
			Severity: decision.SeverityCritical,
			Message:  "webhook event already processed (replay detected)",
		}}
	}
	return nil
}

// replayResult resolves the replay outcome via the ctx.webhook.replayed
// fixture override first, then the configured store. hasResult is false
// when there is no extractable event id or no store configured — per spec
// §4.5, a missing id is not itself a replay, and a missing store silently
// skips replay protection.
func replayResult(ctx context.Context, rc *reqcontext.Context, cfg policy.WebhookConfig, routeID string, opts Options) (replayed bool, hasResult bool) {
	if rc.Webhook != nil && rc.Webhook.Replayed != nil {
		return *rc.Webhook.Replayed, true
	}

	eventID, ok := webhook.ExtractEventID(rc, cfg.Provider)
	if !ok || eventID == "" {
		return false, false
	}
	if opts.ReplayStore == nil {
		opts.logger().Warn("webhook replay protection enabled but no replay store configured",
			slog.String("provider", cfg.Provider), slog.String("route_id", routeID))
		return false, false
	}

	ttl := defaultReplayTTLSeconds
	replayedResult, err := opts.ReplayStore.CheckAndStore(ctx, cfg.Provider, eventID, ttl)
	if err != nil {
		opts.logger().Warn("replay store error, failing open",
			slog.String("provider", cfg.Provider), slog.Any("error", err))
		return false, true
	}
	return replayedResult, true
}

// evaluateCELRules runs every cel-typed rule in route.Rules, in order
// (spec §4.7 stage 6). Other rule types are validated at policy-load time
// (pkg/policy) and are expressed operationally via the route's own
// Contract/Webhook/Limits fields, not re-evaluated here.
func evaluateCELRules(rc *reqcontext.Context, rules []policy.Rule, opts Options) []decision.Hit {
	celRules := make([]policy.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Type == policy.RuleTypeCEL {
			celRules = append(celRules, r)
		}
	}
	if len(celRules) == 0 {
		return nil
	}

	evaluator := opts.CelEvaluator
	if evaluator == nil {
		var err error
		evaluator, err = celeval.NewDefault()
		if err != nil {
			// Construction failure is a programmer/environment error, not a
			// per-request condition; fail every CEL rule safe (spec §7).
			hits := make([]decision.Hit, 0, len(celRules))
			for _, r := range celRules {
				hits = append(hits, decision.Hit{ID: r.ID, Severity: severityOf(r.Severity), Message: "CEL invariant failed"})
			}
			return hits
		}
	}

	env := celeval.Env(rc)
	hits := make([]decision.Hit, 0, len(celRules))
	for _, r := range celRules {
		holds, ok := evaluator.Eval(r.Config.Expression, env)
		if !ok || !holds {
			hits = append(hits, decision.Hit{ID: r.ID, Severity: severityOf(r.Severity), Message: "CEL invariant failed"})
		}
	}
	return hits
}

func severityOf(s policy.RuleSeverity) decision.Severity {
	switch s {
	case policy.SevLow:
		return decision.SeverityLow
	case policy.SevMed:
		return decision.SeverityMed
	case policy.SevHigh:
		return decision.SeverityHigh
	default:
		return decision.SeverityCritical
	}
}
