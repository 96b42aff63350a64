// Package policy defines the typed PolicySet document the PDP evaluates
// against, plus a YAML/JSON loader. Unknown fields at the policy root are
// ignored; unknown rule types fail loading with a descriptive *LoadError
// (spec §6, §7) — this is the only error class the PDP surfaces before
// Evaluate is ever called.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Mode is the enforcement posture for a route or the whole policy set.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeMonitor Mode = "monitor"
)

// UnmatchedAction controls what happens when no route matches a request.
type UnmatchedAction string

const (
	UnmatchedAllow   UnmatchedAction = "allow"
	UnmatchedBlock   UnmatchedAction = "block"
	UnmatchedMonitor UnmatchedAction = "monitor"
)

// RuleAction is the action a single rule requests when it fires.
type RuleAction string

const (
	RuleAllow   RuleAction = "allow"
	RuleMonitor RuleAction = "monitor"
	RuleBlock   RuleAction = "block"
)

// RuleSeverity is the severity a rule reports when it fires.
type RuleSeverity string

const (
	SevLow      RuleSeverity = "low"
	SevMed      RuleSeverity = "med"
	SevHigh     RuleSeverity = "high"
	SevCritical RuleSeverity = "critical"
)

// Limits bounds body size / structural depth / array length.
type Limits struct {
	MaxBodyBytes    *int64 `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
	MaxJSONDepth    *int   `json:"max_json_depth,omitempty" yaml:"max_json_depth,omitempty"`
	MaxArrayLength  *int   `json:"max_array_length,omitempty" yaml:"max_array_length,omitempty"`
}

// VulnerabilityCheck is the effective per-check configuration: on/off plus
// an optional field scope. A route-level Enabled replaces the default
// entirely for that check (spec §4.2, §9), and a route-level Fields list
// replaces the default's list rather than merging with it.
type VulnerabilityCheck struct {
	Enabled *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Fields  []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// VulnerabilityConfig groups the five scanner configs.
type VulnerabilityConfig struct {
	PrototypePollution *VulnerabilityCheck `json:"prototype_pollution,omitempty" yaml:"prototype_pollution,omitempty"`
	PathTraversal      *VulnerabilityCheck `json:"path_traversal,omitempty" yaml:"path_traversal,omitempty"`
	SSRFInternal       *VulnerabilityCheck `json:"ssrf_internal,omitempty" yaml:"ssrf_internal,omitempty"`
	NoSQLInjection     *VulnerabilityCheck `json:"nosql_injection,omitempty" yaml:"nosql_injection,omitempty"`
	CommandInjection   *VulnerabilityCheck `json:"command_injection,omitempty" yaml:"command_injection,omitempty"`
}

// ResponseConfig configures the status code emitted on BLOCK.
type ResponseConfig struct {
	BlockStatusCode int `json:"block_status_code,omitempty" yaml:"block_status_code,omitempty"`
}

// Defaults are the policy-set-wide defaults every route falls back to.
type Defaults struct {
	Mode                 Mode                `json:"mode,omitempty" yaml:"mode,omitempty"`
	UnmatchedRouteAction UnmatchedAction     `json:"unmatched_route_action,omitempty" yaml:"unmatched_route_action,omitempty"`
	Response             ResponseConfig      `json:"response,omitempty" yaml:"response,omitempty"`
	Limits               Limits              `json:"limits,omitempty" yaml:"limits,omitempty"`
	VulnerabilityChecks  VulnerabilityConfig `json:"vulnerability_checks,omitempty" yaml:"vulnerability_checks,omitempty"`
}

// Contract describes request-body schema validation for a route.
type Contract struct {
	RequestSchemaRef    string `json:"request_schema_ref,omitempty" yaml:"request_schema_ref,omitempty"`
	RejectUnknownFields bool   `json:"reject_unknown_fields,omitempty" yaml:"reject_unknown_fields,omitempty"`
}

// WebhookConfig configures signature verification and replay protection.
type WebhookConfig struct {
	Provider           string   `json:"provider" yaml:"provider"`
	SecretRef          string   `json:"secret_ref,omitempty" yaml:"secret_ref,omitempty"`
	Secret             string   `json:"secret,omitempty" yaml:"secret,omitempty"`
	ReplayProtection   *bool    `json:"replay_protection,omitempty" yaml:"replay_protection,omitempty"`
	TimestampTolerance int      `json:"timestamp_tolerance,omitempty" yaml:"timestamp_tolerance,omitempty"`
	RequireRawBody     *bool    `json:"require_raw_body,omitempty" yaml:"require_raw_body,omitempty"`
	AllowedEventTypes  []string `json:"allowed_event_types,omitempty" yaml:"allowed_event_types,omitempty"`
}

// ReplayProtectionEnabled applies the documented default of true.
func (w *WebhookConfig) ReplayProtectionEnabled() bool {
	if w == nil || w.ReplayProtection == nil {
		return true
	}
	return *w.ReplayProtection
}

// RequireRawBodyEnabled applies the documented default of true.
func (w *WebhookConfig) RequireRawBodyEnabled() bool {
	if w == nil || w.RequireRawBody == nil {
		return true
	}
	return *w.RequireRawBody
}

// RuleType discriminates the tagged PolicyRule union (spec §3, §9).
type RuleType string

const (
	RuleTypeCEL             RuleType = "cel"
	RuleTypeWebhookSig      RuleType = "webhook-signature"
	RuleTypeWebhookReplay   RuleType = "webhook-replay"
	RuleTypeContract        RuleType = "contract"
	RuleTypeLimits          RuleType = "limits"
)

// Rule is a single tagged policy rule.
type Rule struct {
	ID       string          `json:"id" yaml:"id"`
	Type     RuleType        `json:"type" yaml:"type"`
	Action   RuleAction      `json:"action" yaml:"action"`
	Severity RuleSeverity    `json:"severity" yaml:"severity"`
	Config   RuleConfig      `json:"config,omitempty" yaml:"config,omitempty"`
}

// RuleConfig carries the rule-type-specific payload. Only Expression is
// used today (by cel rules); the other rule types are
// self-describing via their route-level sibling fields (Contract, Webhook,
// Limits) and exist primarily to let the pipeline driver route distinct
// rule kinds to distinct stages without risking cross-evaluation (spec §9).
type RuleConfig struct {
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Match selects which requests a route applies to. v0.1 is exact-string
// only (spec §4.1) — no templating, no prefixes.
type Match struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
}

// Route is a single named policy route.
type Route struct {
	ID           string               `json:"id" yaml:"id"`
	Match        Match                `json:"match" yaml:"match"`
	Mode         Mode                 `json:"mode,omitempty" yaml:"mode,omitempty"`
	Contract     *Contract            `json:"contract,omitempty" yaml:"contract,omitempty"`
	Webhook      *WebhookConfig       `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Vulnerability *VulnerabilityConfig `json:"vulnerability,omitempty" yaml:"vulnerability,omitempty"`
	Rules        []Rule               `json:"rules,omitempty" yaml:"rules,omitempty"`
	Limits       *Limits              `json:"limits,omitempty" yaml:"limits,omitempty"`
}

// Set is the full, immutable policy document.
type Set struct {
	PolicyVersion string   `json:"policy_version" yaml:"policy_version"`
	Defaults      Defaults `json:"defaults" yaml:"defaults"`
	Routes        []Route  `json:"routes" yaml:"routes"`
}

// LoadError is a policy-load-time error (spec §7): malformed policy, an
// unknown rule type, or a missing required route field. These are surfaced
// to the host before Evaluate is ever invoked and are never converted into
// rule hits.
type LoadError struct {
	Code    string
	RouteID string
	RuleID  string
	Detail  string
}

func (e *LoadError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("%s: route %q rule %q: %s", e.Code, e.RouteID, e.RuleID, e.Detail)
	}
	if e.RouteID != "" {
		return fmt.Sprintf("%s: route %q: %s", e.Code, e.RouteID, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

const (
	codeUnknownRuleType = "CONTRACTSHIELD/POLICY/UNKNOWN_RULE_TYPE"
	codeMissingField    = "CONTRACTSHIELD/POLICY/MISSING_REQUIRED_FIELD"
	codeDuplicateRoute  = "CONTRACTSHIELD/POLICY/DUPLICATE_ROUTE_ID"
	codeMalformed       = "CONTRACTSHIELD/POLICY/MALFORMED"
	codeVersion         = "CONTRACTSHIELD/POLICY/UNSUPPORTED_VERSION"
)

// supportedPolicyVersions is the semver range this PDP build understands.
// policy_version "0.1" is normalized to "0.1.0" before the check, matching
// the two-component tags the spec's examples use.
var supportedPolicyVersions = mustConstraint(">=0.1.0, <0.2.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseYAML loads a PolicySet from YAML bytes.
func ParseYAML(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, &LoadError{Code: codeMalformed, Detail: err.Error()}
	}
	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseJSON loads a PolicySet from JSON bytes.
func ParseJSON(data []byte) (*Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &LoadError{Code: codeMalformed, Detail: err.Error()}
	}
	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

var knownRuleTypes = map[RuleType]bool{
	RuleTypeCEL:           true,
	RuleTypeWebhookSig:    true,
	RuleTypeWebhookReplay: true,
	RuleTypeContract:      true,
	RuleTypeLimits:        true,
}

func validate(s *Set) error {
	if s.PolicyVersion == "" {
		return &LoadError{Code: codeMissingField, Detail: "policy_version is required"}
	}
	if err := checkVersion(s.PolicyVersion); err != nil {
		return err
	}

	seen := make(map[string]bool, len(s.Routes))
	for _, r := range s.Routes {
		if r.ID == "" {
			return &LoadError{Code: codeMissingField, Detail: "route id is required"}
		}
		if seen[r.ID] {
			return &LoadError{Code: codeDuplicateRoute, RouteID: r.ID, Detail: "route ids must be unique"}
		}
		seen[r.ID] = true

		if r.Match.Method == "" || r.Match.Path == "" {
			return &LoadError{Code: codeMissingField, RouteID: r.ID, Detail: "match.method and match.path are required"}
		}

		for _, rule := range r.Rules {
			if rule.ID == "" {
				return &LoadError{Code: codeMissingField, RouteID: r.ID, Detail: "rule id is required"}
			}
			if !knownRuleTypes[rule.Type] {
				return &LoadError{Code: codeUnknownRuleType, RouteID: r.ID, RuleID: rule.ID, Detail: fmt.Sprintf("unknown rule type %q", rule.Type)}
			}
			if rule.Type == RuleTypeCEL && rule.Config.Expression == "" {
				return &LoadError{Code: codeMissingField, RouteID: r.ID, RuleID: rule.ID, Detail: "cel rule requires config.expression"}
			}
		}
	}
	return nil
}

func checkVersion(v string) error {
	normalized := v
	if len(normalized) > 0 {
		// "0.1" -> "0.1.0" so Masterminds/semver (strict 3-component) can parse it.
		dots := 0
		for _, c := range normalized {
			if c == '.' {
				dots++
			}
		}
		for ; dots < 2; dots++ {
			normalized += ".0"
		}
	}
	sv, err := semver.NewVersion(normalized)
	if err != nil {
		return &LoadError{Code: codeVersion, Detail: fmt.Sprintf("invalid policy_version %q: %v", v, err)}
	}
	if !supportedPolicyVersions.Check(sv) {
		return &LoadError{Code: codeVersion, Detail: fmt.Sprintf("policy_version %q is not supported by this PDP build", v)}
	}
	return nil
}

// EffectiveBlockStatusCode resolves defaults.response.block_status_code,
// defaulting to 403 (spec §3).
func (s *Set) EffectiveBlockStatusCode() int {
	if s.Defaults.Response.BlockStatusCode == 0 {
		return 403
	}
	return s.Defaults.Response.BlockStatusCode
}

// EffectiveMode resolves route.mode ?? defaults.mode ?? enforce (spec §4.1).
func (s *Set) EffectiveMode(r *Route) Mode {
	if r != nil && r.Mode != "" {
		return r.Mode
	}
	if s.Defaults.Mode != "" {
		return s.Defaults.Mode
	}
	return ModeEnforce
}
