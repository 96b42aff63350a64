package vuln

import "github.com/contractshield/pdp/pkg/policy"

// CheckConfig is a single scanner's effective configuration.
type CheckConfig struct {
	Enabled bool
	Fields  []string
}

// Config is the effective configuration for all five scanners.
type Config struct {
	PrototypePollution CheckConfig
	PathTraversal      CheckConfig
	SSRFInternal       CheckConfig
	NoSQLInjection     CheckConfig
	CommandInjection   CheckConfig
}

// Effective merges route-level overrides onto policy defaults. Per spec
// §4.2/§9: a route's boolean replaces the default entirely for that check;
// a route's {fields} sub-key replaces, not merges with, the default's
// field list. Default-ON checks are prototypePollution, pathTraversal,
// ssrfInternal; default-OFF are nosqlInjection, commandInjection.
func Effective(defaults policy.VulnerabilityConfig, route *policy.VulnerabilityConfig) Config {
	return Config{
		PrototypePollution: resolve(defaults.PrototypePollution, routeCheck(route, func(v *policy.VulnerabilityConfig) *policy.VulnerabilityCheck { return v.PrototypePollution }), true),
		PathTraversal:      resolve(defaults.PathTraversal, routeCheck(route, func(v *policy.VulnerabilityConfig) *policy.VulnerabilityCheck { return v.PathTraversal }), true),
		SSRFInternal:       resolve(defaults.SSRFInternal, routeCheck(route, func(v *policy.VulnerabilityConfig) *policy.VulnerabilityCheck { return v.SSRFInternal }), true),
		NoSQLInjection:     resolve(defaults.NoSQLInjection, routeCheck(route, func(v *policy.VulnerabilityConfig) *policy.VulnerabilityCheck { return v.NoSQLInjection }), false),
		CommandInjection:   resolve(defaults.CommandInjection, routeCheck(route, func(v *policy.VulnerabilityConfig) *policy.VulnerabilityCheck { return v.CommandInjection }), false),
	}
}

func routeCheck(route *policy.VulnerabilityConfig, pick func(*policy.VulnerabilityConfig) *policy.VulnerabilityCheck) *policy.VulnerabilityCheck {
	if route == nil {
		return nil
	}
	return pick(route)
}

func resolve(def, override *policy.VulnerabilityCheck, defaultEnabled bool) CheckConfig {
	cfg := CheckConfig{Enabled: defaultEnabled}
	if def != nil {
		if def.Enabled != nil {
			cfg.Enabled = *def.Enabled
		}
		if def.Fields != nil {
			cfg.Fields = def.Fields
		}
	}
	if override != nil {
		if override.Enabled != nil {
			cfg.Enabled = *override.Enabled
			cfg.Fields = override.Fields
		}
		if override.Fields != nil {
			cfg.Fields = override.Fields
		}
	}
	return cfg
}

func fieldScoped(cfg CheckConfig, key string) bool {
	if len(cfg.Fields) == 0 {
		return true
	}
	for _, f := range cfg.Fields {
		if equalFold(f, key) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
