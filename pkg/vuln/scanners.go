// Package vuln implements the five denylist vulnerability scanners (spec
// §4.2): prototype pollution, path traversal, SSRF, NoSQL operator
// injection, and command injection. Each is a deterministic recursive walk
// over the request's body sample and query, independent of the others.
package vuln

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/contractshield/pdp/pkg/decision"
	"github.com/contractshield/pdp/pkg/reqcontext"
)

// Scan runs all five scanners in fixed order and returns every hit they
// produce (empty scanners contribute nothing). Order within the returned
// slice is: prototypePollution, pathTraversal, ssrfInternal, nosqlInjection,
// commandInjection, each internally sorted by field path.
func Scan(ctx *reqcontext.Context, cfg Config) []decision.Hit {
	var hits []decision.Hit
	hits = append(hits, scanPrototypePollution(ctx, cfg.PrototypePollution)...)
	hits = append(hits, scanPathTraversal(ctx, cfg.PathTraversal)...)
	hits = append(hits, scanSSRFInternal(ctx, cfg.SSRFInternal)...)
	hits = append(hits, scanNoSQLInjection(ctx, cfg.NoSQLInjection)...)
	hits = append(hits, scanCommandInjection(ctx, cfg.CommandInjection)...)
	return hits
}

func bodySample(ctx *reqcontext.Context) any {
	if ctx.Request.Body.JSON == nil {
		return nil
	}
	return ctx.Request.Body.JSON.Sample
}

func queryMap(ctx *reqcontext.Context) map[string]any {
	return ctx.Request.Query
}

var protoPollutionKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

func scanPrototypePollution(ctx *reqcontext.Context, cfg CheckConfig) []decision.Hit {
	if !cfg.Enabled {
		return nil
	}

	found := map[string]string{} // path -> offending key
	walk(bodySample(ctx), "body", func(path, key string, _ any) {
		if protoPollutionKeys[key] {
			found[path] = key
		}
	})
	if q := queryMap(ctx); q != nil {
		walk(q, "query", func(path, key string, _ any) {
			if protoPollutionKeys[key] {
				found[path] = key
			}
		})
	}

	var hits []decision.Hit
	for _, path := range sortedKeys(found) {
		hits = append(hits, decision.Hit{
			ID:       "vuln.prototype_pollution",
			Severity: decision.SeverityCritical,
			Message:  fmt.Sprintf("Found '%s' key in request at %s", found[path], path),
		})
	}
	return hits
}

var traversalNeedles = []string{
	"../", "..\\",
	"%2e%2e/", "%2e%2e\\",
	"..%2f", "..%5c", "..%252f", "..%255c",
	"%c0%ae",
}

func isPathTraversal(s string) bool {
	normalized := strings.ToLower(norm.NFC.String(s))
	for _, needle := range traversalNeedles {
		if strings.Contains(normalized, needle) {
			return true
		}
	}
	// Unicode slash/backslash lookalikes (U+2215, U+2216) adjacent to a
	// literal "..", used to smuggle traversal past naive "../" filters.
	if strings.Contains(s, "..∕") || strings.Contains(s, "..∖") {
		return true
	}
	return false
}

func scanPathTraversal(ctx *reqcontext.Context, cfg CheckConfig) []decision.Hit {
	if !cfg.Enabled {
		return nil
	}

	found := map[string]bool{}

	if isPathTraversal(ctx.Request.Path) {
		found["request.path"] = true
	}

	walk(bodySample(ctx), "body", func(path, key string, value any) {
		s, ok := value.(string)
		if !ok || !fieldScoped(cfg, key) {
			return
		}
		if isPathTraversal(s) {
			found[path] = true
		}
	})
	if q := queryMap(ctx); q != nil {
		walk(q, "query", func(path, key string, value any) {
			s, ok := value.(string)
			if !ok || !fieldScoped(cfg, key) {
				return
			}
			if isPathTraversal(s) {
				found[path] = true
			}
		})
	}

	var hits []decision.Hit
	for _, path := range sortedPaths(found) {
		hits = append(hits, decision.Hit{
			ID:       "vuln.path_traversal",
			Severity: decision.SeverityCritical,
			Message:  fmt.Sprintf("Path traversal sequence detected at %s", path),
		})
	}
	return hits
}

var ssrfFieldNames = []string{
	"url", "callback", "webhook", "redirect", "next", "return_url", "returnurl",
	"return", "forward", "goto", "target", "dest", "destination", "uri", "link",
	"href", "src", "source",
}

func isSSRFFieldName(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range ssrfFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

var privateCIDRs = mustCIDRs(
	"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16",
	"::1/128",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

func isInternalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, n := range privateCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

var dangerousSchemes = map[string]bool{
	"file":   true,
	"gopher": true,
	"dict":   true,
}

func isSSRFTarget(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if dangerousSchemes[scheme] {
		return true
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if scheme == "ftp" && isInternalHost(host) {
		return true
	}
	return isInternalHost(host)
}

func scanSSRFInternal(ctx *reqcontext.Context, cfg CheckConfig) []decision.Hit {
	if !cfg.Enabled {
		return nil
	}

	found := map[string]string{} // path -> raw value

	check := func(path, key string, value any) {
		s, ok := value.(string)
		if !ok || !isSSRFFieldName(key) {
			return
		}
		if isSSRFTarget(s) {
			found[path] = s
		}
	}

	walk(bodySample(ctx), "body", check)
	if q := queryMap(ctx); q != nil {
		walk(q, "query", check)
	}

	var hits []decision.Hit
	for _, path := range sortedKeys(found) {
		hits = append(hits, decision.Hit{
			ID:       "vuln.ssrf_internal",
			Severity: decision.SeverityCritical,
			Message:  fmt.Sprintf("Potential SSRF target at %s", path),
		})
	}
	return hits
}

// mongoOperators is the fixed set of operator keys that trigger the NoSQL
// injection scanner. All begin with "$" per spec §4.2.
var mongoOperators = map[string]bool{
	"$gt": true, "$gte": true, "$lt": true, "$lte": true, "$ne": true,
	"$in": true, "$nin": true, "$or": true, "$and": true, "$not": true,
	"$nor": true, "$exists": true, "$regex": true, "$where": true,
	"$expr": true, "$jsonschema": true, "$mod": true, "$all": true,
	"$elemmatch": true, "$size": true, "$text": true, "$search": true,
}

func scanNoSQLInjection(ctx *reqcontext.Context, cfg CheckConfig) []decision.Hit {
	if !cfg.Enabled {
		return nil
	}

	found := map[string]string{}
	check := func(path, key string, _ any) {
		if strings.HasPrefix(key, "$") && mongoOperators[strings.ToLower(key)] {
			found[path] = key
		}
	}
	walk(bodySample(ctx), "body", check)
	if q := queryMap(ctx); q != nil {
		walk(q, "query", check)
	}

	var hits []decision.Hit
	for _, path := range sortedKeys(found) {
		hits = append(hits, decision.Hit{
			ID:       "vuln.nosql_injection",
			Severity: decision.SeverityHigh,
			Message:  fmt.Sprintf("Found MongoDB operator '%s' at %s", found[path], path),
		})
	}
	return hits
}

var cmdInjectionNeedles = []string{";", "|", "&", "`", "$(", "&&", "||"}
var cmdInjectionBinaries = []string{"cat ", "rm ", "wget ", "curl ", "bash ", "sh ", "nc ", "python ", "perl "}

func isCommandInjection(s string) bool {
	for _, needle := range cmdInjectionNeedles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		rest := strings.TrimLeft(s[idx+1:], " \t")
		for _, bin := range cmdInjectionBinaries {
			if strings.HasPrefix(rest, bin) {
				return true
			}
		}
	}
	return false
}

func scanCommandInjection(ctx *reqcontext.Context, cfg CheckConfig) []decision.Hit {
	if !cfg.Enabled {
		return nil
	}

	found := map[string]bool{}
	check := func(path, key string, value any) {
		s, ok := value.(string)
		if !ok || !fieldScoped(cfg, key) {
			return
		}
		if isCommandInjection(s) {
			found[path] = true
		}
	}
	walk(bodySample(ctx), "body", check)
	if q := queryMap(ctx); q != nil {
		walk(q, "query", check)
	}

	var hits []decision.Hit
	for _, path := range sortedPaths(found) {
		hits = append(hits, decision.Hit{
			ID:       "vuln.command_injection",
			Severity: decision.SeverityCritical,
			Message:  fmt.Sprintf("Shell metacharacter pattern detected at %s", path),
		})
	}
	return hits
}

func sortedKeys(m map[string]string) []string {
	b := map[string]bool{}
	for k := range m {
		b[k] = true
	}
	return sortedPaths(b)
}
