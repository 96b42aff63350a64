// Package match implements the PDP's route matcher (spec §4.1): exact
// (method, path) comparison with a route-id fallback for unmatched
// requests, and no templating or prefix matching in v0.1.
package match

import "github.com/contractshield/pdp/pkg/policy"

// Result is the outcome of matching a request against a policy's routes.
type Result struct {
	Route   *policy.Route
	Matched bool
}

// Route returns the first route whose match.method/match.path are equal to
// the request's, falling back to the route named by routeID, and finally
// reporting Matched=false when neither succeeds.
func Route(routes []policy.Route, method, path, routeID string) Result {
	for i := range routes {
		r := &routes[i]
		if r.Match.Method == method && r.Match.Path == path {
			return Result{Route: r, Matched: true}
		}
	}

	if routeID != "" {
		for i := range routes {
			if routes[i].ID == routeID {
				return Result{Route: &routes[i], Matched: true}
			}
		}
	}

	return Result{Matched: false}
}
