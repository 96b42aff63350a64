// Package limits implements the quantitative limit checker (spec §4.3):
// body size, JSON structural depth, and max array length.
package limits

import (
	"fmt"

	"github.com/contractshield/pdp/pkg/decision"
	"github.com/contractshield/pdp/pkg/jsonmetrics"
	"github.com/contractshield/pdp/pkg/policy"
	"github.com/contractshield/pdp/pkg/reqcontext"
)

// Effective resolves route.limits[x] ?? defaults.limits[x] ?? unlimited.
func Effective(route *policy.Limits, defaults policy.Limits) policy.Limits {
	eff := defaults
	if route == nil {
		return eff
	}
	if route.MaxBodyBytes != nil {
		eff.MaxBodyBytes = route.MaxBodyBytes
	}
	if route.MaxJSONDepth != nil {
		eff.MaxJSONDepth = route.MaxJSONDepth
	}
	if route.MaxArrayLength != nil {
		eff.MaxArrayLength = route.MaxArrayLength
	}
	return eff
}

// Check runs the three bounds against the request and returns any hits, in
// the fixed order: body size, depth, array length.
func Check(ctx *reqcontext.Context, lim policy.Limits) []decision.Hit {
	var hits []decision.Hit

	if lim.MaxBodyBytes != nil && ctx.Request.Body.Size > *lim.MaxBodyBytes {
		hits = append(hits, decision.Hit{
			ID:       "limit.body.max",
			Severity: decision.SeverityHigh,
			Message:  fmt.Sprintf("body size %d bytes exceeds max_body_bytes %d", ctx.Request.Body.Size, *lim.MaxBodyBytes),
		})
	}

	var sample any
	if ctx.Request.Body.JSON != nil {
		sample = ctx.Request.Body.JSON.Sample
	}

	if lim.MaxJSONDepth != nil && sample != nil {
		depth := jsonmetrics.Depth(sample)
		if depth > *lim.MaxJSONDepth {
			hits = append(hits, decision.Hit{
				ID:       "limit.json.depth",
				Severity: decision.SeverityHigh,
				Message:  fmt.Sprintf("json depth %d exceeds max_json_depth %d", depth, *lim.MaxJSONDepth),
			})
		}
	}

	if lim.MaxArrayLength != nil && sample != nil {
		maxLen := jsonmetrics.MaxArrayLength(sample)
		if maxLen > *lim.MaxArrayLength {
			hits = append(hits, decision.Hit{
				ID:       "limit.array.max",
				Severity: decision.SeverityHigh,
				Message:  fmt.Sprintf("array length %d exceeds max_array_length %d", maxLen, *lim.MaxArrayLength),
			})
		}
	}

	return hits
}
