// Package celeval implements the CEL-subset expression evaluator (spec
// §4.6): equality, membership, and boolean conjunction over an environment
// built from the request context. Grounded on the teacher's
// pkg/kernel/celdp package — cel.NewEnv().Parse for the AST, and a
// restriction walk in the style of celdp's checkRecursively — but unlike
// celdp this package evaluates the restricted AST itself rather than
// handing it to a cel.Program, so it can give missing-path lookups the
// spec's typed "undefined" semantics instead of cel-go's strict-typing
// errors.
package celeval

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/contractshield/pdp/pkg/reqcontext"
)

// Evaluator is the pluggable capability named cel_evaluator in the spec's
// options (PdpOptions.cel_evaluator, §4.6, §5). Eval reports whether the
// rule's invariant holds; ok=false means the expression could not be
// evaluated (unsupported construct, or a runtime panic equivalent) and the
// caller must fail safe.
type Evaluator interface {
	Eval(expr string, env map[string]any) (holds bool, ok bool)
}

// Default is the built-in minimal evaluator described in spec §4.6.
type Default struct {
	parseEnv *cel.Env
}

// NewDefault constructs the built-in evaluator.
func NewDefault() (*Default, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("celeval: create parse env: %w", err)
	}
	return &Default{parseEnv: env}, nil
}

// Eval implements Evaluator.
func (d *Default) Eval(expr string, env map[string]any) (holds bool, ok bool) {
	ast, issues := d.parseEnv.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return false, false
	}
	e := ast.Expr() //nolint:staticcheck // deprecated but no replacement for raw AST walk
	v, evalOK := evalNode(e, env)
	b, isBool := v.(bool)
	if !evalOK || !isBool {
		return false, false
	}
	return b, true
}

// Env builds the environment map described in spec §4.6 from a request
// context.
func Env(rc *reqcontext.Context) map[string]any {
	var bodySample any
	if rc.Request.Body.JSON != nil {
		bodySample = rc.Request.Body.JSON.Sample
	}

	headers := map[string]any{}
	for k, v := range rc.Request.Headers {
		headers[k] = v
	}

	claims := map[string]any{}
	for k, v := range rc.Identity.Claims {
		claims[k] = v
	}

	scopes := make([]any, 0, len(rc.Identity.Scopes))
	for _, s := range rc.Identity.Scopes {
		scopes = append(scopes, s)
	}

	webhook := map[string]any{}
	if rc.Webhook != nil {
		webhook["provider"] = rc.Webhook.Provider
	}

	return map[string]any{
		"request": map[string]any{
			"method":       rc.Request.Method,
			"path":         rc.Request.Path,
			"route_id":     rc.Request.RouteID,
			"headers":      headers,
			"content_type": rc.Request.ContentType,
			"body": map[string]any{
				"present": rc.Request.Body.Present,
				"size_bytes": rc.Request.Body.Size,
				"json": map[string]any{
					"sample": bodySample,
				},
			},
		},
		"identity": map[string]any{
			"authenticated": rc.Identity.Authenticated,
			"subject":       rc.Identity.Subject,
			"tenant":        rc.Identity.Tenant,
			"scopes":        scopes,
			"claims":        claims,
		},
		"client": map[string]any{
			"ip":         rc.Client.IP,
			"user_agent": rc.Client.UserAgent,
		},
		"runtime": map[string]any{
			"language": rc.Runtime.Language,
			"service":  rc.Runtime.Service,
			"env":      rc.Runtime.Env,
		},
		"webhook": webhook,
	}
}

// undefined is the typed sentinel for a missing intermediate path lookup
// (spec §4.6): distinct from "", false, or nil, and never equal to
// anything via evalEquals.
type undefined struct{}

// evalNode evaluates the restricted subset (ident/select chains, equality,
// membership, "&&", string/bool/int/double/list literals). ok=false means
// the AST used a construct outside the subset.
func evalNode(e *exprpb.Expr, env map[string]any) (any, bool) {
	if e == nil {
		return nil, false
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		return constValue(k.ConstExpr), true

	case *exprpb.Expr_IdentExpr:
		v, found := env[k.IdentExpr.Name]
		if !found {
			return undefined{}, true
		}
		return v, true

	case *exprpb.Expr_SelectExpr:
		base, ok := evalNode(k.SelectExpr.Operand, env)
		if !ok {
			return nil, false
		}
		if _, isUndef := base.(undefined); isUndef {
			return undefined{}, true
		}
		m, isMap := base.(map[string]any)
		if !isMap {
			return undefined{}, true
		}
		v, found := m[k.SelectExpr.Field]
		if !found {
			return undefined{}, true
		}
		return v, true

	case *exprpb.Expr_ListExpr:
		vals := make([]any, 0, len(k.ListExpr.Elements))
		for _, el := range k.ListExpr.Elements {
			v, ok := evalNode(el, env)
			if !ok {
				return nil, false
			}
			vals = append(vals, v)
		}
		return vals, true

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "_==_":
			if len(call.Args) != 2 {
				return nil, false
			}
			lhs, ok1 := evalNode(call.Args[0], env)
			rhs, ok2 := evalNode(call.Args[1], env)
			if !ok1 || !ok2 {
				return nil, false
			}
			return evalEquals(lhs, rhs), true

		case "_&&_":
			if len(call.Args) != 2 {
				return nil, false
			}
			lhs, ok1 := evalNode(call.Args[0], env)
			rhs, ok2 := evalNode(call.Args[1], env)
			if !ok1 || !ok2 {
				return nil, false
			}
			lb, lok := lhs.(bool)
			rb, rok := rhs.(bool)
			if !lok || !rok {
				return nil, false
			}
			return lb && rb, true

		case "@in":
			if len(call.Args) != 2 {
				return nil, false
			}
			lhs, ok1 := evalNode(call.Args[0], env)
			list, ok2 := evalNode(call.Args[1], env)
			if !ok1 || !ok2 {
				return nil, false
			}
			items, isList := list.([]any)
			if !isList {
				return nil, false
			}
			if _, isUndef := lhs.(undefined); isUndef {
				return false, true
			}
			for _, item := range items {
				if evalEquals(lhs, item) {
					return true, true
				}
			}
			return false, true

		default:
			return nil, false
		}

	default:
		return nil, false
	}
}

func constValue(c *exprpb.Constant) any {
	switch v := c.ConstantKind.(type) {
	case *exprpb.Constant_BoolValue:
		return v.BoolValue
	case *exprpb.Constant_StringValue:
		return v.StringValue
	case *exprpb.Constant_Int64Value:
		return v.Int64Value
	case *exprpb.Constant_Uint64Value:
		return v.Uint64Value
	case *exprpb.Constant_DoubleValue:
		return v.DoubleValue
	case *exprpb.Constant_NullValue:
		return nil
	default:
		return nil
	}
}

// evalEquals implements comparisons against undefined always being false
// (spec §4.6). Otherwise two values are equal when their fmt.Sprint forms
// match and, for bools and strings, both sides have that same type;
// numbers of different Go types compare by printed value, so an int64
// literal 1 equals a float64 1 decoded from JSON.
func evalEquals(a, b any) bool {
	if _, isUndef := a.(undefined); isUndef {
		return false
	}
	if _, isUndef := b.(undefined); isUndef {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case bool:
		_, ok := b.(bool)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	default:
		return true
	}
}
