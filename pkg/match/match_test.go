package match

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/contractshield/pdp/pkg/policy"
)

func TestRoute_ExactMatch(t *testing.T) {
	routes := []policy.Route{
		{ID: "a", Match: policy.Match{Method: "GET", Path: "/a"}},
		{ID: "b", Match: policy.Match{Method: "POST", Path: "/b"}},
	}
	res := Route(routes, "POST", "/b", "")
	require.True(t, res.Matched)
	require.Equal(t, "b", res.Route.ID)
}

func TestRoute_FallsBackToRouteID(t *testing.T) {
	routes := []policy.Route{
		{ID: "a", Match: policy.Match{Method: "GET", Path: "/a"}},
	}
	res := Route(routes, "POST", "/unknown-path", "a")
	require.True(t, res.Matched)
	require.Equal(t, "a", res.Route.ID)
}

func TestRoute_ExactMatchTakesPriorityOverRouteID(t *testing.T) {
	routes := []policy.Route{
		{ID: "a", Match: policy.Match{Method: "GET", Path: "/a"}},
		{ID: "b", Match: policy.Match{Method: "POST", Path: "/b"}},
	}
	res := Route(routes, "POST", "/b", "a")
	require.True(t, res.Matched)
	require.Equal(t, "b", res.Route.ID)
}

func TestRoute_Unmatched(t *testing.T) {
	routes := []policy.Route{
		{ID: "a", Match: policy.Match{Method: "GET", Path: "/a"}},
	}
	res := Route(routes, "GET", "/nope", "")
	require.False(t, res.Matched)
	require.Nil(t, res.Route)
}

func TestRoute_EmptyRouteSetIsUnmatched(t *testing.T) {
	res := Route(nil, "GET", "/a", "")
	require.False(t, res.Matched)
}
