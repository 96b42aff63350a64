package jsonmetrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDepth_Scalar(t *testing.T) {
	require.Equal(t, 1, Depth("hello"))
	require.Equal(t, 1, Depth(42))
	require.Equal(t, 1, Depth(nil))
}

func TestDepth_EmptyContainers(t *testing.T) {
	require.Equal(t, 2, Depth(map[string]any{}))
	require.Equal(t, 2, Depth([]any{}))
}

func TestDepth_NestedObject(t *testing.T) {
	v := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "leaf",
			},
		},
	}
	require.Equal(t, 4, Depth(v))
}

func TestDepth_NestedArray(t *testing.T) {
	v := []any{[]any{[]any{1}}}
	require.Equal(t, 4, Depth(v))
}

func TestDepth_TakesMaxAcrossSiblings(t *testing.T) {
	v := map[string]any{
		"shallow": "x",
		"deep":    map[string]any{"a": map[string]any{"b": 1}},
	}
	require.Equal(t, 4, Depth(v))
}

func TestMaxArrayLength_FindsDeepestLargestArray(t *testing.T) {
	v := map[string]any{
		"small": []any{1, 2},
		"nested": map[string]any{
			"big": []any{1, 2, 3, 4, 5},
		},
	}
	require.Equal(t, 5, MaxArrayLength(v))
}

func TestMaxArrayLength_NoArraysReturnsZero(t *testing.T) {
	require.Equal(t, 0, MaxArrayLength(map[string]any{"a": "b"}))
	require.Equal(t, 0, MaxArrayLength("scalar"))
}

func TestMaxArrayLength_ArrayOfArraysConsidersEachLevel(t *testing.T) {
	v := []any{
		[]any{1, 2, 3},
		[]any{1},
	}
	require.Equal(t, 3, MaxArrayLength(v))
}
