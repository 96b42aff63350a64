package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsMapKeys(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "c": 3}
	out, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestMarshal_NestedMapsSortAtEveryLevel(t *testing.T) {
	v := map[string]any{
		"z": map[string]any{"y": 1, "x": 2},
		"a": 1,
	}
	out, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"z":{"x":2,"y":1}}`, string(out))
}

func TestMarshal_PreservesArrayOrder(t *testing.T) {
	v := []any{3, 1, 2}
	out, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `[3,1,2]`, string(out))
}

func TestMarshal_DisablesHTMLEscaping(t *testing.T) {
	v := map[string]any{"path": "/a/b?x=1&y=2"}
	out, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"path":"/a/b?x=1&y=2"}`, string(out))
}

func TestMarshal_IsDeterministicAcrossCalls(t *testing.T) {
	v := map[string]any{"k1": "v1", "k2": []any{1, 2, 3}, "k3": map[string]any{"nested": true}}
	out1, err := Marshal(v)
	require.NoError(t, err)
	out2, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, out1, out2)
}

func TestHash_IsStableForEquivalentInput(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": 2}
	v2 := map[string]any{"b": 2, "a": 1} // different construction order
	h1, err := Hash(v1)
	require.NoError(t, err)
	h2, err := Hash(v2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Contains(t, h1, "sha256:")
}

func TestHash_DiffersForDifferentInput(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestMarshal_NullAndBooleans(t *testing.T) {
	out, err := Marshal(map[string]any{"n": nil, "t": true, "f": false})
	require.NoError(t, err)
	require.Equal(t, `{"f":false,"n":null,"t":true}`, string(out))
}
