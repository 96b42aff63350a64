package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveRouteSecret_DeterministicForSameInputs(t *testing.T) {
	master := []byte("a-sufficiently-long-master-secret")
	s1, err := DeriveRouteSecret(master, "stripe", "route-1")
	require.NoError(t, err)
	s2, err := DeriveRouteSecret(master, "stripe", "route-1")
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.Len(t, s1, 64) // 32 bytes hex-encoded
}

func TestDeriveRouteSecret_DiffersByRoute(t *testing.T) {
	master := []byte("a-sufficiently-long-master-secret")
	s1, err := DeriveRouteSecret(master, "stripe", "route-1")
	require.NoError(t, err)
	s2, err := DeriveRouteSecret(master, "stripe", "route-2")
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestDeriveRouteSecret_DiffersByProvider(t *testing.T) {
	master := []byte("a-sufficiently-long-master-secret")
	s1, err := DeriveRouteSecret(master, "stripe", "route-1")
	require.NoError(t, err)
	s2, err := DeriveRouteSecret(master, "github", "route-1")
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestDeriveSecretResolver_ResolvesThroughCallback(t *testing.T) {
	master := []byte("a-sufficiently-long-master-secret")
	resolver := DeriveSecretResolver(master)

	direct, err := DeriveRouteSecret(master, "slack", "route-9")
	require.NoError(t, err)

	viaResolver, err := resolver(context.Background(), "slack", "route-9", nil)
	require.NoError(t, err)
	require.Equal(t, direct, viaResolver)
}
