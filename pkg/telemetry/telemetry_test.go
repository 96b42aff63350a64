package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilProviderIsSafeNoOp(t *testing.T) {
	var p *Provider

	ctx, span := p.StartStage(context.Background(), "vuln_scan")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()

	require.NotPanics(t, func() {
		p.RecordDecision(context.Background(), "route-1", "BLOCK", time.Millisecond)
		p.RecordHit(context.Background(), "vuln.path_traversal", "high")
	})
}

func TestDisabledProviderIsSafeNoOp(t *testing.T) {
	p, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, span := p.StartStage(context.Background(), "limits")
	require.NotNil(t, ctx)
	span.End()

	require.NotPanics(t, func() {
		p.RecordDecision(context.Background(), "route-1", "ALLOW", time.Microsecond)
		p.RecordHit(context.Background(), "route.unmatched", "med")
	})

	require.NoError(t, p.Shutdown(context.Background()))
}
