package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/contractshield/pdp/pkg/reqcontext"
)

// routeSecretSalt is the fixed HKDF salt. The per-route HKDF "info" is
// "<provider>:<routeID>" (built in DeriveRouteSecret), so each
// (provider, routeID) pair gets its own secret from one master secret.
const routeSecretSalt = "contractshield-webhook-kdf"

// DeriveRouteSecret derives a 32-byte hex-encoded signing secret unique to
// (provider, routeID) from a single master secret via HKDF-SHA256, so one
// master secret can back every route's webhook instead of provisioning a
// secret per route/provider pair. Grounded on the teacher's
// pkg/governance/keyring.go per-tenant subkey derivation
// (hkdf.New(sha256.New, seed, salt, info)).
func DeriveRouteSecret(masterSecret []byte, provider, routeID string) (string, error) {
	info := []byte(provider + ":" + routeID)
	reader := hkdf.New(sha256.New, masterSecret, []byte(routeSecretSalt), info)

	sub := make([]byte, 32)
	if _, err := io.ReadFull(reader, sub); err != nil {
		return "", fmt.Errorf("webhook: derive route secret: %w", err)
	}
	return hex.EncodeToString(sub), nil
}

// DeriveSecretResolver returns a SecretResolver backed by DeriveRouteSecret,
// for hosts that would rather manage one master secret than provision a
// secret per route/provider pair.
func DeriveSecretResolver(masterSecret []byte) SecretResolver {
	return func(_ context.Context, provider, routeID string, _ *reqcontext.Context) (string, error) {
		return DeriveRouteSecret(masterSecret, provider, routeID)
	}
}
