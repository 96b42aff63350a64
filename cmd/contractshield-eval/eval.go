package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq" // postgres driver, registered for --postgres-dsn

	"github.com/contractshield/pdp/pkg/config"
	"github.com/contractshield/pdp/pkg/decision"
	"github.com/contractshield/pdp/pkg/pdp"
	"github.com/contractshield/pdp/pkg/policy"
	"github.com/contractshield/pdp/pkg/ratelimit"
	"github.com/contractshield/pdp/pkg/replaystore"
	"github.com/contractshield/pdp/pkg/reqcontext"
	"github.com/contractshield/pdp/pkg/schemaloader"
	"github.com/contractshield/pdp/pkg/webhook"
)

var (
	flagPolicyPath  string
	flagRequestPath string
	flagDevJWT      string
)

// cliLimiter is process-global because rate-limit state must persist across
// eval invocations sharing a process, not be scoped per-call like pdp.Options.
var cliLimiter *ratelimit.Limiter

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate one request-context fixture against a policy document",
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringVar(&flagPolicyPath, "policy", "", "path to a policy document (YAML or JSON) (required)")
	evalCmd.Flags().StringVar(&flagRequestPath, "request", "", "path to a RequestContext fixture (JSON) (required)")
	evalCmd.Flags().StringVar(&flagDevJWT, "dev-jwt", "", "unverified dev-convenience JWT; its claims populate identity.* when the fixture omits them")
	_ = evalCmd.MarkFlagRequired("policy")
	_ = evalCmd.MarkFlagRequired("request")
}

func runEval(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	cfg := config.Load()
	logger := slog.Default()

	ps, err := loadPolicy(flagPolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	rc, err := loadRequestContext(flagRequestPath)
	if err != nil {
		return fmt.Errorf("load request context: %w", err)
	}
	if flagDevJWT != "" {
		applyDevJWT(rc, flagDevJWT)
	}
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}

	opts := pdp.Options{
		Logger: logger,
	}
	if cfg.SchemaFSRoot != "" {
		opts.SchemaLoader = schemaloader.FS(cfg.SchemaFSRoot)
	}
	if store, closeFn, err := buildReplayStore(ctx, cfg, logger); err != nil {
		logger.Warn("replay store unavailable, replay protection disabled", "error", err)
	} else if store != nil {
		opts.ReplayStore = store
		if closeFn != nil {
			defer closeFn()
		}
	}
	opts.GetSecret = buildSecretResolver(cfg)

	if limited, key := rateLimited(cfg, rc); limited {
		d := &decision.Decision{
			Version:    "0.1",
			Action:     decision.ActionBlock,
			StatusCode: 429,
			Reason:     fmt.Sprintf("rate limit exceeded for %q", key),
			RuleHits:   []decision.Hit{{ID: "ratelimit.exceeded", Severity: decision.SeverityMed, Message: "request rate limit exceeded"}},
			Risk:       decision.ComputeRisk([]decision.Hit{{ID: "ratelimit.exceeded", Severity: decision.SeverityMed}}),
		}
		out, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
		cmd.OutOrStdout().Write(out)
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}

	d := pdp.Evaluate(ctx, ps, rc, opts)

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	cmd.OutOrStdout().Write(out)
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func loadPolicy(path string) (*policy.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".json") {
		return policy.ParseJSON(data)
	}
	return policy.ParseYAML(data)
}

func loadRequestContext(path string) (*reqcontext.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rc reqcontext.Context
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// applyDevJWT parses (without verifying) a bearer token's claims and uses
// them to fill in identity fields the fixture left unset. It exists purely
// so local fixtures can be authored against real-looking tokens instead of
// hand-written identity blocks; production hosts perform their own
// verification upstream of the PDP.
func applyDevJWT(rc *reqcontext.Context, token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	if rc.Identity.Subject == "" {
		if sub, ok := claims["sub"].(string); ok {
			rc.Identity.Subject = sub
			rc.Identity.Authenticated = true
		}
	}
	if rc.Identity.Tenant == "" {
		if tenant, ok := claims["tenant_id"].(string); ok {
			rc.Identity.Tenant = tenant
		}
	}
	if len(rc.Identity.Scopes) == 0 {
		if scopes, ok := claims["scopes"].([]any); ok {
			for _, s := range scopes {
				if str, ok := s.(string); ok {
					rc.Identity.Scopes = append(rc.Identity.Scopes, str)
				}
			}
		}
	}
	if rc.Identity.Claims == nil {
		rc.Identity.Claims = map[string]any(claims)
	}
}

// envSecretResolver is the get_secret callback used by the CLI: it looks up
// CONTRACTSHIELD_WEBHOOK_SECRET_<PROVIDER>_<ROUTE_ID> first, falling back to
// CONTRACTSHIELD_WEBHOOK_SECRET_<PROVIDER>, mirroring the env-first posture
// of the rest of the ambient config surface.
func envSecretResolver(_ context.Context, provider, routeID string, _ *reqcontext.Context) (string, error) {
	norm := func(s string) string {
		return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	}
	if v := os.Getenv(fmt.Sprintf("CONTRACTSHIELD_WEBHOOK_SECRET_%s_%s", norm(provider), norm(routeID))); v != "" {
		return v, nil
	}
	if v := os.Getenv(fmt.Sprintf("CONTRACTSHIELD_WEBHOOK_SECRET_%s", norm(provider))); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no secret configured for provider %q route %q", provider, routeID)
}

// buildSecretResolver prefers per-route environment variables and falls back
// to deriving a secret from CONTRACTSHIELD_WEBHOOK_MASTER_SECRET via HKDF
// (pkg/webhook.DeriveSecretResolver) when set, so a deployment can provision
// either one secret per route or a single master secret for all of them.
func buildSecretResolver(cfg *config.Config) webhook.SecretResolver {
	if cfg.WebhookMasterSecretHex == "" {
		return envSecretResolver
	}
	master, err := hex.DecodeString(cfg.WebhookMasterSecretHex)
	if err != nil {
		return envSecretResolver
	}
	derived := webhook.DeriveSecretResolver(master)
	return func(ctx context.Context, provider, routeID string, rc *reqcontext.Context) (string, error) {
		if secret, err := envSecretResolver(ctx, provider, routeID, rc); err == nil {
			return secret, nil
		}
		return derived(ctx, provider, routeID, rc)
	}
}

// rateLimited applies the optional CLI-level rate limiter keyed by tenant
// (falling back to the request ID when identity.tenant is empty), ahead of
// pdp.Evaluate. It returns false when RateLimitRPS <= 0 (the default), since
// the limiter is an ambient host-layer concern (pkg/ratelimit), not part of
// the pure evaluation pipeline.
func rateLimited(cfg *config.Config, rc *reqcontext.Context) (bool, string) {
	if cfg.RateLimitRPS <= 0 {
		return false, ""
	}
	if cliLimiter == nil {
		cliLimiter = ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	key := rc.Identity.Tenant
	if key == "" {
		key = rc.ID
	}
	return !cliLimiter.Allow(key), key
}

// buildReplayStore wires a replay backend from config, preferring Postgres,
// then Redis, falling back to the in-memory reference store (with a nil
// close function) when neither is configured.
func buildReplayStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (replaystore.Store, func(), error) {
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return replaystore.NewPostgresStore(db, cfg.PostgresTable, logger), func() { db.Close() }, nil
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		return replaystore.NewRedisStore(client, logger), func() { client.Close() }, nil
	}
	return replaystore.NewMemoryStore(), nil, nil
}
