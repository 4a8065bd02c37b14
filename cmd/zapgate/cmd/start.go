package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zapgate/zapgate/internal/adapter/inbound/http"
	"github.com/zapgate/zapgate/internal/adapter/outbound/memory"
	"github.com/zapgate/zapgate/internal/adapter/outbound/sqlite"
	"github.com/zapgate/zapgate/internal/adapter/outbound/state"
	"github.com/zapgate/zapgate/internal/adapter/outbound/wuzapi"
	"github.com/zapgate/zapgate/internal/config"
	"github.com/zapgate/zapgate/internal/domain/impersonation"
	"github.com/zapgate/zapgate/internal/domain/session"
	"github.com/zapgate/zapgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the ZapGate proxy.

The gateway listens on server.http_addr and forwards /user and /admin
traffic to the configured upstream. Sessions are registered by the
dashboard backend via POST /internal/sessions.

Examples:
  # Start with config file settings
  zapgate start

  # Start with a specific config file
  zapgate --config /path/to/config.yaml start

  # Development mode: in-memory stores seeded with a demo tenant
  zapgate start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, seeded demo data)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so the --dev flag can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("zapgate stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled; do not use in production")
	}

	// Persistence: SQLite when configured, in-memory otherwise.
	var (
		impStore impersonation.Store
		tenants  impersonation.TenantDirectory
		pinger   http.Pinger
	)
	if cfg.Store.SQLitePath != "" {
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() { _ = db.Close() }()
		impStore = db.Impersonations()
		tenants = db.Tenants()
		pinger = db
		logger.Info("store: sqlite", "path", cfg.Store.SQLitePath)
	} else {
		memTenants := memory.NewTenantDirectory()
		if cfg.DevMode {
			seedDevTenants(memTenants, logger)
		}
		impStore = memory.NewImpersonationStore()
		tenants = memTenants
		logger.Info("store: in-memory")
	}

	// Sessions are ephemeral and registered by the dashboard backend.
	sessionStore := memory.NewSessionStore()
	sessionStore.StartCleanup(ctx)
	defer sessionStore.Stop()
	if cfg.DevMode {
		seedDevSessions(ctx, sessionStore, cfg.SessionTimeout(), logger)
	}

	authority := session.NewAuthority(sessionStore, cfg.Cache.IdentityMax, cfg.IdentityTTL(), logger)
	defer authority.Close()

	mirror := state.NewFileMirror(cfg.Impersonation.MirrorPath, logger)

	overlay := impersonation.NewOverlay(impStore, mirror, tenants, impersonation.Config{
		SettleDelay:    cfg.SettleDelay(),
		MaxDuration:    cfg.MaxImpersonationDuration(),
		TenantCacheTTL: cfg.TenantCacheTTL(),
	}, logger)
	defer overlay.Close()

	upstream := wuzapi.NewClient(cfg.Upstream.BaseURL, cfg.UpstreamTimeout(), logger)
	proxySvc := service.NewProxyService(authority, overlay, upstream, cfg.Upstream.AdminToken, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(reg)
	http.RegisterIdentityCache(reg, authority.CacheStats)
	http.RegisterActiveImpersonations(reg, impStore.ActiveCount)

	healthChecker := http.NewHealthChecker(authority, pinger, Version)

	handler := http.NewHandler(proxySvc, authority, sessionStore, overlay, metrics, cfg.SessionTimeout(), logger)

	root := stdhttp.NewServeMux()
	root.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	root.Handle("/", handler.Routes(healthChecker.Handler()))

	server := &stdhttp.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           http.RequestIDMiddleware(logger)(root),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("zapgate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"upstream", cfg.Upstream.BaseURL,
		"upstream_timeout", cfg.UpstreamTimeout(),
		"mirror_path", cfg.Impersonation.MirrorPath,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// seedDevTenants populates the in-memory tenant directory with demo data
// so impersonation can be exercised without a database.
func seedDevTenants(dir *memory.TenantDirectory, logger *slog.Logger) {
	dir.Upsert(&impersonation.Tenant{
		ID:        "demo",
		Name:      "Demo Tenant",
		Subdomain: "demo",
		Token:     "demo-tenant-token",
	})
	logger.Info("seeded dev tenant", "tenant_id", "demo")
}

// seedDevSessions registers well-known dev sessions: a superadmin
// operator and a regular user.
func seedDevSessions(ctx context.Context, store *memory.SessionStore, ttl time.Duration, logger *slog.Logger) {
	now := time.Now().UTC()
	for _, sess := range []*session.Session{
		{
			ID:         "dev-superadmin",
			Role:       session.RoleSuperadmin,
			AccountID:  "dev-operator",
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
			LastAccess: now,
		},
		{
			ID:         "dev-user",
			Role:       session.RoleUser,
			UserToken:  "demo-user-token",
			AccountID:  "dev-user-account",
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
			LastAccess: now,
		},
	} {
		if err := store.Create(ctx, sess); err != nil {
			logger.Warn("failed to seed dev session", "handle", sess.ID, "error", err)
			continue
		}
		logger.Info("seeded dev session", "handle", sess.ID, "role", string(sess.Role))
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
