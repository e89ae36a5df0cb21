package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/paylabs/reportflow/internal/agent"
	"github.com/paylabs/reportflow/internal/auth"
	"github.com/paylabs/reportflow/internal/config"
	"github.com/paylabs/reportflow/internal/narrative"
	"github.com/paylabs/reportflow/internal/ratelimit"
	"github.com/paylabs/reportflow/internal/server"
	"github.com/paylabs/reportflow/internal/skill"
	"github.com/paylabs/reportflow/internal/telemetry"
	"github.com/paylabs/reportflow/internal/tool"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("REPORTFLOW_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("agentd starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Discover remote tools. A tool server that is down at startup is a
	// hard error: every workflow step depends on it.
	registry, err := tool.NewRegistry(ctx, cfg.MCPURL, version, logger)
	if err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}
	defer func() { _ = registry.Close() }()
	logger.Info("tool registry ready", "url", cfg.MCPURL, "tools", registry.Count())

	adapter := tool.NewAdapter(registry, logger)

	// Load the skill document (instructions + evidence query config).
	sk := skill.Load(cfg.SkillPath, logger)
	logger.Info("skill loaded",
		"path", cfg.SkillPath,
		"evidence_queries", len(sk.Config.EvidenceQueries))

	// Narrative model. Without an API key the generator falls back to
	// deterministic templates, which keeps report runs fully offline.
	var model narrative.Model
	if cfg.OpenAIAPIKey != "" {
		model = narrative.NewOpenAIModel(cfg.OpenAIAPIKey, cfg.ModelBaseURL, cfg.Model)
		logger.Info("narrative model: openai", "model", cfg.Model)
	} else {
		logger.Info("narrative model: disabled (template fallback only)")
	}
	gen := narrative.New(model, sk, logger)

	runner := agent.New(adapter, gen, sk.Config.EvidenceQueries, logger)

	// Auth. Disabled entirely when no API key is configured.
	var jwtMgr *auth.JWTManager
	var apiKeyHash string
	if cfg.APIKey != "" {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		apiKeyHash, err = auth.HashAPIKey(cfg.APIKey)
		if err != nil {
			return fmt.Errorf("auth: hash api key: %w", err)
		}
	} else {
		logger.Warn("auth: disabled (no AGENT_API_KEY configured)")
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.Config{
		Runner:              runner,
		Tools:               registry,
		JWTManager:          jwtMgr,
		APIKeyHash:          apiKeyHash,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("agentd shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("agentd stopped")
	return nil
}
