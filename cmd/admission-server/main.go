// Package main is the entry point for the admission server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/car-platform/go-core/internal/api"
	"github.com/car-platform/go-core/internal/audit"
	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/auth/jwks"
	"github.com/car-platform/go-core/internal/auth/serviceaccount"
	"github.com/car-platform/go-core/internal/config"
	"github.com/car-platform/go-core/internal/controlplane"
	"github.com/car-platform/go-core/internal/crypto"
	"github.com/car-platform/go-core/internal/metrics"
	"github.com/car-platform/go-core/internal/tenant"
)

// Version information (set at build time).
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	var (
		showVersion     = flag.Bool("version", false, "Show version information")
		migrateUp       = flag.Bool("migrate", false, "Apply control-plane migrations and exit")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("admission-server %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting admission server",
		zap.String("version", Version),
		zap.String("auth_domain", cfg.AuthDomain),
		zap.String("api_prefix", cfg.APIPathPrefix),
		zap.Duration("tenant_cache_ttl", cfg.TenantCacheTTL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cpStore, err := controlplane.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Control plane connection failed", zap.Error(err))
	}
	defer cpStore.Close()

	if *migrateUp {
		runMigrations(cpStore, logger)
		return
	}

	decryptor, err := crypto.NewDecryptor(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal("Encryption key rejected", zap.Error(err))
	}

	keys, err := jwks.NewProvider(ctx, jwks.Config{
		URL:    cfg.JWKSURI,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("JWKS provider init failed", zap.Error(err))
	}

	tokenStore, err := serviceaccount.NewPostgresStore(cpStore.DB())
	if err != nil {
		logger.Fatal("Service account store init failed", zap.Error(err))
	}

	var revocations *serviceaccount.RevocationCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("REDIS_URL rejected", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer client.Close()

		revocations, err = serviceaccount.NewRevocationCache(ctx, client, 0, logger)
		if err != nil {
			logger.Fatal("Revocation cache init failed", zap.Error(err))
		}
		defer revocations.Close()
	}

	validatorCfg := auth.ValidatorConfig{
		Audience:   cfg.Audience,
		Algorithms: []string{cfg.Algorithm},
		Keys:       keys,
		Tokens:     tokenStore,
		Logger:     logger,
	}
	if revocations != nil {
		validatorCfg.Revocations = revocations
	}
	validator, err := auth.NewValidator(validatorCfg)
	if err != nil {
		logger.Fatal("Validator init failed", zap.Error(err))
	}

	m := metrics.New(config.DefaultMetricsNS)

	resolver, err := tenant.NewResolver(tenant.Config{
		Store:     cpStore,
		Decryptor: decryptor,
		TTL:       cfg.TenantCacheTTL,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Tenant resolver init failed", zap.Error(err))
	}
	defer resolver.Close()

	auditLogger := initAudit(cfg, logger)
	defer auditLogger.Close()

	serverCfg := api.ServerConfig{
		Addr:       cfg.Addr(),
		PathPrefix: cfg.APIPathPrefix,
		Version:    Version,
		Validator:  validator,
		Resolver:   resolver,
		TokenStore: tokenStore,
		Audit:      auditLogger,
		Metrics:    m,
		Logger:     logger,
	}
	if revocations != nil {
		serverCfg.Revocations = revocations
	}
	srv, err := api.NewServer(serverCfg)
	if err != nil {
		logger.Fatal("Server init failed", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *gracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Admission server stopped")
}

func runMigrations(cpStore *controlplane.PostgresStore, logger *zap.Logger) {
	runner, err := controlplane.NewMigrationRunner(cpStore.DB(), logger)
	if err != nil {
		logger.Fatal("Migration runner init failed", zap.Error(err))
	}
	if err := runner.Up(); err != nil {
		logger.Fatal("Migrations failed", zap.Error(err))
	}
	_ = runner.Close()
}

func initAudit(cfg *config.Config, logger *zap.Logger) audit.Logger {
	writer := audit.NewStdoutWriter()
	if cfg.AuditLogPath != "" {
		fw, err := audit.NewFileWriter(cfg.AuditLogPath, 100, 30, 10)
		if err != nil {
			logger.Fatal("Audit log init failed", zap.Error(err))
		}
		writer = fw
	}
	return audit.NewLogger(writer, audit.Config{})
}

func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return zcfg.Build()
}
