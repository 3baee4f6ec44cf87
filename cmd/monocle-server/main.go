package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/monocle/internal/httpapi"
	"github.com/agentworkforce/monocle/internal/remote"
)

type serverConfig struct {
	Addr            string
	DatabaseDSN     string
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

func main() {
	_ = godotenv.Load()
	printToken := flag.String("print-token", "", "print a signed token for this user id and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of a token minted with -print-token")
	flag.Parse()

	logger, err := newLogger(envOrDefault("MONOCLE_LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log configuration: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	cfg := loadServerConfig()

	if strings.TrimSpace(*printToken) != "" {
		secret := cfg.JWTSecret
		if secret == "" {
			secret = httpapi.DevJWTSecret
		}
		token, err := httpapi.SignToken(secret, httpapi.TokenRequest{
			Subject: strings.TrimSpace(*printToken),
			Scopes:  []string{httpapi.ScopeProgressRead, httpapi.ScopeProgressWrite},
			Expires: time.Now().Add(*tokenTTL),
		})
		if err != nil {
			logger.Fatal("failed to sign token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func loadServerConfig() serverConfig {
	return serverConfig{
		Addr:            envOrDefault("MONOCLE_ADDR", ":8080"),
		DatabaseDSN:     envOrDefault("MONOCLE_DATABASE_DSN", "memory://"),
		JWTSecret:       strings.TrimSpace(os.Getenv("MONOCLE_JWT_SECRET")),
		RateLimitMax:    intEnv("MONOCLE_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("MONOCLE_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("MONOCLE_MAX_BODY_BYTES", 0),
	}
}

func run(ctx context.Context, cfg serverConfig, logger *zap.Logger) error {
	repo, err := remote.OpenRepository(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer func() { _ = repo.Close() }()
	if cfg.JWTSecret == "" {
		logger.Warn("MONOCLE_JWT_SECRET is unset, using the development secret")
	}

	handler := httpapi.NewServerWithConfig(repo, httpapi.ServerConfig{
		JWTSecret:       cfg.JWTSecret,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		Logger:          logger,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("monocle-server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("monocle-server stopping")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		zap.L().Warn("invalid integer setting, using fallback", zap.String("name", name), zap.String("value", raw), zap.Int("fallback", fallback))
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		zap.L().Warn("invalid integer setting, using fallback", zap.String("name", name), zap.String("value", raw), zap.Int64("fallback", fallback))
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		zap.L().Warn("invalid duration setting, using fallback", zap.String("name", name), zap.String("value", raw), zap.Duration("fallback", fallback))
		return fallback
	}
	return value
}
