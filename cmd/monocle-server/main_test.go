package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("MONOCLE_TEST_INT", "42")
	if got := intEnv("MONOCLE_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MONOCLE_TEST_INT_BAD", "not-a-number")
	if got := intEnv("MONOCLE_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MONOCLE_TEST_DURATION_BAD", "soon")
	if got := durationEnv("MONOCLE_TEST_DURATION_BAD", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	for _, name := range []string{"MONOCLE_ADDR", "MONOCLE_DATABASE_DSN", "MONOCLE_JWT_SECRET", "MONOCLE_RATE_LIMIT_MAX", "MONOCLE_RATE_LIMIT_WINDOW", "MONOCLE_MAX_BODY_BYTES"} {
		t.Setenv(name, "")
	}
	cfg := loadServerConfig()
	if cfg.Addr != ":8080" || cfg.DatabaseDSN != "memory://" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RateLimitMax != 0 || cfg.RateLimitWindow != time.Minute || cfg.MaxBodyBytes != 0 {
		t.Fatalf("unexpected limit defaults: %+v", cfg)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("MONOCLE_ADDR", "127.0.0.1:9090")
	t.Setenv("MONOCLE_DATABASE_DSN", "sqlite:///tmp/monocle.db")
	t.Setenv("MONOCLE_JWT_SECRET", "s3cret")
	t.Setenv("MONOCLE_RATE_LIMIT_MAX", "30")
	t.Setenv("MONOCLE_RATE_LIMIT_WINDOW", "10s")
	t.Setenv("MONOCLE_MAX_BODY_BYTES", "4096")
	cfg := loadServerConfig()
	want := serverConfig{
		Addr:            "127.0.0.1:9090",
		DatabaseDSN:     "sqlite:///tmp/monocle.db",
		JWTSecret:       "s3cret",
		RateLimitMax:    30,
		RateLimitWindow: 10 * time.Second,
		MaxBodyBytes:    4096,
	}
	if cfg != want {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := newLogger("debug"); err != nil {
		t.Fatalf("expected debug level to be accepted, got %v", err)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, serverConfig{
			Addr:        addr,
			DatabaseDSN: "sqlite://" + filepath.Join(t.TempDir(), "server.db"),
		}, zap.NewNop())
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
