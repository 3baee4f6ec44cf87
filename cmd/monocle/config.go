package main

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentworkforce/monocle/internal/progress"
)

type clientConfig struct {
	BaseURL         string
	Token           string
	UserID          string
	RemoteDSN       string
	StateDSN        string
	Debounce        time.Duration
	Timeout         time.Duration
	SyncActivity    bool
	AchievementPoll time.Duration
	LogLevel        string
}

func loadClientConfig() clientConfig {
	token := strings.TrimSpace(os.Getenv("MONOCLE_TOKEN"))
	userID := strings.TrimSpace(os.Getenv("MONOCLE_USER_ID"))
	if userID == "" {
		userID = tokenSubject(token)
	}
	return clientConfig{
		BaseURL:         strings.TrimSpace(os.Getenv("MONOCLE_BASE_URL")),
		Token:           token,
		UserID:          userID,
		RemoteDSN:       strings.TrimSpace(os.Getenv("MONOCLE_REMOTE_DSN")),
		StateDSN:        envOrDefault("MONOCLE_STATE_DSN", defaultStateDSN()),
		Debounce:        durationEnv("MONOCLE_SYNC_DEBOUNCE", 2*time.Second),
		Timeout:         durationEnv("MONOCLE_SYNC_TIMEOUT", 15*time.Second),
		SyncActivity:    boolEnv("MONOCLE_SYNC_ACTIVITY", false),
		AchievementPoll: durationEnv("MONOCLE_ACHIEVEMENT_POLL", 2*time.Second),
		LogLevel:        envOrDefault("MONOCLE_LOG_LEVEL", "warn"),
	}
}

// remoteConfigured reports whether any sync target is set.
func (c clientConfig) remoteConfigured() bool {
	if c.UserID == "" {
		return false
	}
	return c.RemoteDSN != "" || (c.BaseURL != "" && c.Token != "")
}

func defaultStateDSN() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "file://" + progress.StorageKey + ".json"
	}
	return "file://" + filepath.Join(home, ".monocle", progress.StorageKey+".json")
}

// tokenSubject reads the sub claim without verifying the signature; the
// server verifies it on every request.
func tokenSubject(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
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

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		zap.L().Warn("invalid boolean setting, using fallback", zap.String("name", name), zap.String("value", raw), zap.Bool("fallback", fallback))
		return fallback
	}
	return value
}
