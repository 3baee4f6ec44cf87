package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentworkforce/monocle/internal/progress"
	"github.com/agentworkforce/monocle/internal/remote"
)

var (
	validate *validator.Validate

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monocle_http_requests_total",
		Help: "Progress API requests by route and status code",
	}, []string{"route", "code"})

	syncedUsersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monocle_http_progress_syncs_total",
		Help: "Progress snapshots accepted by the API",
	})
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("day", func(fl validator.FieldLevel) bool {
		_, err := progress.ParseDay(fl.Field().String())
		return err == nil
	})
}

// DevJWTSecret signs and verifies tokens when no secret is configured.
const DevJWTSecret = "dev-secret"

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          *zap.Logger
}

type Server struct {
	repo        remote.Repository
	cfg         ServerConfig
	logger      *zap.Logger
	rateLimiter *rateLimiter
	metrics     http.Handler
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(repo remote.Repository) *Server {
	return NewServerWithConfig(repo, ServerConfig{})
}

func NewServerWithConfig(repo remote.Repository, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = DevJWTSecret
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		repo:        repo,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		metrics:     promhttp.Handler(),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	route := s.route(rec, r)
	requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) string {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return "health"
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		s.metrics.ServeHTTP(w, r)
		return "metrics"
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "users" || parts[2] == "" || parts[3] != "progress" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return "unknown"
	}
	userID := parts[2]

	var requiredScope string
	var route string
	switch r.Method {
	case http.MethodGet:
		requiredScope = ScopeProgressRead
		route = "get_progress"
	case http.MethodPut:
		requiredScope = ScopeProgressWrite
		route = "put_progress"
	default:
		w.Header().Set("Allow", "GET, PUT")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
		return "unknown"
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, userID, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return route
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return route
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return route
		}
	}

	switch route {
	case "get_progress":
		s.handleGetProgress(w, r, userID, correlationID)
	case "put_progress":
		s.handlePutProgress(w, r, userID, correlationID)
	}
	return route
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request, userID, correlationID string) {
	record, err := s.repo.GetUser(r.Context(), userID)
	if err != nil {
		s.writeRepositoryError(w, err, userID, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePutProgress(w http.ResponseWriter, r *http.Request, userID, correlationID string) {
	var snapshot progress.SyncSnapshot
	if !s.decodeJSONBody(w, r, correlationID, &snapshot) {
		return
	}
	if err := validate.Struct(snapshot); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", validationMessage(err), correlationID)
		return
	}
	if err := s.repo.SyncUser(r.Context(), userID, snapshot); err != nil {
		s.writeRepositoryError(w, err, userID, correlationID)
		return
	}
	syncedUsersTotal.Inc()
	record, err := s.repo.GetUser(r.Context(), userID)
	if err != nil {
		s.writeRepositoryError(w, err, userID, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) writeRepositoryError(w http.ResponseWriter, err error, userID, correlationID string) {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found", correlationID)
	case errors.Is(err, remote.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), correlationID)
	default:
		s.logger.Error("repository failure",
			zap.String("userId", userID),
			zap.String("correlationId", correlationID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error", correlationID)
	}
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid progress snapshot"
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
