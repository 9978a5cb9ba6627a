package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/logger"
	"crackerpos/backend/internal/service"
)

// Options carries the optional collaborators of the HTTP layer.
type Options struct {
	AllowedOrigin string
	Logger        *logger.Logger
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Ready is consulted by /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *logger.Logger
	metrics       http.Handler
	ready         func(ctx context.Context) error
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		ready:         opts.Ready,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	anyRole := []string{domain.RoleAdmin, domain.RoleStaff}
	admin := []string{domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyRole...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleUpsertProduct, admin...))
	mux.HandleFunc("POST /api/v1/products/import", a.requireAuth(a.handleImportProducts, admin...))
	mux.HandleFunc("GET /api/v1/products/{code}", a.requireAuth(a.handleGetProduct, anyRole...))
	mux.HandleFunc("DELETE /api/v1/products/{code}", a.requireAuth(a.handleDeleteProduct, admin...))
	mux.HandleFunc("POST /api/v1/products/{code}/stock", a.requireAuth(a.handleAdjustStock, admin...))

	mux.HandleFunc("POST /api/v1/sessions", a.requireAuth(a.handleOpenSession, anyRole...))
	mux.HandleFunc("GET /api/v1/sessions/{id}", a.requireAuth(a.handleGetSession, anyRole...))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", a.requireAuth(a.handleCloseSession, anyRole...))
	mux.HandleFunc("GET /api/v1/sessions/{id}/search", a.requireAuth(a.handleSearch, anyRole...))
	mux.HandleFunc("POST /api/v1/sessions/{id}/lines", a.requireAuth(a.handleAddLine, anyRole...))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/lines/{code}", a.requireAuth(a.handleRemoveLine, anyRole...))
	mux.HandleFunc("POST /api/v1/sessions/{id}/checkout", a.requireAuth(a.handleCheckout, anyRole...))

	mux.HandleFunc("GET /api/v1/bills/{id}/receipt", a.requireAuth(a.handleReceipt, anyRole...))
	mux.HandleFunc("POST /api/v1/bills/{id}/reprint", a.requireAuth(a.handleReprint, anyRole...))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers, anyRole...))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleUpsertCustomer, anyRole...))
	mux.HandleFunc("GET /api/v1/customers/export", a.requireAuth(a.handleExportCustomers, admin...))
	mux.HandleFunc("GET /api/v1/customers/{phone}", a.requireAuth(a.handleGetCustomer, anyRole...))
	mux.HandleFunc("DELETE /api/v1/customers/{phone}", a.requireAuth(a.handleDeleteCustomer, admin...))

	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleListCategories, anyRole...))
	mux.HandleFunc("POST /api/v1/categories", a.requireAuth(a.handleUpsertCategory, admin...))
	mux.HandleFunc("GET /api/v1/categories/export", a.requireAuth(a.handleExportCategories, admin...))
	mux.HandleFunc("POST /api/v1/categories/import", a.requireAuth(a.handleImportCategories, admin...))
	mux.HandleFunc("DELETE /api/v1/categories/{code}", a.requireAuth(a.handleDeleteCategory, admin...))

	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, admin...))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleUpsertUser, admin...))

	mux.HandleFunc("GET /api/v1/dashboard", a.requireAuth(a.handleDashboard, anyRole...))
	mux.HandleFunc("GET /api/v1/reports/sales", a.requireAuth(a.handleSalesReport, admin...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = a.log.WithOperator(ctx, actor.Username)
		next(w, r.WithContext(ctx))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// csrfExemptPaths are called before a client can fetch a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the X-CSRF-Token header on state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			limit := int64(1 << 20)
			if !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
				limit = 5 << 20
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)

		ctx := a.log.WithFields(r.Context(), map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		})
		a.log.Info(ctx, "request served")
	})
}
