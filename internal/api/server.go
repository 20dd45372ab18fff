// Package api provides the HTTP server for taskyield.
// It exposes the user wallet and referral views, the admin surface for
// levels and rules, evaluation triggers and a live credit feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/taskyield/taskyield/internal/app/account"
	"github.com/taskyield/taskyield/internal/app/commission"
	"github.com/taskyield/taskyield/internal/app/wallet"
	"github.com/taskyield/taskyield/internal/domain"
	"github.com/taskyield/taskyield/internal/infra/observability"
)

// Store is the persistence the handlers read directly.
type Store interface {
	domain.UserDirectory
	domain.LevelProvider
	domain.RuleProvider
	domain.BalanceStore
	domain.Ledger
	Ping(ctx context.Context) error
}

// Server is the taskyield HTTP API server.
type Server struct {
	store          Store
	engine         *commission.Engine
	wallet         *wallet.Wallet
	accounts       *account.Service
	tracer         *observability.Tracer
	creditHub      *CreditHub
	logger         *zap.Logger
	metricsEnabled bool
	now            func() time.Time
}

// NewServer creates a new API server.
func NewServer(store Store, engine *commission.Engine, w *wallet.Wallet, accounts *account.Service) *Server {
	return &Server{
		store:    store,
		engine:   engine,
		wallet:   w,
		accounts: accounts,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetTracer exposes recent evaluation spans on the admin API.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// SetCreditHub sets the live credit SSE hub.
func (s *Server) SetCreditHub(h *CreditHub) { s.creditHub = h }

// CreditHub returns the live credit hub (for broadcasting events).
func (s *Server) CreditHub() *CreditHub { return s.creditHub }

// SetLogger sets the request logger.
func (s *Server) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetClock replaces the wall clock used for previews, for tests.
func (s *Server) SetClock(now func() time.Time) { s.now = now }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/users", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Route("/{email}", func(r chi.Router) {
			r.Get("/tier", s.handleTier)
			r.Get("/downline", s.handleDownline)
			r.Get("/eligibility", s.handleEligibility)
			r.Get("/activity", s.handleActivity)
			r.Post("/deposit", s.handleDeposit)
			r.Post("/commit", s.handleCommit)
			r.Post("/tasks", s.handleCompleteTask)
			r.Post("/withdrawals", s.handleWithdraw)
		})
	})

	r.Post("/api/evaluate", s.handleEvaluate)

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/levels", s.handleGetLevels)
		r.Put("/levels", s.handlePutLevels)
		r.Get("/rules", s.handleGetRules)
		r.Put("/rules", s.handlePutRules)
		r.Get("/evaluations", s.handleEvaluations)
		r.Put("/users/{email}/override", s.handleSetOverride)
		r.Put("/users/{email}/status", s.handleSetStatus)
		r.Post("/users/{email}/purchased-referrals", s.handleAddPurchased)
	})

	if s.creditHub != nil {
		r.Get("/api/credits/live", s.creditHub.HandleCreditsSSE)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ─── Request Validation ─────────────────────────────────────────────────────

var validate = newValidator()

// newValidator lets decimal fields use numeric tags such as gt=0.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest{"invalid JSON body: " + err.Error()}
	}
	if err := validate.Struct(v); err != nil {
		return errBadRequest{err.Error()}
	}
	return nil
}

type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// fail maps err onto an HTTP status and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrLevelNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUserExists),
		errors.Is(err, domain.ErrMarkerMoved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUserDisabled):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrReferrerNotFound),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidOverride),
		errors.Is(err, domain.ErrInvalidCount),
		errors.Is(err, domain.ErrNonPositiveAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrTaskQuotaReached),
		errors.Is(err, domain.ErrBelowMinWithdrawal),
		errors.Is(err, domain.ErrAboveMaxWithdrawal),
		errors.Is(err, domain.ErrWithdrawalLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
