package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crossvault/vault"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the vault engine over HTTP: the peer-facing receive endpoint,
// the user-facing action endpoints, and the read-only views.
type Server struct {
	engine *vault.Engine
	token  string
	log    *slog.Logger
}

// NewServer constructs a server around the engine. An empty token disables
// bearer authentication, which is only acceptable for local development.
func NewServer(engine *vault.Engine, token string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, token: strings.TrimSpace(token), log: log}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/receive", s.handleReceive)

		r.Route("/vault", func(r chi.Router) {
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/borrow", s.handleBorrow)
			r.Post("/repay", s.handleRepay)
			r.Post("/liquidate", s.handleLiquidate)
			r.Post("/reconcile", s.handleReconcile)
		})
		r.Route("/pool", func(r chi.Router) {
			r.Post("/supply", s.handleSupply)
			r.Post("/withdraw", s.handleWithdrawSupplied)
			r.Get("/{chain}", s.handlePoolView)
		})
		r.Get("/positions/{user}", s.handlePositions)
		r.Get("/risk/{user}", s.handleRisk)
	})

	return r
}

// authenticate enforces the shared bearer token on every /v1 route.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(provided) != s.token {
			writeError(w, http.StatusUnauthorized, errors.New("gateway: missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps engine sentinels onto HTTP statuses. Guard failures are
// conflicts: the request was well formed but the ledger refuses it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrUnsupportedChain):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrUnknownPeer),
		errors.Is(err, vault.ErrSelfMessage),
		errors.Is(err, vault.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrInsufficientFeeBudget),
		errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrInsufficientSupplied),
		errors.Is(err, vault.ErrInsufficientLiquidity),
		errors.Is(err, vault.ErrExceedsCreditLine),
		errors.Is(err, vault.ErrHealthCheckFailed),
		errors.Is(err, vault.ErrRepayExceedsDebt),
		errors.Is(err, vault.ErrNoDebtToRepay),
		errors.Is(err, vault.ErrNotLiquidatable):
		return http.StatusConflict
	case errors.Is(err, vault.ErrInvalidPoolTotals):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
