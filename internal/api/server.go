// Package api exposes the swap engine over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"manaswap/internal/model"
)

// Server wires the registry and engine behind a JSON API.
type Server struct {
	registry Registry
	engine   Engine
	trades   TradeLog
	logger   *zap.Logger
	router   *mux.Router
	http     *http.Server
}

func NewServer(addr string, registry Registry, engine Engine, trades TradeLog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		registry: registry,
		engine:   engine,
		trades:   trades,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.withLogging(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/pools", s.handleCreatePool).Methods(http.MethodPost)
	v1.HandleFunc("/pools", s.handleListPools).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{id}", s.handleGetPool).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{id}/quotes", s.handleQuote).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{id}/trades", s.handleTrade).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{id}/trades", s.handleListTrades).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{id}/deposits", s.handleDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/pools/{id}/withdrawals", s.handleWithdraw).Methods(http.MethodPost)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrRatioMismatch):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDuplicateSymbol):
		return http.StatusConflict
	case errors.Is(err, model.ErrSlippageExceeded),
		errors.Is(err, model.ErrInsufficientLiquidity),
		errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrLedgerTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
