// Package http exposes the ledger engine as a JSON API. Statement and
// summary views are cached per account and currency; every mutation drops
// the affected account's cached views.
package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"moneta/internal/cache"
	"moneta/internal/ledger"
	"moneta/internal/log"
	"moneta/internal/middleware/ratelimit"
	"moneta/internal/middleware/security"
	"moneta/internal/middleware/trace"
	"moneta/internal/store"
)

// Server is a ready-to-run API server around the ledger engine.
type Server struct {
	http.Server

	engine *ledger.Engine
	store  store.Store
	logger *log.Logger

	limiter      *ratelimit.Limiter
	viewCache    *cache.LRUCache[[]byte]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server listening on addr.
func NewServer(addr string, engine *ledger.Engine, st store.Store, logger *log.Logger) *Server {
	s := &Server{
		engine:    engine,
		store:     st,
		logger:    logger.WithComponent(log.ComponentHTTP),
		limiter:   ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		viewCache: cache.NewLRUCache[[]byte](200, 5*time.Minute),
	}
	s.cacheManager = cache.NewManager()
	s.cacheManager.Register(s.viewCache)
	s.cacheManager.StartCleanup(time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /api/users", s.handleCreateUser)

	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)
	mux.HandleFunc("GET /api/accounts/{id}/balance", s.handleGetBalance)
	mux.HandleFunc("GET /api/accounts/{id}/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /api/accounts/{id}/statement", s.handleStatement)
	mux.HandleFunc("GET /api/accounts/{id}/summary", s.handleSummary)
	mux.HandleFunc("POST /api/accounts/{id}/redenominate", s.handleRedenominate)

	mux.HandleFunc("POST /api/transactions", s.handleAddTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleEditTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)

	mux.HandleFunc("GET /api/rates", s.handleListRates)
	mux.HandleFunc("PUT /api/rates", s.handleUpsertRate)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(clientIP)
	limited := s.limiter.Middleware(clientIP, nil)

	handler := headers.Middleware(tracer.Middleware(log.Middleware(logger)(limited(mux))))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops background goroutines and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
