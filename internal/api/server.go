// Package api is the thin HTTP layer spec.md §1 scopes out of the core:
// routing, request parsing and response caching sit here; all ranking
// logic lives in internal/query.
//
// Grounded on the teacher's internal/api/server_bootstrap.go (gorilla/mux
// router, CORS middleware chain, *http.Server wrapper) and
// routes_registration.go (flat HandleFunc registration with explicit
// Methods()).
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"repoleaderboard/internal/cache"
	"repoleaderboard/internal/query"
	"repoleaderboard/internal/store"
)

// queryLimiterBurst sizes the cache-miss token bucket to the Store's own
// connection-pool size (store.go's SetMaxOpenConns): that pool, not an
// arbitrary per-client quota, is the actual concurrency ceiling before
// readers start queueing on SQLITE_BUSY. queryLimiterRPS refills the
// bucket at the same number per second. The bucket limits the rate of
// cache-miss requests; it does not count requests still in flight.
const (
	queryLimiterRPS   = rate.Limit(store.MaxOpenConns)
	queryLimiterBurst = store.MaxOpenConns
)

// Server wires the QueryEngine and ResponseCache behind gorilla/mux.
type Server struct {
	query      *query.Engine
	cache      *cache.Cache
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer builds the router and returns a Server listening on port
// once Start is called. Unlike the teacher's per-IP token bucket
// (fronting a stateful chain RPC endpoint where abusive clients are the
// threat), this limiter throttles cache-miss traffic process-wide: the
// leaderboard is a public read path sitting in front of a single bounded
// SQLite connection pool, so the resource worth protecting is that pool,
// not any one caller. See cached() in cache_mw.go for where it's
// checked.
func NewServer(qe *query.Engine, c *cache.Cache, port string) *Server {
	s := &Server{
		query:   qe,
		cache:   c,
		limiter: rate.NewLimiter(queryLimiterRPS, queryLimiterBurst),
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)

	registerRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	return s
}

// Start blocks serving HTTP until the server is shut down or fails.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// InvalidateCache clears the ResponseCache. Nothing in this repository
// calls it: the crawler is a separate process, so a running server's
// cache is otherwise cleared only by a restart.
func (s *Server) InvalidateCache() {
	s.cache.Clear()
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
