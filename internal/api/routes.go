package api

import "github.com/gorilla/mux"

// registerRoutes wires the API surface of spec.md §6. Static routes are
// registered before the /{owner}/{repo} catch-all so gorilla/mux's
// first-match-wins order never lets a short URL swallow them.
func registerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/api/meta", s.cached(s.handleMeta)).Methods("GET")
	r.HandleFunc("/api/leaderboard", s.cached(s.handleLeaderboard)).Methods("GET")
	r.HandleFunc("/api/repo", s.cached(s.handleRepo)).Methods("GET")
	r.HandleFunc("/api/repo/history", s.cached(s.handleRepoHistory)).Methods("GET")
	r.HandleFunc("/api/rank", s.cached(s.handleRank)).Methods("GET")

	r.HandleFunc("/{owner}/{repo}", s.handleShortURL).Methods("GET")
}
