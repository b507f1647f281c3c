package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"repoleaderboard/internal/cache"
	"repoleaderboard/internal/ingestion"
	"repoleaderboard/internal/models"
	"repoleaderboard/internal/query"
	"repoleaderboard/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repos.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ie := ingestion.NewEngine(st)
	if err := ie.Ingest(context.Background(), []models.Snapshot{
		{ID: 1, NameWithOwner: "a/top", Stars: 100, Forks: 5, Watchers: 3},
		{ID: 2, NameWithOwner: "b/mid", Stars: 50, Forks: 2, Watchers: 1},
	}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	qe := query.NewEngine(st)
	s := NewServer(qe, cache.New(), "0")
	return s, st
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestHandleLeaderboard_DefaultsToStars(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/leaderboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp leaderboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Items) != 2 {
		t.Fatalf("got total=%d items=%d, want 2/2", resp.Total, len(resp.Items))
	}
	if resp.Items[0].N != "a/top" {
		t.Fatalf("got first item %q, want a/top", resp.Items[0].N)
	}
}

func TestHandleLeaderboard_RejectsBadPage(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/leaderboard?page=0")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestHandleLeaderboard_RejectsUnknownMetric(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/leaderboard?metric=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestHandleRepo_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/repo?name=nobody/nothing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}

func TestHandleRepo_MissingNameIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/repo")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestHandleRepo_Found(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/repo?name=a/top")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var wr wireRepo
	if err := json.Unmarshal(rec.Body.Bytes(), &wr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wr.N != "a/top" || wr.S != 100 {
		t.Fatalf("got %+v, want a/top with 100 stars", wr)
	}
}

func TestHandleRank_FormatsBadgeByTier(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/rank?name=a/top")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var badge rankBadge
	if err := json.Unmarshal(rec.Body.Bytes(), &badge); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if badge.Color != "brightgreen" || badge.Message != "#1" {
		t.Fatalf("got %+v, want rank 1 brightgreen", badge)
	}
}

func TestHandleRank_UnknownRepoSynthesizes200(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/rank?name=nobody/nothing")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 (rank badge never 404s)", rec.Code)
	}
	var badge rankBadge
	if err := json.Unmarshal(rec.Body.Bytes(), &badge); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if badge.Message != "repo not found" {
		t.Fatalf("got message %q, want %q", badge.Message, "repo not found")
	}
}

func TestHandleShortURL_RedirectsWithRankPage(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/a/top")
	if rec.Code != http.StatusFound {
		t.Fatalf("got status %d, want 302", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if loc == "" {
		t.Fatalf("got empty Location header")
	}
	u, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parse Location %q: %v", loc, err)
	}
	if got := u.Query().Get("page"); got != "1" {
		t.Fatalf("got page %q in Location %q, want 1 (a/top is rank 1)", got, loc)
	}
}

func TestHandleShortURL_UnknownRepoIs404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/nobody/nothing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}

func TestHandleMeta_ListsLanguagesAndTopics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/meta")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp metaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
}
