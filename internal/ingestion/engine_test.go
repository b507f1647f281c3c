package ingestion

import (
	"context"
	"path/filepath"
	"testing"

	"repoleaderboard/internal/models"
	"repoleaderboard/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repos.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func snapshot(id int64, name string, stars int64) models.Snapshot {
	return models.Snapshot{
		ID:            id,
		NameWithOwner: name,
		Stars:         stars,
		Forks:         stars / 10,
		Watchers:      stars / 20,
	}
}

// S1 — fresh ingest produces one FetchRun, one Repo, one RepoLatest and
// one open-ended history segment.
func TestIngest_FreshIngest(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 10)}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var runCount, repoCount, latestCount, histCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM fetch_run").Scan(&runCount)
	st.DB().QueryRow("SELECT COUNT(*) FROM repo").Scan(&repoCount)
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_latest").Scan(&latestCount)
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_metrics_hist").Scan(&histCount)

	if runCount != 1 || repoCount != 1 || latestCount != 1 || histCount != 1 {
		t.Fatalf("got runs=%d repos=%d latest=%d hist=%d, want 1/1/1/1", runCount, repoCount, latestCount, histCount)
	}

	var stars, start, end int64
	if err := st.DB().QueryRow("SELECT stars, start_run_id, end_run_id FROM repo_metrics_hist").Scan(&stars, &start, &end); err != nil {
		t.Fatalf("read history segment: %v", err)
	}
	if stars != 10 || start != end {
		t.Fatalf("got segment stars=%d start=%d end=%d, want stars=10 start==end", stars, start, end)
	}
}

// Repeated ingestion of an unchanged snapshot in a later pass extends the
// existing history segment's end_run_id rather than opening a new one.
func TestIngest_UnchangedMetricsExtendSegment(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 10)}); err != nil {
		t.Fatalf("ingest pass 1: %v", err)
	}
	e.FinishRun()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 10)}); err != nil {
		t.Fatalf("ingest pass 2: %v", err)
	}

	var histCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_metrics_hist").Scan(&histCount)
	if histCount != 1 {
		t.Fatalf("got %d history segments, want 1 (extended, not duplicated)", histCount)
	}

	var start, end int64
	st.DB().QueryRow("SELECT start_run_id, end_run_id FROM repo_metrics_hist").Scan(&start, &end)
	if end <= start {
		t.Fatalf("got start=%d end=%d, want end > start after extension", start, end)
	}
}

// A changed metric opens a new history segment instead of extending.
func TestIngest_ChangedMetricsOpensNewSegment(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 10)}); err != nil {
		t.Fatalf("ingest pass 1: %v", err)
	}
	e.FinishRun()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 20)}); err != nil {
		t.Fatalf("ingest pass 2: %v", err)
	}

	var histCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_metrics_hist").Scan(&histCount)
	if histCount != 2 {
		t.Fatalf("got %d history segments, want 2 after a star-count change", histCount)
	}

	var stars int64
	st.DB().QueryRow("SELECT stars FROM repo_latest WHERE repo_id = 1").Scan(&stars)
	if stars != 20 {
		t.Fatalf("got repo_latest.stars=%d, want 20", stars)
	}
}

// Ingesting the same repo id twice within one pass is a no-op the second
// time (idempotence within a pass).
func TestIngest_DedupesWithinPass(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 10)}); err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	if err := e.Ingest(ctx, []models.Snapshot{snapshot(1, "a/x", 999)}); err != nil {
		t.Fatalf("ingest 2: %v", err)
	}

	var stars int64
	st.DB().QueryRow("SELECT stars FROM repo_latest WHERE repo_id = 1").Scan(&stars)
	if stars != 10 {
		t.Fatalf("got stars=%d, want 10 (second sighting in the same pass must be dropped)", stars)
	}
}

// Malformed snapshots (non-positive id, empty name) are dropped silently
// without failing the batch.
func TestIngest_DropsMalformedSnapshots(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	batch := []models.Snapshot{
		snapshot(1, "a/x", 10),
		snapshot(0, "bad/zero-id", 10),
		snapshot(2, "", 10),
	}
	if err := e.Ingest(ctx, batch); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var repoCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo").Scan(&repoCount)
	if repoCount != 1 {
		t.Fatalf("got %d repos, want 1 (malformed entries dropped)", repoCount)
	}
}

// S5 — rename: ingesting a new id under a name already held by an older
// repo renames the loser and preserves its history.
func TestIngest_RenameResolvesConflict(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(7, "old/x", 5)}); err != nil {
		t.Fatalf("ingest original: %v", err)
	}
	e.FinishRun()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(8, "old/x", 50)}); err != nil {
		t.Fatalf("ingest rename: %v", err)
	}

	var oldName string
	if err := st.DB().QueryRow("SELECT name_with_owner FROM repo WHERE id = 7").Scan(&oldName); err != nil {
		t.Fatalf("read renamed repo: %v", err)
	}
	if oldName != "old/x-renamed-8" {
		t.Fatalf("got name %q, want %q", oldName, "old/x-renamed-8")
	}

	var oldLatestCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_latest WHERE repo_id = 7").Scan(&oldLatestCount)
	if oldLatestCount != 0 {
		t.Fatalf("got %d repo_latest rows for the renamed-away id, want 0", oldLatestCount)
	}

	var newName string
	if err := st.DB().QueryRow("SELECT name_with_owner FROM repo WHERE id = 8").Scan(&newName); err != nil {
		t.Fatalf("read new repo: %v", err)
	}
	if newName != "old/x" {
		t.Fatalf("got name %q, want %q", newName, "old/x")
	}

	var histCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_metrics_hist WHERE repo_id = 7").Scan(&histCount)
	if histCount != 1 {
		t.Fatalf("got %d preserved history rows for id=7, want 1", histCount)
	}
}

// Rename idempotence (invariant 6): ingesting the same (id, newName)
// snapshot twice yields the same database state both times.
func TestIngest_RenameIdempotent(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(7, "old/x", 5)}); err != nil {
		t.Fatalf("ingest original: %v", err)
	}
	e.FinishRun()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(8, "old/x", 50)}); err != nil {
		t.Fatalf("ingest rename 1: %v", err)
	}
	e.FinishRun()

	if err := e.Ingest(ctx, []models.Snapshot{snapshot(8, "old/x", 50)}); err != nil {
		t.Fatalf("ingest rename 2: %v", err)
	}

	var repoCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo").Scan(&repoCount)
	if repoCount != 2 {
		t.Fatalf("got %d repo rows, want 2 (repeat rename must not create extra rows)", repoCount)
	}

	var newName string
	st.DB().QueryRow("SELECT name_with_owner FROM repo WHERE id = 8").Scan(&newName)
	if newName != "old/x" {
		t.Fatalf("got name %q, want %q", newName, "old/x")
	}
}

// Topics are interned and linked; a later batch for the same repo
// replaces rather than accumulates its topic set.
func TestIngest_TopicsReplaceOnUpdate(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	s1 := snapshot(1, "a/x", 10)
	s1.Topics = []string{"go", "cli"}
	if err := e.Ingest(ctx, []models.Snapshot{s1}); err != nil {
		t.Fatalf("ingest pass 1: %v", err)
	}
	e.FinishRun()

	s2 := snapshot(1, "a/x", 10)
	s2.Topics = []string{"go"}
	if err := e.Ingest(ctx, []models.Snapshot{s2}); err != nil {
		t.Fatalf("ingest pass 2: %v", err)
	}

	var topicCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM repo_topic_latest WHERE repo_id = 1").Scan(&topicCount)
	if topicCount != 1 {
		t.Fatalf("got %d topic links, want 1 after dropping 'cli'", topicCount)
	}
}

// Language interning is cached and shared across repos referencing the
// same language name.
func TestIngest_LanguageInterning(t *testing.T) {
	st := newTestStore(t)
	e := NewEngine(st)
	ctx := context.Background()

	s1 := snapshot(1, "a/x", 10)
	s1.PrimaryLanguage = "Go"
	s2 := snapshot(2, "b/y", 20)
	s2.PrimaryLanguage = "Go"

	if err := e.Ingest(ctx, []models.Snapshot{s1, s2}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var langCount int
	st.DB().QueryRow("SELECT COUNT(*) FROM language").Scan(&langCount)
	if langCount != 1 {
		t.Fatalf("got %d language rows, want 1 (shared interned id)", langCount)
	}
}
