// Package ingestion implements the leaderboard's sole writer: it turns
// batches of upstream repository snapshots into Repo, RepoLatest,
// RepoMetricsHist and RepoTopicLatest rows, one FetchRun per pass.
//
// The six-phase per-batch algorithm and the run lifecycle are grounded
// on original_source/db.py's RepoDB.upsert_from_github_nodes, carried
// over to Go in the teacher's batching style
// (internal/repository.SaveBatch: precompute slices, one transaction per
// batch, executemany-shaped bulk statements).
package ingestion

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"repoleaderboard/internal/models"
	"repoleaderboard/internal/store"
)

// Engine is the sole writer to the leaderboard schema. Ingest and
// FinishRun serialize on an internal mutex, so calls from several
// goroutines run one at a time; only one Engine should write to a given
// database file (spec.md's single-writer discipline).
type Engine struct {
	st *store.Store

	mu         sync.Mutex
	runID      int64
	processed  map[int64]struct{}
	langCache  map[string]int64
	topicCache map[string]int64
}

// NewEngine returns an Engine with empty process-local caches.
func NewEngine(st *store.Store) *Engine {
	return &Engine{
		st:         st,
		processed:  make(map[int64]struct{}),
		langCache:  make(map[string]int64),
		topicCache: make(map[string]int64),
	}
}

// FinishRun ends the current pass. The next Ingest call begins a new
// FetchRun and a fresh processed-ids set, per spec.md §4.2.
func (e *Engine) FinishRun() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runID = 0
	e.processed = make(map[int64]struct{})
}

// currentRunID lazily opens a FetchRun for this pass. Caller must hold e.mu.
func (e *Engine) currentRunID(ctx context.Context) (int64, error) {
	if e.runID != 0 {
		return e.runID, nil
	}
	now := time.Now().UTC().Unix()
	res, err := e.st.DB().ExecContext(ctx, "INSERT INTO fetch_run(fetched_at) VALUES (?)", now)
	if err != nil {
		return 0, fmt.Errorf("begin fetch run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin fetch run: %w", err)
	}
	e.runID = id
	return id, nil
}

// Ingest consumes one ordered batch of snapshots. Malformed entries
// (non-positive id, empty name) and repo ids already processed in this
// pass are dropped silently, per spec.md's idempotence and error rules.
func (e *Engine) Ingest(ctx context.Context, batch []models.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	runID, err := e.currentRunID(ctx)
	if err != nil {
		return err
	}

	fresh := make([]models.Snapshot, 0, len(batch))
	for _, n := range batch {
		if n.ID <= 0 || n.NameWithOwner == "" {
			log.Printf("ingestion: dropping malformed snapshot id=%d name=%q", n.ID, n.NameWithOwner)
			continue
		}
		if _, seen := e.processed[n.ID]; seen {
			continue
		}
		e.processed[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	if len(fresh) == 0 {
		return nil
	}

	err = e.st.WithTx(ctx, func(tx *sql.Tx) error {
		return e.ingestBatch(ctx, tx, runID, fresh)
	})
	if err != nil {
		return fmt.Errorf("ingest batch (run %d): %w", runID, err)
	}
	return nil
}

func (e *Engine) ingestBatch(ctx context.Context, tx *sql.Tx, runID int64, nodes []models.Snapshot) error {
	if err := resolveNameConflicts(ctx, tx, nodes); err != nil {
		return fmt.Errorf("resolve name conflicts: %w", err)
	}
	if err := upsertRepos(ctx, tx, nodes); err != nil {
		return fmt.Errorf("upsert repos: %w", err)
	}

	existing, err := fetchLatestMetrics(ctx, tx, ids(nodes))
	if err != nil {
		return fmt.Errorf("fetch existing metrics: %w", err)
	}

	type latestRow struct {
		repoID             int64
		runID              int64
		historyStartRunID  int64
		stars, forks, watch int64
		disk               *int64
		updatedAt, pushedAt *int64
		isArchived         bool
		langID             *int64
	}
	var latestRows []latestRow
	type histInsert struct {
		repoID, start, end          int64
		stars, forks, watchers      int64
		disk                        *int64
	}
	var histInserts []histInsert
	type histExtend struct {
		end, repoID, start int64
	}
	var histExtends []histExtend

	topicPairs := make(map[int64][]string, len(nodes))

	for _, n := range nodes {
		langID, err := e.langID(ctx, tx, n.PrimaryLanguage)
		if err != nil {
			return fmt.Errorf("intern language %q: %w", n.PrimaryLanguage, err)
		}

		old, hadOld := existing[n.ID]
		var historyStart int64
		changed := !hadOld || old.stars != n.Stars || old.forks != n.Forks || old.watchers != n.Watchers || !equalNullableInt(old.disk, n.DiskUsage)

		if changed {
			historyStart = runID
			histInserts = append(histInserts, histInsert{n.ID, runID, runID, n.Stars, n.Forks, n.Watchers, n.DiskUsage})
		} else {
			historyStart = old.historyStartRunID
			histExtends = append(histExtends, histExtend{runID, n.ID, historyStart})
		}

		latestRows = append(latestRows, latestRow{
			repoID:            n.ID,
			runID:             runID,
			historyStartRunID: historyStart,
			stars:             n.Stars,
			forks:             n.Forks,
			watch:             n.Watchers,
			disk:              n.DiskUsage,
			updatedAt:         unixPtr(n.UpdatedAt),
			pushedAt:          unixPtr(n.PushedAt),
			isArchived:        n.IsArchived,
			langID:            langID,
		})

		topicPairs[n.ID] = n.Topics
	}

	latestStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repo_latest(
			repo_id, run_id, history_start_run_id,
			stars, forks, watchers, disk_usage,
			updated_at, pushed_at, is_archived, primary_language_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			run_id               = excluded.run_id,
			history_start_run_id = excluded.history_start_run_id,
			stars                = excluded.stars,
			forks                = excluded.forks,
			watchers             = excluded.watchers,
			disk_usage           = excluded.disk_usage,
			updated_at           = excluded.updated_at,
			pushed_at            = excluded.pushed_at,
			is_archived          = excluded.is_archived,
			primary_language_id  = excluded.primary_language_id
	`)
	if err != nil {
		return err
	}
	defer latestStmt.Close()
	for _, r := range latestRows {
		if _, err := latestStmt.ExecContext(ctx, r.repoID, r.runID, r.historyStartRunID,
			r.stars, r.forks, r.watch, r.disk, r.updatedAt, r.pushedAt, boolToInt(r.isArchived), r.langID); err != nil {
			return fmt.Errorf("upsert repo_latest(%d): %w", r.repoID, err)
		}
	}

	if len(histInserts) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO repo_metrics_hist(repo_id, start_run_id, end_run_id, stars, forks, watchers, disk_usage)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range histInserts {
			if _, err := stmt.ExecContext(ctx, h.repoID, h.start, h.end, h.stars, h.forks, h.watchers, h.disk); err != nil {
				return fmt.Errorf("insert history segment(%d): %w", h.repoID, err)
			}
		}
	}

	if len(histExtends) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE repo_metrics_hist SET end_run_id = ? WHERE repo_id = ? AND start_run_id = ?
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, h := range histExtends {
			if _, err := stmt.ExecContext(ctx, h.end, h.repoID, h.start); err != nil {
				return fmt.Errorf("extend history segment(%d): %w", h.repoID, err)
			}
		}
	}

	if err := refreshTopics(ctx, tx, topicPairs, e); err != nil {
		return fmt.Errorf("refresh topics: %w", err)
	}

	return nil
}

func ids(nodes []models.Snapshot) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func unixPtr(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	v := t.UTC().Unix()
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func equalNullableInt(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
