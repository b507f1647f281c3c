// Package query implements the stateless, read-only leaderboard query
// layer: static and trending leaderboards, single-repo views, global
// rank and history segments. Grounded on original_source/db.py's
// RepoDB query methods (select_latest_base_sql, trending_leaderboard,
// get_global_rank, history_segments), translated into parameterized
// database/sql queries.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"repoleaderboard/internal/apperr"
	"repoleaderboard/internal/models"
	"repoleaderboard/internal/store"
)

// PageSize is the fixed leaderboard page size (spec.md §4.3).
const PageSize = 100

// Engine is a read-only view over the Store; safe for concurrent use.
type Engine struct {
	st *store.Store
}

// NewEngine returns a QueryEngine backed by st.
func NewEngine(st *store.Store) *Engine {
	return &Engine{st: st}
}

// Filter composes the optional (q, inDescription, language, topic)
// filter tuple spec.md §4.3 defines. The zero value matches everything.
type Filter struct {
	Q             string
	InDescription bool
	Language      string
	Topic         string
}

func (f Filter) whereClause(argsOut *[]any) string {
	var clauses []string

	if f.Language != "" {
		clauses = append(clauses, "lang.name = ?")
		*argsOut = append(*argsOut, f.Language)
	}
	if f.Topic != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM repo_topic_latest rtl2
			JOIN topic t2 ON t2.id = rtl2.topic_id
			WHERE rtl2.repo_id = rl.repo_id AND t2.name = ?
		)`)
		*argsOut = append(*argsOut, f.Topic)
	}
	if q := strings.TrimSpace(f.Q); q != "" {
		like := "%" + q + "%"
		if f.InDescription {
			clauses = append(clauses, "(r.name_with_owner LIKE ? OR r.description LIKE ?)")
			*argsOut = append(*argsOut, like, like)
		} else {
			clauses = append(clauses, "r.name_with_owner LIKE ?")
			*argsOut = append(*argsOut, like)
		}
	}

	if len(clauses) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(clauses, " AND ")
}

// metricColumns maps the static metric keys of spec.md §4.3.1 to their
// sort column.
var metricColumns = map[string]string{
	"stars":          "rl.stars",
	"stargazerCount": "rl.stars",
	"forks":          "rl.forks",
	"forkCount":      "rl.forks",
	"watchers":       "rl.watchers",
	"watchersCount":  "rl.watchers",
	"diskUsage":      "rl.disk_usage",
	"disk_usage":     "rl.disk_usage",
}

var trendingWindows = map[string]int64{
	"trending24h": 24 * 3600,
	"trending3d":  3 * 24 * 3600,
	"trending7d":  7 * 24 * 3600,
	"trending30d": 30 * 24 * 3600,
}

const baseSelect = `
	SELECT
		r.name_with_owner,
		rl.stars, rl.forks, rl.watchers, rl.disk_usage,
		r.description, r.homepage_url, r.created_at,
		rl.pushed_at, rl.is_archived,
		lang.name,
		GROUP_CONCAT(t.name, char(31))
	FROM repo_latest rl
	JOIN repo r ON r.id = rl.repo_id
	LEFT JOIN language lang ON lang.id = rl.primary_language_id
	LEFT JOIN repo_topic_latest rtl ON rtl.repo_id = rl.repo_id
	LEFT JOIN topic t ON t.id = rtl.topic_id
`

// Leaderboard computes leaderboard(metric, page, filters) per spec.md
// §4.3.1/§4.3.2: recognized metrics sort DESC with nameWithOwner ASC
// tie-break; trending* metrics delegate to trending.
func (e *Engine) Leaderboard(ctx context.Context, metric string, page int, f Filter) ([]models.LeaderboardItem, error) {
	if page < 1 {
		return nil, apperr.InvalidArgument(fmt.Sprintf("page must be >= 1, got %d", page))
	}
	if window, ok := trendingWindows[metric]; ok {
		return e.trending(ctx, window, page, f)
	}
	col, ok := metricColumns[metric]
	if !ok {
		return nil, apperr.InvalidArgument(fmt.Sprintf("unsupported metric %q", metric))
	}

	var args []any
	where := f.whereClause(&args)
	offset := (page - 1) * PageSize

	q := baseSelect + where + fmt.Sprintf(`
		GROUP BY rl.repo_id
		ORDER BY %s DESC, r.name_with_owner ASC
		LIMIT ? OFFSET ?
	`, col)
	args = append(args, PageSize, offset)

	rows, err := e.st.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()
	return scanItems(rows, false)
}

// trendingCandidate is the minimal projection needed to rank a repo for
// a trending window before the full wire-shaped row is worth fetching.
type trendingCandidate struct {
	repoID int64
	name   string
	stars  int64
}

// trending implements spec.md §4.3.2. Per SPEC_FULL.md §9's resolution
// of the Open Question, the covering history segment for baseRunID is
// looked up by asserting the non-overlap invariant (coveringSegmentStars
// below) rather than mechanically replicating db.py's
// `ORDER BY end_run_id ASC LIMIT 1` tie-break — so ranking is computed
// in Go after the per-repo deltas are known, instead of inside one
// correlated-subquery SELECT.
func (e *Engine) trending(ctx context.Context, window int64, page int, f Filter) ([]models.LeaderboardItem, error) {
	baseRunID, err := e.baseRunIDForWindow(ctx, window)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	var args []any
	where := f.whereClause(&args)

	q := `
	SELECT rl.repo_id, r.name_with_owner, rl.stars
	FROM repo_latest rl
	JOIN repo r ON r.id = rl.repo_id
	LEFT JOIN language lang ON lang.id = rl.primary_language_id
	` + where

	rows, err := e.st.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	var candidates []trendingCandidate
	for rows.Next() {
		var c trendingCandidate
		if err := rows.Scan(&c.repoID, &c.name, &c.stars); err != nil {
			rows.Close()
			return nil, apperr.Storage(err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Storage(err)
	}
	rows.Close()

	newStarsByRepo := make(map[int64]int64, len(candidates))
	for _, c := range candidates {
		baseStars, found, err := e.coveringSegmentStars(ctx, c.repoID, baseRunID)
		if err != nil {
			return nil, apperr.Storage(err)
		}
		if !found {
			baseStars = c.stars
		}
		delta := c.stars - baseStars
		if delta < 0 {
			delta = 0
		}
		newStarsByRepo[c.repoID] = delta
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ni, nj := newStarsByRepo[candidates[i].repoID], newStarsByRepo[candidates[j].repoID]
		if ni != nj {
			return ni > nj
		}
		if candidates[i].stars != candidates[j].stars {
			return candidates[i].stars > candidates[j].stars
		}
		return candidates[i].name < candidates[j].name
	})

	offset := (page - 1) * PageSize
	if offset >= len(candidates) {
		return nil, nil
	}
	end := offset + PageSize
	if end > len(candidates) {
		end = len(candidates)
	}
	page2 := candidates[offset:end]

	items := make([]models.LeaderboardItem, 0, len(page2))
	for _, c := range page2 {
		item, err := e.fetchItemByName(ctx, c.name)
		if err != nil {
			return nil, err
		}
		ns := newStarsByRepo[c.repoID]
		item.NewStars = &ns
		items = append(items, item)
	}
	return items, nil
}

// coveringSegmentStars returns the stars value of the unique
// RepoMetricsHist row covering runID for repoID. Invariant 1 (segment
// coverage) guarantees at most one such row exists; finding more than
// one means the Store's history is corrupted, not that the caller did
// anything wrong, so that case panics rather than silently picking a
// row via a tie-break.
func (e *Engine) coveringSegmentStars(ctx context.Context, repoID, runID int64) (stars int64, found bool, err error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT stars FROM repo_metrics_hist
		WHERE repo_id = ? AND start_run_id <= ? AND end_run_id >= ?
	`, repoID, runID, runID)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	var matches []int64
	for rows.Next() {
		var s int64
		if err := rows.Scan(&s); err != nil {
			return 0, false, err
		}
		matches = append(matches, s)
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}

	switch len(matches) {
	case 0:
		return 0, false, nil
	case 1:
		return matches[0], true, nil
	default:
		panic(fmt.Sprintf("query: repo %d has %d history segments covering run %d, non-overlap invariant violated", repoID, len(matches), runID))
	}
}

// fetchItemByName loads the full wire-shaped row for one repo by its
// unique name, shared by GetRepoLatest and trending's page-fetch step.
func (e *Engine) fetchItemByName(ctx context.Context, name string) (models.LeaderboardItem, error) {
	q := baseSelect + "\nWHERE r.name_with_owner = ?\nGROUP BY rl.repo_id"
	row := e.st.DB().QueryRowContext(ctx, q, name)
	item, err := scanItem(row, false)
	if err == sql.ErrNoRows {
		return models.LeaderboardItem{}, apperr.NotFound(fmt.Sprintf("repo %q not found", name))
	}
	if err != nil {
		return models.LeaderboardItem{}, apperr.Storage(err)
	}
	return item, nil
}

// baseRunIDForWindow implements spec.md §4.3.2 steps 1-2.
func (e *Engine) baseRunIDForWindow(ctx context.Context, windowSeconds int64) (int64, error) {
	var maxFetched sql.NullInt64
	if err := e.st.DB().QueryRowContext(ctx, "SELECT MAX(fetched_at) FROM fetch_run").Scan(&maxFetched); err != nil {
		return 0, err
	}
	if !maxFetched.Valid {
		return 0, nil
	}
	cutoff := maxFetched.Int64 - windowSeconds

	var baseID sql.NullInt64
	if err := e.st.DB().QueryRowContext(ctx, "SELECT MAX(id) FROM fetch_run WHERE fetched_at <= ?", cutoff).Scan(&baseID); err != nil {
		return 0, err
	}
	if !baseID.Valid {
		return 0, nil
	}
	return baseID.Int64, nil
}

// CountLeaderboard returns the number of distinct repos matching f.
func (e *Engine) CountLeaderboard(ctx context.Context, f Filter) (int64, error) {
	var args []any
	where := f.whereClause(&args)
	q := `
		SELECT COUNT(DISTINCT rl.repo_id)
		FROM repo_latest rl
		JOIN repo r ON r.id = rl.repo_id
		LEFT JOIN language lang ON lang.id = rl.primary_language_id
	` + where

	var count int64
	if err := e.st.DB().QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, apperr.Storage(err)
	}
	return count, nil
}

// TotalPages returns ceil(total/PageSize), or 1 when total is zero.
func TotalPages(total int64) int64 {
	if total <= 0 {
		return 1
	}
	return (total + PageSize - 1) / PageSize
}

// GetRepoLatest implements spec.md §4.3.3.
func (e *Engine) GetRepoLatest(ctx context.Context, nameWithOwner string) (models.LeaderboardItem, error) {
	item, err := e.fetchItemByName(ctx, nameWithOwner)
	if err != nil {
		return models.LeaderboardItem{}, err
	}

	rank, err := e.GetGlobalRank(ctx, nameWithOwner)
	if err == nil {
		item.GlobalRank = &rank
	}
	return item, nil
}

// GetGlobalRank implements spec.md §4.3.4.
func (e *Engine) GetGlobalRank(ctx context.Context, nameWithOwner string) (int64, error) {
	const q = `
		SELECT (
			SELECT COUNT(*)
			FROM repo_latest rl2
			JOIN repo r2 ON r2.id = rl2.repo_id
			WHERE rl2.stars > rl.stars
			   OR (rl2.stars = rl.stars AND r2.name_with_owner < r.name_with_owner)
		) + 1
		FROM repo_latest rl
		JOIN repo r ON r.id = rl.repo_id
		WHERE r.name_with_owner = ?
	`
	var rank int64
	err := e.st.DB().QueryRowContext(ctx, q, nameWithOwner).Scan(&rank)
	if err == sql.ErrNoRows {
		return 0, apperr.NotFound(fmt.Sprintf("repo %q not found", nameWithOwner))
	}
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return rank, nil
}

// HistorySegments implements spec.md §4.3.5. Returns NotFound if the
// repo does not exist, an empty slice if it exists but (impossibly,
// per invariant 2) has no segments.
func (e *Engine) HistorySegments(ctx context.Context, nameWithOwner string, limit int) ([]models.HistorySegment, error) {
	var repoID int64
	err := e.st.DB().QueryRowContext(ctx, "SELECT id FROM repo WHERE name_with_owner = ?", nameWithOwner).Scan(&repoID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("repo %q not found", nameWithOwner))
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}

	const q = `
		SELECT rs.fetched_at, re.fetched_at, h.stars, h.forks, h.watchers, h.disk_usage
		FROM repo_metrics_hist h
		JOIN fetch_run rs ON rs.id = h.start_run_id
		JOIN fetch_run re ON re.id = h.end_run_id
		WHERE h.repo_id = ?
		ORDER BY h.start_run_id ASC
		LIMIT ?
	`
	rows, err := e.st.DB().QueryContext(ctx, q, repoID, limit)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []models.HistorySegment
	for rows.Next() {
		var startU, endU, stars, forks, watchers int64
		var disk sql.NullInt64
		if err := rows.Scan(&startU, &endU, &stars, &forks, &watchers, &disk); err != nil {
			return nil, apperr.Storage(err)
		}
		seg := models.HistorySegment{
			StartFetchedAt: time.Unix(startU, 0).UTC(),
			EndFetchedAt:   time.Unix(endU, 0).UTC(),
			Stars:          stars,
			Forks:          forks,
			Watchers:       watchers,
		}
		if disk.Valid {
			v := disk.Int64
			seg.DiskUsage = &v
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err)
	}
	return out, nil
}

// Languages lists the interned language names in name order, at most
// 5000 of them.
func (e *Engine) Languages(ctx context.Context) ([]string, error) {
	rows, err := e.st.DB().QueryContext(ctx, "SELECT name FROM language ORDER BY name LIMIT 5000")
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// TopTopics returns the limit most-associated topics by current repo
// count, grounded on original_source/crawler.py's deploy_site topic
// frequency query.
func (e *Engine) TopTopics(ctx context.Context, limit int) ([]models.TopicCount, error) {
	const q = `
		SELECT t.name, COUNT(rtl.repo_id) AS cnt
		FROM topic t
		JOIN repo_topic_latest rtl ON rtl.topic_id = t.id
		GROUP BY t.id
		ORDER BY cnt DESC
		LIMIT ?
	`
	rows, err := e.st.DB().QueryContext(ctx, q, limit)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	defer rows.Close()

	var out []models.TopicCount
	for rows.Next() {
		var tc models.TopicCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, apperr.Storage(err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
