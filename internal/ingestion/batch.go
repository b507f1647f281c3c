package ingestion

import (
	"context"
	"database/sql"
	"fmt"

	"repoleaderboard/internal/models"
)

// resolveNameConflicts implements spec.md §4.2 phase 2: any existing Repo
// row sharing a batch snapshot's nameWithOwner but a different id is
// disassociated (its RepoLatest and RepoTopicLatest rows deleted) and
// renamed to "{old}-renamed-{id}", where id is the incoming snapshot's
// id, preserving uniqueness while keeping its history under the losing id.
//
// Grounded on db.py's three executemany calls in upsert_from_github_nodes
// (DELETE repo_latest, DELETE repo_topic_latest, UPDATE repo ... renamed).
func resolveNameConflicts(ctx context.Context, tx *sql.Tx, nodes []models.Snapshot) error {
	delLatest, err := tx.PrepareContext(ctx, `
		DELETE FROM repo_latest
		WHERE repo_id IN (SELECT id FROM repo WHERE name_with_owner = ? AND id != ?)
	`)
	if err != nil {
		return err
	}
	defer delLatest.Close()

	delTopics, err := tx.PrepareContext(ctx, `
		DELETE FROM repo_topic_latest
		WHERE repo_id IN (SELECT id FROM repo WHERE name_with_owner = ? AND id != ?)
	`)
	if err != nil {
		return err
	}
	defer delTopics.Close()

	rename, err := tx.PrepareContext(ctx, `
		UPDATE repo
		SET name_with_owner = name_with_owner || '-renamed-' || ?
		WHERE name_with_owner = ? AND id != ?
	`)
	if err != nil {
		return err
	}
	defer rename.Close()

	for _, n := range nodes {
		if _, err := delLatest.ExecContext(ctx, n.NameWithOwner, n.ID); err != nil {
			return fmt.Errorf("delete conflicting latest for %q: %w", n.NameWithOwner, err)
		}
		if _, err := delTopics.ExecContext(ctx, n.NameWithOwner, n.ID); err != nil {
			return fmt.Errorf("delete conflicting topics for %q: %w", n.NameWithOwner, err)
		}
		if _, err := rename.ExecContext(ctx, n.ID, n.NameWithOwner, n.ID); err != nil {
			return fmt.Errorf("rename conflicting repo for %q: %w", n.NameWithOwner, err)
		}
	}
	return nil
}

// upsertRepos implements spec.md §4.2 phase 3: insert on new id, update
// nameWithOwner/description/homepageUrl on conflict, createdAt set once.
func upsertRepos(ctx context.Context, tx *sql.Tx, nodes []models.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repo(id, name_with_owner, created_at, description, homepage_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name_with_owner = excluded.name_with_owner,
			description     = excluded.description,
			homepage_url    = excluded.homepage_url
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.ExecContext(ctx, n.ID, n.NameWithOwner, unixPtr(n.CreatedAt), nullString(n.Description), nullString(n.HomepageURL)); err != nil {
			return fmt.Errorf("upsert repo %q: %w", n.NameWithOwner, err)
		}
	}
	return nil
}

type existingLatest struct {
	historyStartRunID        int64
	stars, forks, watchers   int64
	disk                      *int64
}

// fetchLatestMetrics batches the existing RepoLatest lookup needed to
// diff incoming snapshots, mirroring db.py's _fetch_latest_metrics
// chunked IN-clause query.
func fetchLatestMetrics(ctx context.Context, tx *sql.Tx, repoIDs []int64) (map[int64]existingLatest, error) {
	out := make(map[int64]existingLatest, len(repoIDs))
	if len(repoIDs) == 0 {
		return out, nil
	}

	const chunkSize = 500
	for start := 0; start < len(repoIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(repoIDs) {
			end = len(repoIDs)
		}
		chunk := repoIDs[start:end]

		placeholders, args := inClause(chunk)
		q := fmt.Sprintf(`
			SELECT repo_id, history_start_run_id, stars, forks, watchers, disk_usage
			FROM repo_latest WHERE repo_id IN (%s)
		`, placeholders)

		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var repoID, historyStart, stars, forks, watchers int64
			var disk sql.NullInt64
			if err := rows.Scan(&repoID, &historyStart, &stars, &forks, &watchers, &disk); err != nil {
				rows.Close()
				return nil, err
			}
			el := existingLatest{historyStartRunID: historyStart, stars: stars, forks: forks, watchers: watchers}
			if disk.Valid {
				v := disk.Int64
				el.disk = &v
			}
			out[repoID] = el
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// refreshTopics implements spec.md §4.2 phase 6: delete all existing
// associations for the batch's repo ids, then insert the new pairs,
// interning topic names on demand via e's process-local cache.
func refreshTopics(ctx context.Context, tx *sql.Tx, topicsByRepo map[int64][]string, e *Engine) error {
	repoIDs := make([]int64, 0, len(topicsByRepo))
	for id := range topicsByRepo {
		repoIDs = append(repoIDs, id)
	}

	const chunkSize = 500
	for start := 0; start < len(repoIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(repoIDs) {
			end = len(repoIDs)
		}
		placeholders, args := inClause(repoIDs[start:end])
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM repo_topic_latest WHERE repo_id IN (%s)", placeholders), args...); err != nil {
			return fmt.Errorf("clear topics: %w", err)
		}
	}

	insert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO repo_topic_latest(repo_id, topic_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for repoID, names := range topicsByRepo {
		for _, name := range names {
			if name == "" {
				continue
			}
			topicID, err := e.topicID(ctx, tx, name)
			if err != nil {
				return fmt.Errorf("intern topic %q: %w", name, err)
			}
			if _, err := insert.ExecContext(ctx, repoID, topicID); err != nil {
				return fmt.Errorf("link topic %q to repo %d: %w", name, repoID, err)
			}
		}
	}
	return nil
}

// langID interns name (if non-empty) into the language table, caching
// the id for the engine's lifetime. Mirrors db.py's
// _get_or_create_language_id.
func (e *Engine) langID(ctx context.Context, tx *sql.Tx, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := e.langCache[name]; ok {
		return &id, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO language(name) VALUES (?)`, name); err != nil {
		return nil, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM language WHERE name = ?`, name).Scan(&id); err != nil {
		return nil, err
	}
	e.langCache[name] = id
	return &id, nil
}

// topicID interns name into the topic table, mirroring db.py's
// _get_or_create_topic_id.
func (e *Engine) topicID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if id, ok := e.topicCache[name]; ok {
		return id, nil
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO topic(name) VALUES (?)`, name); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM topic WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, err
	}
	e.topicCache[name] = id
	return id, nil
}

func inClause(ids []int64) (string, []any) {
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	return string(placeholders), args
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
