package query

import (
	"database/sql"
	"strings"
	"time"

	"repoleaderboard/internal/models"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanItem reads one leaderboard row. When trending is true an extra
// newStars column is expected last.
func scanItem(s scanner, trending bool) (models.LeaderboardItem, error) {
	var (
		name                    string
		stars, forks, watchers  int64
		disk                    sql.NullInt64
		description, homepage   sql.NullString
		createdAt, pushedAt     sql.NullInt64
		isArchived              bool
		lang                    sql.NullString
		topicsConcat            sql.NullString
		newStars                sql.NullInt64
	)

	dest := []any{&name, &stars, &forks, &watchers, &disk, &description, &homepage, &createdAt, &pushedAt, &isArchived, &lang, &topicsConcat}
	if trending {
		dest = append(dest, &newStars)
	}

	if err := s.Scan(dest...); err != nil {
		return models.LeaderboardItem{}, err
	}

	item := models.LeaderboardItem{
		NameWithOwner: name,
		Stars:         stars,
		Forks:         forks,
		Watchers:      watchers,
		IsArchived:    isArchived,
	}
	if disk.Valid {
		v := disk.Int64
		item.DiskUsage = &v
	}
	if description.Valid {
		item.Description = description.String
	}
	if homepage.Valid {
		item.HomepageURL = homepage.String
	}
	if createdAt.Valid {
		item.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
	}
	if pushedAt.Valid {
		item.PushedAt = time.Unix(pushedAt.Int64, 0).UTC()
	}
	if lang.Valid {
		item.PrimaryLanguage = lang.String
	}
	item.Topics = splitTopics(topicsConcat)
	if trending && newStars.Valid {
		v := newStars.Int64
		item.NewStars = &v
	}
	return item, nil
}

// scanItems reads all rows of a leaderboard query.
func scanItems(rows *sql.Rows, trending bool) ([]models.LeaderboardItem, error) {
	var out []models.LeaderboardItem
	for rows.Next() {
		item, err := scanItem(rows, trending)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// splitTopics parses the GROUP_CONCAT(name, char(31)) aggregate used to
// flatten the topic join, mirroring db.py's row_to_obj topic handling.
func splitTopics(concat sql.NullString) []string {
	if !concat.Valid || concat.String == "" {
		return nil
	}
	parts := strings.Split(concat.String, "\x1f")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
