package api

import (
	"time"

	"repoleaderboard/internal/models"
)

// wireRepo is the compact repo-object wire shape of spec.md §6, grounded
// on original_source/db.py's row_to_obj (n/g/s/f/w/d/a/h/c/p/i/l/t,
// optional ns for trending results).
type wireRepo struct {
	N  string   `json:"n"`
	G  *int64   `json:"g"`
	S  int64    `json:"s"`
	F  int64    `json:"f"`
	W  int64    `json:"w"`
	D  *int64   `json:"d"`
	A  *string  `json:"a"`
	H  *string  `json:"h"`
	C  *string  `json:"c"`
	P  *string  `json:"p"`
	I  bool     `json:"i"`
	L  *string  `json:"l"`
	T  []string `json:"t"`
	NS *int64   `json:"ns,omitempty"`
}

func isoOrNil(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toWireRepo(item models.LeaderboardItem) wireRepo {
	topics := item.Topics
	if topics == nil {
		topics = []string{}
	}
	return wireRepo{
		N:  item.NameWithOwner,
		G:  item.GlobalRank,
		S:  item.Stars,
		F:  item.Forks,
		W:  item.Watchers,
		D:  item.DiskUsage,
		A:  strOrNil(item.Description),
		H:  strOrNil(item.HomepageURL),
		C:  isoOrNil(item.CreatedAt),
		P:  isoOrNil(item.PushedAt),
		I:  item.IsArchived,
		L:  strOrNil(item.PrimaryLanguage),
		T:  topics,
		NS: item.NewStars,
	}
}

type wireHistorySegment struct {
	StartFetchedAt *string `json:"startFetchedAt"`
	EndFetchedAt   *string `json:"endFetchedAt"`
	S              int64   `json:"s"`
	F              int64   `json:"f"`
	W              int64   `json:"w"`
	D              *int64  `json:"d"`
}

func toWireHistorySegment(seg models.HistorySegment) wireHistorySegment {
	return wireHistorySegment{
		StartFetchedAt: isoOrNil(seg.StartFetchedAt),
		EndFetchedAt:   isoOrNil(seg.EndFetchedAt),
		S:              seg.Stars,
		F:              seg.Forks,
		W:              seg.Watchers,
		D:              seg.DiskUsage,
	}
}
