// Package models holds the plain data types shared between the
// ingestion engine, the query engine and the HTTP layer.
package models

import "time"

// Snapshot is one repository observation as handed to the ingestion
// engine by a CrawlDriver. Fields mirror the upstream GraphQL search
// node shape (see original_source/crawler.py's GRAPHQL_QUERY) but are
// already typed at the driver boundary; the ingestion engine drops
// entries with a non-positive ID or an empty name.
type Snapshot struct {
	ID             int64
	NameWithOwner  string
	Description    string
	HomepageURL    string
	CreatedAt      time.Time
	Stars          int64
	Forks          int64
	Watchers       int64
	DiskUsage      *int64
	UpdatedAt      time.Time
	PushedAt       time.Time
	IsArchived     bool
	PrimaryLanguage string // empty if none
	Topics         []string
}

// LeaderboardItem is one row of a leaderboard or trending response.
type LeaderboardItem struct {
	NameWithOwner string
	GlobalRank    *int64
	Stars         int64
	Forks         int64
	Watchers      int64
	DiskUsage     *int64
	Description   string
	HomepageURL   string
	CreatedAt     time.Time
	PushedAt      time.Time
	IsArchived    bool
	PrimaryLanguage string
	Topics        []string
	// NewStars is populated only for trending leaderboards.
	NewStars *int64
}

// HistorySegment is one RepoMetricsHist row rendered for the wire.
type HistorySegment struct {
	StartFetchedAt time.Time
	EndFetchedAt   time.Time
	Stars          int64
	Forks          int64
	Watchers       int64
	DiskUsage      *int64
}

// TopicCount is one entry of the topic-frequency listing.
type TopicCount struct {
	Name  string
	Count int64
}
