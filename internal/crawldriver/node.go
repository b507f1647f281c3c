package crawldriver

import (
	"time"

	"repoleaderboard/internal/models"
)

// repoNode is the GraphQL Repository fragment shape requested by
// searchQuery, grounded on original_source/crawler.py's GRAPHQL_QUERY
// node selection.
type repoNode struct {
	DatabaseID      int64    `json:"databaseId"`
	NameWithOwner   string   `json:"nameWithOwner"`
	StargazerCount  int64    `json:"stargazerCount"`
	ForkCount       int64    `json:"forkCount"`
	Description     string   `json:"description"`
	Watchers        struct {
		TotalCount int64 `json:"totalCount"`
	} `json:"watchers"`
	HomepageURL     string  `json:"homepageUrl"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
	PushedAt        string  `json:"pushedAt"`
	IsArchived      bool    `json:"isArchived"`
	DiskUsage       *int64  `json:"diskUsage"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	RepositoryTopics struct {
		Nodes []struct {
			Topic struct {
				Name string `json:"name"`
			} `json:"topic"`
		} `json:"nodes"`
	} `json:"repositoryTopics"`
}

func (n repoNode) toSnapshot() models.Snapshot {
	lang := ""
	if n.PrimaryLanguage != nil {
		lang = n.PrimaryLanguage.Name
	}

	topics := make([]string, 0, len(n.RepositoryTopics.Nodes))
	for _, t := range n.RepositoryTopics.Nodes {
		if t.Topic.Name != "" {
			topics = append(topics, t.Topic.Name)
		}
	}

	return models.Snapshot{
		ID:              n.DatabaseID,
		NameWithOwner:   n.NameWithOwner,
		Description:     n.Description,
		HomepageURL:     n.HomepageURL,
		CreatedAt:       parseTimeOrZero(n.CreatedAt),
		Stars:           n.StargazerCount,
		Forks:           n.ForkCount,
		Watchers:        n.Watchers.TotalCount,
		DiskUsage:       n.DiskUsage,
		UpdatedAt:       parseTimeOrZero(n.UpdatedAt),
		PushedAt:        parseTimeOrZero(n.PushedAt),
		IsArchived:      n.IsArchived,
		PrimaryLanguage: lang,
		Topics:          topics,
	}
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
