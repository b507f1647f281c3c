package crawldriver

import (
	"testing"
	"time"
)

func TestToSnapshot_MapsAllFields(t *testing.T) {
	disk := int64(1234)
	n := repoNode{
		DatabaseID:     42,
		NameWithOwner:  "acme/widget",
		StargazerCount: 10,
		ForkCount:      2,
		Description:    "a widget",
		HomepageURL:    "https://example.com",
		CreatedAt:      "2020-01-02T03:04:05Z",
		UpdatedAt:      "2021-01-02T03:04:05Z",
		PushedAt:       "2022-01-02T03:04:05Z",
		IsArchived:     true,
		DiskUsage:      &disk,
	}
	n.Watchers.TotalCount = 5
	n.PrimaryLanguage = &struct {
		Name string `json:"name"`
	}{Name: "Go"}
	n.RepositoryTopics.Nodes = []struct {
		Topic struct {
			Name string `json:"name"`
		} `json:"topic"`
	}{
		{Topic: struct {
			Name string `json:"name"`
		}{Name: "cli"}},
		{Topic: struct {
			Name string `json:"name"`
		}{Name: ""}},
	}

	snap := n.toSnapshot()

	if snap.ID != 42 || snap.NameWithOwner != "acme/widget" {
		t.Fatalf("got id=%d name=%q, want 42/acme/widget", snap.ID, snap.NameWithOwner)
	}
	if snap.Stars != 10 || snap.Forks != 2 || snap.Watchers != 5 {
		t.Fatalf("got stars=%d forks=%d watchers=%d, want 10/2/5", snap.Stars, snap.Forks, snap.Watchers)
	}
	if snap.DiskUsage == nil || *snap.DiskUsage != 1234 {
		t.Fatalf("got disk usage %v, want 1234", snap.DiskUsage)
	}
	if snap.PrimaryLanguage != "Go" {
		t.Fatalf("got language %q, want Go", snap.PrimaryLanguage)
	}
	if len(snap.Topics) != 1 || snap.Topics[0] != "cli" {
		t.Fatalf("got topics %v, want [cli] (blank entries dropped)", snap.Topics)
	}
	if !snap.IsArchived {
		t.Fatalf("got IsArchived=false, want true")
	}
	if !snap.CreatedAt.Equal(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("got createdAt %v, want 2020-01-02T03:04:05Z", snap.CreatedAt)
	}
}

func TestToSnapshot_NilLanguageAndNoDiskUsage(t *testing.T) {
	n := repoNode{DatabaseID: 1, NameWithOwner: "a/b", StargazerCount: 1}
	snap := n.toSnapshot()
	if snap.PrimaryLanguage != "" {
		t.Fatalf("got language %q, want empty", snap.PrimaryLanguage)
	}
	if snap.DiskUsage != nil {
		t.Fatalf("got disk usage %v, want nil", snap.DiskUsage)
	}
	if len(snap.Topics) != 0 {
		t.Fatalf("got topics %v, want empty", snap.Topics)
	}
}

func TestParseTimeOrZero(t *testing.T) {
	if !parseTimeOrZero("").IsZero() {
		t.Fatalf("want zero time for empty string")
	}
	if !parseTimeOrZero("not-a-time").IsZero() {
		t.Fatalf("want zero time for unparseable string")
	}
	got := parseTimeOrZero("2023-05-06T07:08:09Z")
	want := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
