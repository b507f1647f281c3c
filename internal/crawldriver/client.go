// Package crawldriver is the CrawlDriver boundary of SPEC_FULL §4.5: it
// talks to the upstream GitHub GraphQL search API and hands decoded
// batches of models.Snapshot to the ingestion engine. Grounded on
// original_source/crawler.py's GithubGraphQL class (rate-limit
// handling, retry loop, cursor pagination) and on the teacher's
// internal/ingester HTTP client style (package-prefixed log.Printf,
// context-first signatures).
package crawldriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// searchQuery mirrors original_source/crawler.py's GRAPHQL_QUERY, with
// databaseId added: db.py's upsert keys every row off databaseId, a
// field the reference crawler's query text omits — without it every
// snapshot would fail the "stable numeric id" filter and get dropped.
const searchQuery = `
query($queryString: String!, $cursor: String) {
  rateLimit {
    remaining
    resetAt
  }
  search(query: $queryString, type: REPOSITORY, first: 100, after: $cursor) {
    repositoryCount
    pageInfo {
      endCursor
      hasNextPage
    }
    nodes {
      ... on Repository {
        databaseId
        nameWithOwner
        stargazerCount
        forkCount
        description
        watchers { totalCount }
        homepageUrl
        createdAt
        updatedAt
        pushedAt
        isArchived
        diskUsage
        primaryLanguage {
          name
        }
        repositoryTopics(first: 20) {
          nodes {
            topic { name }
          }
        }
      }
    }
  }
}
`

const maxAttempts = 10

// Client is a retrying GitHub GraphQL client scoped to the repository
// search query.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client against baseURL (normally
// https://api.github.com/graphql), authenticating with token if set.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type searchResponse struct {
	Data struct {
		RateLimit *rateLimitInfo `json:"rateLimit"`
		Search    struct {
			RepositoryCount int        `json:"repositoryCount"`
			PageInfo        pageInfo   `json:"pageInfo"`
			Nodes           []repoNode `json:"nodes"`
		} `json:"search"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type rateLimitInfo struct {
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt"`
}

type pageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// searchPage runs one page of the search query, retrying on transient
// HTTP/network failures and pausing for both REST-style (403 +
// X-RateLimit-Remaining: 0) and in-band GraphQL rate limiting, exactly
// as GithubGraphQL._handle_rate_limit does. Retries stop at maxAttempts
// regardless of cause; non-retryable failures (malformed responses,
// non-rate-limit GraphQL errors, unexpected HTTP status codes) return
// immediately with retry left false by doOnce, so this loop never backs
// off a terminal error.
func (c *Client) searchPage(ctx context.Context, queryString, cursor string) (*searchResponse, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     searchQuery,
		Variables: map[string]any{"queryString": queryString, "cursor": nullableString(cursor)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	// serverErrBackoff holds the 5xx exponential-backoff state across
	// attempts of this page fetch; it is distinct from the flat sleep
	// used for network errors, per spec.md §4.5's two separate retry
	// policies.
	serverErrBackoff := backoff.NewExponentialBackOff()

	var attempts int
	for attempts < maxAttempts {
		resp, retry, err := c.doOnce(ctx, body, serverErrBackoff)
		if err != nil {
			return nil, err
		}
		if retry {
			attempts++
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("crawldriver: max retries exceeded for query %q", queryString)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// doOnce performs a single HTTP round trip. retry=true means the caller
// should loop again (after doOnce already slept as needed).
// serverErrBackoff supplies the exponential delay used for the 5xx
// branch only; network errors sleep a fixed interval instead, matching
// spec.md §4.5's "exponential backoff for 5xx, fixed backoff for
// network errors" split.
func (c *Client) doOnce(ctx context.Context, body []byte, serverErrBackoff *backoff.ExponentialBackOff) (resp *searchResponse, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, netErr := c.http.Do(req)
	if netErr != nil {
		log.Printf("[crawldriver] network error: %v. Retrying...", netErr)
		time.Sleep(5 * time.Second)
		return nil, true, nil
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusForbidden && httpResp.Header.Get("X-RateLimit-Remaining") == "0" {
		sleepUntilReset(httpResp.Header.Get("X-RateLimit-Reset"))
		return nil, true, nil
	}

	raw, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil {
		return nil, false, fmt.Errorf("read response body: %w", readErr)
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		var parsed searchResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, false, fmt.Errorf("decode graphql response: %w", err)
		}
		if len(parsed.Errors) > 0 {
			if hasRateLimitError(parsed.Errors) {
				log.Printf("[crawldriver] GraphQL rate limit error detected. Sleeping 60s.")
				time.Sleep(60 * time.Second)
				return nil, true, nil
			}
			return nil, false, fmt.Errorf("graphql errors: %v", parsed.Errors)
		}
		if rl := parsed.Data.RateLimit; rl != nil && rl.Remaining < 10 {
			sleepUntilResetAt(rl.ResetAt)
		}
		return &parsed, false, nil

	case httpResp.StatusCode >= 500 && httpResp.StatusCode <= 599:
		d := serverErrBackoff.NextBackOff()
		if d == backoff.Stop {
			return nil, false, fmt.Errorf("server error %d: exponential backoff exhausted", httpResp.StatusCode)
		}
		log.Printf("[crawldriver] server error %d, retrying in %s...", httpResp.StatusCode, d)
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(d):
		}
		return nil, true, nil

	default:
		return nil, false, fmt.Errorf("request failed with status %d: %s", httpResp.StatusCode, string(raw))
	}
}

func hasRateLimitError(errs []graphQLError) bool {
	for _, e := range errs {
		if e.Type == "RATE_LIMITED" {
			return true
		}
	}
	return false
}

func sleepUntilReset(resetHeader string) {
	resetUnix, err := strconv.ParseInt(resetHeader, 10, 64)
	if err != nil {
		time.Sleep(30 * time.Second)
		return
	}
	d := time.Until(time.Unix(resetUnix, 0)) + 5*time.Second
	if d < time.Second {
		d = time.Second
	}
	log.Printf("[crawldriver] HTTP rate limit hit. Sleeping for %s.", d)
	time.Sleep(d)
}

func sleepUntilResetAt(resetAt string) {
	t, err := time.Parse(time.RFC3339, resetAt)
	if err != nil {
		time.Sleep(30 * time.Second)
		return
	}
	d := time.Until(t) + 5*time.Second
	if d < time.Second {
		d = time.Second
	}
	log.Printf("[crawldriver] GraphQL remaining low. Sleeping for %s.", d)
	time.Sleep(d)
}
