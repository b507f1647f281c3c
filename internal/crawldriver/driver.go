package crawldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"repoleaderboard/internal/ingestion"
	"repoleaderboard/internal/models"
	"repoleaderboard/internal/store"
)

// maxBucketResults mirrors GitHub search's hard 1000-result ceiling per
// query (original_source/crawler.py's "Max 1000 results allowed by
// GitHub" comment).
const maxBucketResults = 1000

const pageDelay = 100 * time.Millisecond

// Driver runs one full crawl pass: it walks increasing star buckets
// ("stars:>=N sort:stars-asc") until upstream returns no more results,
// feeding every page straight into an ingestion.Engine. Grounded on
// original_source/crawler.py's crawl().
type Driver struct {
	client *Client
	engine *ingestion.Engine
	store  *store.Store
	name   string // checkpoint row key; lets multiple drivers share a DB
}

// NewDriver builds a Driver. name identifies this driver's checkpoint
// row (SPEC_FULL §3's crawl_checkpoint table), letting a test harness
// or a second upstream run independently of the production crawler.
func NewDriver(client *Client, engine *ingestion.Engine, st *store.Store, name string) *Driver {
	return &Driver{client: client, engine: engine, store: st, name: name}
}

// Run executes one pass: bucket-by-bucket search, ingest, checkpoint,
// repeat, then closes out the pass with FinishRun. minStarsFloor is the
// configured starting point used only when no checkpoint exists yet.
func (d *Driver) Run(ctx context.Context, minStarsFloor int64) error {
	defer d.engine.FinishRun()

	currentMinStars, err := d.loadCheckpoint(ctx, minStarsFloor)
	if err != nil {
		return fmt.Errorf("load crawl checkpoint: %w", err)
	}

	for {
		searchQueryString := fmt.Sprintf("stars:>=%d sort:stars-asc", currentMinStars)
		log.Printf("[crawldriver] querying bucket: %q", searchQueryString)

		lastStars, count, err := d.fetchBucket(ctx, searchQueryString)
		if err != nil {
			return err
		}
		if count == 0 {
			log.Printf("[crawldriver] no more results found, pass complete")
			return nil
		}

		if lastStars == currentMinStars {
			currentMinStars++
		} else {
			currentMinStars = lastStars
		}

		if err := d.saveCheckpoint(ctx, currentMinStars); err != nil {
			return fmt.Errorf("save crawl checkpoint: %w", err)
		}
	}
}

// fetchBucket pages through one star bucket up to maxBucketResults,
// ingesting each page as it arrives rather than buffering the whole
// bucket in memory (crawler.py buffers into batch_repos; a long-running
// service holding one ingestion transaction open per page instead keeps
// memory bounded and surfaces partial progress sooner).
func (d *Driver) fetchBucket(ctx context.Context, searchQueryString string) (lastStars int64, fetched int, err error) {
	var cursor string
	for {
		// searchPage already retries its own retryable failures (network
		// errors, 5xx, rate limiting) internally up to maxAttempts; an
		// error returned here is terminal (malformed response, non-rate-
		// limit GraphQL error, unexpected status code) and wrapping it in
		// another backoff loop would just retry something doOnce already
		// decided not to retry.
		resp, err := d.client.searchPage(ctx, searchQueryString, cursor)
		if err != nil {
			return 0, fetched, fmt.Errorf("search page: %w", err)
		}

		nodes := resp.Data.Search.Nodes
		if len(nodes) == 0 {
			break
		}

		batch := make([]models.Snapshot, 0, len(nodes))
		for _, n := range nodes {
			batch = append(batch, n.toSnapshot())
		}
		if err := d.engine.Ingest(ctx, batch); err != nil {
			return 0, fetched, fmt.Errorf("ingest page: %w", err)
		}

		fetched += len(nodes)
		lastStars = nodes[len(nodes)-1].StargazerCount
		log.Printf("[crawldriver] fetched %d items, total %d, last star count %d", len(nodes), fetched, lastStars)

		if !resp.Data.Search.PageInfo.HasNextPage || fetched >= maxBucketResults {
			break
		}
		cursor = resp.Data.Search.PageInfo.EndCursor
		time.Sleep(pageDelay)
	}
	return lastStars, fetched, nil
}

func (d *Driver) loadCheckpoint(ctx context.Context, floor int64) (int64, error) {
	var minStars int64
	err := d.store.DB().QueryRowContext(ctx,
		`SELECT min_stars FROM crawl_checkpoint WHERE driver_name = ?`, d.name,
	).Scan(&minStars)
	if errors.Is(err, sql.ErrNoRows) {
		return floor, nil
	}
	if err != nil {
		return 0, err
	}
	return minStars, nil
}

func (d *Driver) saveCheckpoint(ctx context.Context, minStars int64) error {
	_, err := d.store.DB().ExecContext(ctx, `
		INSERT INTO crawl_checkpoint(driver_name, min_stars, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(driver_name) DO UPDATE SET
			min_stars  = excluded.min_stars,
			updated_at = excluded.updated_at
	`, d.name, minStars, time.Now().Unix())
	return err
}
