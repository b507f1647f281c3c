package main

import (
	"context"
	"log"
	"os"
	"time"

	"repoleaderboard/internal/config"
	"repoleaderboard/internal/crawldriver"
	"repoleaderboard/internal/ingestion"
	"repoleaderboard/internal/store"
)

const schedulerPollInterval = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Initializing repo leaderboard crawler...")
	log.Printf("DB: %s", cfg.DBPath)
	log.Printf("Upstream: %s", cfg.UpstreamURL)
	log.Printf("Scheduled hours (UTC): %v", cfg.CrawlHours)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	engine := ingestion.NewEngine(st)
	client := crawldriver.NewClient(cfg.UpstreamURL, cfg.UpstreamToken)
	driver := crawldriver.NewDriver(client, engine, st, "github-search")

	runAtHours(context.Background(), func(ctx context.Context) {
		log.Printf("Starting crawl pass for repos with >= %d stars (floor)...", cfg.MinStars)
		if err := driver.Run(ctx, cfg.MinStars); err != nil {
			log.Printf("Crawl pass failed: %v", err)
			return
		}
		log.Printf("Crawl pass complete.")
		// Swapping the live DB file and refreshing a running server's
		// response cache is a deployment-choreography concern (the
		// PM2 stop/copy/restart dance in original_source/crawler.py's
		// deploy_site), out of scope here per SPEC_FULL's Non-goals.
	}, cfg.CrawlHours)
}

// runAtHours mirrors original_source/crawler.py's run_at_hours: poll the
// wall clock and fire fn once per UTC hour that's in hours, skipping a
// repeat fire within the same hour.
func runAtHours(ctx context.Context, fn func(ctx context.Context), hours []int) {
	log.Printf("Scheduler started for hours: %v", hours)
	lastRunHour := -1

	inSchedule := func(h int) bool {
		for _, v := range hours {
			if v == h {
				return true
			}
		}
		return false
	}

	for {
		currentHour := time.Now().UTC().Hour()

		if inSchedule(currentHour) && currentHour != lastRunHour {
			fn(ctx)
			lastRunHour = currentHour
		}
		if !inSchedule(currentHour) {
			lastRunHour = -1
		}

		time.Sleep(schedulerPollInterval)
	}
}
