// Package config loads process configuration from an optional YAML file
// with environment-variable overrides, following the teacher's
// env-first, file-as-fallback style (see main.go's os.Getenv chain).
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the serving and crawling binaries.
type Config struct {
	DBPath      string `yaml:"db_path"`
	APIPort     string `yaml:"api_port"`
	MinStars    int64  `yaml:"min_stars"`
	CrawlHours  []int  `yaml:"crawl_hours"`
	UpstreamURL string `yaml:"upstream_url"`
	UpstreamToken string `yaml:"-"` // never read from file; env only
}

// Default returns the configuration the teacher's main.go would fall
// back to when no env vars or file are present.
func Default() Config {
	return Config{
		DBPath:      "repos.db",
		APIPort:     "8080",
		MinStars:    1000,
		CrawlHours:  []int{0, 6, 12, 18},
		UpstreamURL: "https://api.github.com/graphql",
	}
}

// Load reads path (if non-empty and present) into a Config seeded with
// Default, then applies environment-variable overrides. A missing file
// is not an error: the zero-config deployment just runs on env vars.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		cfg.APIPort = v
	}
	if v := os.Getenv("MIN_STARS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MinStars = n
		}
	}
	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		cfg.UpstreamURL = v
	}
	cfg.UpstreamToken = os.Getenv("UPSTREAM_TOKEN")

	return cfg, nil
}
