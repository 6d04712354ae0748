package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# kite-gtt configuration

[files]
# Watchlist CSV: Symbol, Exchange, Allocated, Entry1, Entry2, Entry3
watchlist = "watchlist.csv"
# ISIN reference table with "SYMBOL" and "ISIN NUMBER" columns
instrument_map = "instruments.csv"
# SQLite database for the trade ledger and ROI snapshots
database = "gtt.db"

[quotes]
# Quote provider: "upstox", "yahoo" or "holdings"
provider = "upstox"
# Cache lifetime before a refresh is required
ttl = "10m"
# Instrument keys per provider call
batch_size = 50
base_url = "https://api.upstox.com"
timeout = "15s"

[planner]
# Desired prices above LTP are capped at LTP * factor
price_cap_factor = 1.025

[sync]
# Log placements without sending them to the broker
dry_run = false
# Timezone that decides which triggered GTTs are from "today"
timezone = "Asia/Kolkata"

[trend]
# Minimum day-over-day ROI/day change that counts as movement
threshold = 0.002
# Default number of snapshots for "roi trend"
window = 5
# Dates averaged for the portfolio ROI/day trend
average_points = 5

[metrics]
# Prometheus textfile path; empty disables export
textfile = ""

[log]
# Log level: debug, info, warn, error
level = "info"
file = true
path = "logs/gtt.log"
`

const credentialsTemplate = `# kite-gtt credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
api_secret = ""
user_id = ""

[upstox]
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
