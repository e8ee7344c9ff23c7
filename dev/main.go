// Command dev provisions a local development environment for ingestd:
// a state directory, an empty catalog database and a starter config.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mre-backend/internal/catalog"
	configsqlite "mre-backend/lib/configutil/sqlite"
)

const stateDir = "dev/.state"

const starterConfig = `{
	database: { file: "dev/.state/catalog.db" },
	liverc: {
		base_url: "https://liverc.com",
		min_interval_ms: 1000,
		initial_delay_ms: 500,
		max_delay_ms: 15000,
		max_attempts: 4,
	},
	club_sweep_cron: "0 4 * * *",
	poll_interval_ms: 1000,
}
`

func create(recreate bool) error {
	if _, err := os.Stat("go.mod"); os.IsNotExist(err) {
		return fmt.Errorf("the dev environment must be created in the repository root (the same directory as the 'go.mod' file)")
	}

	if recreate {
		if err := os.RemoveAll(stateDir); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.MkdirAll(stateDir, 0777); err != nil && !os.IsExist(err) {
		return err
	}

	db, err := configsqlite.Struct{File: filepath.Join(stateDir, "catalog.db")}.OpenDB(catalog.Schema)
	if err != nil {
		return err
	}
	db.Close()

	configPath := "ingestd.json5"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(starterConfig), 0644); err != nil {
			return err
		}
		slog.Info("wrote starter config", "path", configPath)
	}

	slog.Info("dev environment ready", "state", stateDir)
	return nil
}

func main() {
	recreate := flag.Bool("recreate", false, "wipe and recreate the dev state directory")
	flag.Parse()

	if err := create(*recreate); err != nil {
		slog.Error("failed to create dev environment", "err", err)
		os.Exit(1)
	}
}
