package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/lib/configutil"
	configsqlite "mre-backend/lib/configutil/sqlite"
	"mre-backend/lib/liverc"
	"mre-backend/lib/restyutil"
	"mre-backend/lib/serviceutil"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "ingestd ingests LiveRC race results into the local catalog.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type LiveRCConfig struct {
	BaseUrl        string `json:"base_url"`
	ClubBaseUrl    string `json:"club_base_url"`
	UserAgent      string `json:"user_agent"`
	MinIntervalMs  int    `json:"min_interval_ms"`
	InitialDelayMs int    `json:"initial_delay_ms"`
	MaxDelayMs     int    `json:"max_delay_ms"`
	MaxAttempts    int    `json:"max_attempts"`
	// DebugDumpDir, when set, writes every raw exchange to disk.
	DebugDumpDir string `json:"debug_dump_dir"`
}

type Config struct {
	Database configsqlite.Struct `json:"database"`
	Liverc   LiveRCConfig        `json:"liverc"`
	// ClubSweepCron refreshes the club catalogue on a schedule, e.g.
	// "0 4 * * *". Empty disables the sweep.
	ClubSweepCron  string `json:"club_sweep_cron"`
	PollIntervalMs int    `json:"poll_interval_ms"`
}

func readConfig() Config {
	config, err := configutil.ReadConfig[Config]("ingestd.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return config
}

func openStore(config Config) (catalog.Store, *sql.DB) {
	db, err := config.Database.OpenDB(catalog.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	return catalog.NewStore(db), db
}

func newClient(config Config) *liverc.Client {
	client, err := liverc.NewClient(liverc.ClientOptions{
		BaseURL:      config.Liverc.BaseUrl,
		ClubBaseURL:  config.Liverc.ClubBaseUrl,
		UserAgent:    config.Liverc.UserAgent,
		MinInterval:  time.Duration(config.Liverc.MinIntervalMs) * time.Millisecond,
		InitialDelay: time.Duration(config.Liverc.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(config.Liverc.MaxDelayMs) * time.Millisecond,
		MaxAttempts:  config.Liverc.MaxAttempts,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize liverc client", err)
	}
	if config.Liverc.DebugDumpDir != "" {
		out, err := restyutil.NewFilesystemOutput(config.Liverc.DebugDumpDir)
		if err != nil {
			serviceutil.Fatal("failed to initialize debug dump dir", err)
		}
		client.SetDebugOutput(out)
	}
	return client
}
