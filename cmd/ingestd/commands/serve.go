package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mre-backend/internal/catalog"
	"mre-backend/internal/components/chrono"
	"mre-backend/lib/serviceutil"
	"mre-backend/lib/telemetry"
	"mre-backend/services/discovery"
	"mre-backend/services/importer"
	"mre-backend/services/jobqueue"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the import job scheduler and the periodic club sweep.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		t, err := telemetry.SetupFromEnv(ctx, "ingestd")
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		defer t.Shutdown(context.Background())

		config := readConfig()
		store, db := openStore(config)
		defer db.Close()
		client := newClient(config)

		imports := importer.NewService(client, importer.ReposFromStore(store),
			telemetry.SlogRecorder{})

		scheduler := jobqueue.NewScheduler(store.Jobs(), jobqueue.ItemExecutorFunc(
			func(ctx context.Context, item catalog.ImportJobItem) (map[string]int64, error) {
				var summary importer.Summary
				var err error
				switch item.TargetType {
				case catalog.TargetEvent:
					summary, err = imports.IngestEventSummary(ctx, item.TargetRef)
				case catalog.TargetSession:
					summary, err = imports.ImportFromURL(ctx, item.TargetRef)
				default:
					return nil, fmt.Errorf("unknown target type %q", item.TargetType)
				}
				if err != nil {
					return nil, err
				}
				return summary.Counts(), nil
			},
		), chrono.NewStandardImpl())
		if config.PollIntervalMs > 0 {
			scheduler.SetPollInterval(time.Duration(config.PollIntervalMs) * time.Millisecond)
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()

		if config.ClubSweepCron != "" {
			clubs := discovery.NewService(client, store.Clubs())
			sweeper := chrono.NewStandardCron()
			err := sweeper.Cron(config.ClubSweepCron, func() {
				count, err := clubs.SweepClubCatalogue(ctx)
				if err != nil {
					slog.Error("club sweep failed", "err", err)
					return
				}
				slog.Info("club sweep finished", "clubs", count)
			})
			if err != nil {
				serviceutil.Fatal("failed to schedule club sweep", err)
			}
			defer sweeper.Stop()
		}

		slog.Info("ingestd running")
		<-ctx.Done()
	},
}
