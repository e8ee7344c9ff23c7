package commands

import (
	"fmt"

	"mre-backend/lib/serviceutil"
	"mre-backend/lib/telemetry"
	"mre-backend/services/importer"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(importEventCmd)
	rootCmd.AddCommand(importURLCmd)
}

var importEventCmd = &cobra.Command{
	Use:   "import-event <event-ref>...",
	Short: "Imports every session of the given events.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := readConfig()
		store, db := openStore(config)
		defer db.Close()

		service := importer.NewService(newClient(config),
			importer.ReposFromStore(store), telemetry.SlogRecorder{})
		for _, ref := range args {
			summary, err := service.IngestEventSummary(cmd.Context(), ref)
			if err != nil {
				serviceutil.Fatal("failed to import event", err)
			}
			printSummary(ref, summary)
		}
	},
}

var importURLCmd = &cobra.Command{
	Use:   "import-url <results-url>",
	Short: "Imports a single session from its results url.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := readConfig()
		store, db := openStore(config)
		defer db.Close()

		service := importer.NewService(newClient(config),
			importer.ReposFromStore(store), telemetry.SlogRecorder{})
		summary, err := service.ImportFromURL(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to import url", err)
		}
		printSummary(args[0], summary)
	},
}

func printSummary(ref string, summary importer.Summary) {
	fmt.Printf("%s: sessions=%d rows=%d laps=%d drivers_with_laps=%d skipped=%d\n",
		ref, summary.SessionsImported, summary.ResultRowsImported,
		summary.LapsImported, summary.DriversWithLaps, summary.LapsSkipped)
}
