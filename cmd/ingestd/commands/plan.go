package commands

import (
	"fmt"

	"mre-backend/lib/serviceutil"
	"mre-backend/services/plan"

	"github.com/spf13/cobra"
)

var planIncludeExisting *bool

func init() {
	planIncludeExisting = planCmd.Flags().Bool("include-existing", false,
		"Include fully imported events in the plan.")
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan <event-ref>...",
	Short: "Estimates ingestion scope for events and classifies them.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := readConfig()
		store, db := openStore(config)
		defer db.Close()

		service := plan.NewService(newClient(config), store.PlanState())
		result, err := service.CreatePlan(cmd.Context(), args, *planIncludeExisting)
		if err != nil {
			serviceutil.Fatal("failed to create plan", err)
		}

		for _, item := range result.Items {
			fmt.Printf("%-8s %s sessions=%d drivers=%d laps=%d\n",
				item.Status, item.EventRef,
				item.EstimatedSessions, item.EstimatedDrivers, item.EstimatedLaps)
		}
	},
}
