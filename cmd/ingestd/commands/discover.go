package commands

import (
	"fmt"
	"time"

	"mre-backend/lib/serviceutil"
	"mre-backend/services/discovery"

	"github.com/spf13/cobra"
)

var (
	discoverClub  *string
	discoverFrom  *string
	discoverTo    *string
	discoverLimit *int
)

func init() {
	discoverClub = discoverCmd.Flags().String("club", "", "The club id to discover events for.")
	discoverFrom = discoverCmd.Flags().String("from", "", "Start of the date window, YYYY-MM-DD.")
	discoverTo = discoverCmd.Flags().String("to", "", "End of the date window, YYYY-MM-DD.")
	discoverLimit = discoverCmd.Flags().Int("limit", 0, "Maximum number of events to return.")
	discoverCmd.MarkFlagRequired("club")
	rootCmd.AddCommand(discoverCmd)
}

var discoverCmd = &cobra.Command{
	Use:   "discover --club <id> [--from YYYY-MM-DD] [--to YYYY-MM-DD]",
	Short: "Lists a club's events inside a date window.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		config := readConfig()
		store, db := openStore(config)
		defer db.Close()

		end := time.Now().UTC()
		start := end.AddDate(0, 0, -6)
		var err error
		if *discoverFrom != "" {
			start, err = time.Parse("2006-01-02", *discoverFrom)
			if err != nil {
				serviceutil.Fatal("failed to parse --from", err)
			}
		}
		if *discoverTo != "" {
			end, err = time.Parse("2006-01-02", *discoverTo)
			if err != nil {
				serviceutil.Fatal("failed to parse --to", err)
			}
		}

		service := discovery.NewService(newClient(config), store.Clubs())
		events, err := service.DiscoverByClubAndDateRange(ctx, *discoverClub, start, end, *discoverLimit)
		if err != nil {
			serviceutil.Fatal("failed to discover events", err)
		}
		for _, event := range events {
			fmt.Printf("%s\t%s\t%s\n", event.Date.Format("2006-01-02"), event.Title, event.URL)
		}
	},
}
