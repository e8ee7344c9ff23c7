package commands

import (
	"fmt"

	"mre-backend/lib/serviceutil"
	"mre-backend/services/discovery"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-clubs",
	Short: "Refreshes the club catalogue from the LiveRC track directory.",
	Run: func(cmd *cobra.Command, args []string) {
		config := readConfig()
		store, db := openStore(config)
		defer db.Close()

		service := discovery.NewService(newClient(config), store.Clubs())
		count, err := service.SweepClubCatalogue(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to sweep club catalogue", err)
		}
		fmt.Printf("swept %d clubs\n", count)
	},
}
