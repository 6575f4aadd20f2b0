// File: cmd/search.go
package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/voxstay/browsergate/api/schemas"
	"github.com/voxstay/browsergate/internal/broker"
	"github.com/voxstay/browsergate/internal/observability"
)

var (
	searchCheckin  string
	searchCheckout string
	searchAdults   int
)

var searchCmd = &cobra.Command{
	Use:   "search <destination>",
	Short: "Run one destination search and print the summary.",
	Long: `Runs the full search workflow once against a fresh browser session and
prints the natural-language result. Useful for smoke-testing selectors
without standing up the service.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		b := broker.NewBroker(cfg, logger)
		defer b.Shutdown()

		req := schemas.ExecuteRequest{
			Action: "search",
			Params: map[string]any{
				"destination":   args[0],
				"checkin_date":  searchCheckin,
				"checkout_date": searchCheckout,
				"adults":        searchAdults,
			},
			RequestID: uuid.NewString(),
		}

		resp := b.Execute(cmd.Context(), req)
		if !resp.Success {
			return fmt.Errorf("search failed: %s", resp.Error)
		}
		fmt.Println(resp.Result)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchCheckin, "checkin", "", "check-in date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchCheckout, "checkout", "", "check-out date (YYYY-MM-DD)")
	searchCmd.Flags().IntVar(&searchAdults, "adults", 2, "number of adults")
	rootCmd.AddCommand(searchCmd)
}
