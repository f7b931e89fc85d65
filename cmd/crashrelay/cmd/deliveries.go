package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/journal"
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Show recently confirmed uploads",
	Args:  cobra.NoArgs,
	RunE:  runDeliveries,
}

var (
	deliveriesLimit int
	deliveriesJSON  bool
)

func init() {
	rootCmd.AddCommand(deliveriesCmd)
	deliveriesCmd.Flags().IntVar(&deliveriesLimit, "limit", 20, "Maximum number of deliveries to show")
	deliveriesCmd.Flags().BoolVar(&deliveriesJSON, "json", false, "Output as JSON")
}

func runDeliveries(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.Journal.Recent(cmd.Context(), deliveriesLimit)
	if err != nil {
		return err
	}
	if deliveriesJSON {
		if list == nil {
			list = []journal.Delivery{}
		}
		return outputJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deliveries")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REPORT\tDELIVERED\tREFERENCE")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ReportID, d.DeliveredAt.Local().Format(time.DateTime), d.Reference)
	}
	return w.Flush()
}
