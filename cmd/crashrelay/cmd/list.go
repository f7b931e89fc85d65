package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reports",
	Long:  "List stored reports, oldest first, optionally filtered by lifecycle state.",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var (
	listState string
	listJSON  bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listState, "state", "", "Only list reports in this state (active, processing, packaged, uploading)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, _ []string) error {
	var state core.State
	if listState != "" {
		st, err := core.ParseState(listState)
		if err != nil {
			return err
		}
		if !st.Stored() {
			return fmt.Errorf("state %s is not stored on disk", st)
		}
		state = st
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	reports, err := s.Manager.List(state)
	if err != nil {
		s.Logger.Warn("some reports could not be read", "error", err)
	}
	if listJSON {
		if reports == nil {
			reports = []core.Report{}
		}
		return outputJSON(cmd.OutOrStdout(), reports)
	}

	if len(reports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reports")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tURGENT\tATTEMPTS\tCREATED")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n",
			r.ID, r.State, r.Urgent, r.Attempts, r.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
