package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <report-id>...",
	Short: "Package reports and queue them for upload",
	Long: `Package the given reports and place them on the upload queue. Requires
data collection to be enabled. Use 'crashrelay drain' or 'crashrelay serve'
to upload queued reports.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var submitUrgent bool

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().BoolVar(&submitUrgent, "urgent", false, "Upload ahead of normal reports")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ids, err := reportIDs(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	var errs []error
	for _, id := range ids {
		r, err := s.Pipeline.SubmitReport(cmd.Context(), id, submitUrgent)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", r.ID, r.State)
		}
	}
	return errors.Join(errs...)
}
