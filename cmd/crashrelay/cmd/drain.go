package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Upload every queued report once",
	Long: `Restore the upload queue from disk and upload every packaged report
once, urgent reports first. Failed reports stay packaged for the next run.
Requires data collection to be enabled.`,
	Args: cobra.NoArgs,
	RunE: runDrain,
}

var drainJSON bool

func init() {
	rootCmd.AddCommand(drainCmd)
	drainCmd.Flags().BoolVar(&drainJSON, "json", false, "Output as JSON")
}

func runDrain(cmd *cobra.Command, _ []string) (err error) {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	reporter := newCrashReporter(s, "drain", nil)
	defer reporter.RecoverAndReturn(&err)

	if _, err := s.Start(cmd.Context()); err != nil {
		s.Logger.Warn("restoring queue", "error", err)
	}
	res, err := s.Pipeline.Drain(cmd.Context())
	if err != nil {
		return err
	}

	if drainJSON {
		return outputJSON(cmd.OutOrStdout(), res)
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d, failed %d, skipped %d\n", res.Uploaded, res.Failed, res.Skipped)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d report(s) failed to upload", res.Failed)
	}
	return nil
}
