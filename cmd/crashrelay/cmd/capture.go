package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/pipeline"
)

var captureCmd = &cobra.Command{
	Use:   "capture [file]",
	Short: "Store a crash payload as a new report",
	Long: `Store a crash payload as a new report in the active area. The payload
is read from the file argument, or from stdin when the argument is "-" or
missing.

With --submit the report is packaged and queued right away. Uploading only
happens while data collection is enabled; otherwise the report stays on
disk until it is submitted later.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

var (
	captureUrgent bool
	captureSubmit bool
)

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().BoolVar(&captureUrgent, "urgent", false, "Mark the report urgent")
	captureCmd.Flags().BoolVar(&captureSubmit, "submit", false, "Package and queue the report immediately")
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(io.LimitReader(cmd.InOrStdin(), core.MaxPayloadBytes+1))
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, core.MaxPayloadBytes+1))
}

func runCapture(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(cmd, args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.Pipeline.Capture(cmd.Context(), payload, pipeline.CaptureOptions{
		Urgent: captureUrgent,
		Submit: captureSubmit,
	})
	if r.ID == "" {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.ID)
	if err != nil {
		s.Logger.WithReport(r.ID).Warn("report stored but not submitted", "error", err)
	}
	return nil
}
