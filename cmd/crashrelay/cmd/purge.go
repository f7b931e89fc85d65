package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/lifecycle"
)

var purgeCmd = &cobra.Command{
	Use:   "purge [report-id]...",
	Short: "Delete stored reports",
	Long: `Delete the given reports, every stored report with --all, or reports
older than a duration with --older-than. Reports being uploaded are left
alone by --older-than.`,
	RunE: runPurge,
}

var (
	purgeAll       bool
	purgeOlderThan time.Duration
)

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "Delete every stored report")
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "Delete reports older than this duration (e.g. 720h)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	modes := 0
	if len(args) > 0 {
		modes++
	}
	if purgeAll {
		modes++
	}
	if purgeOlderThan > 0 {
		modes++
	}
	if modes != 1 {
		return errors.New("specify report IDs, --all, or --older-than")
	}
	ids, err := reportIDs(args)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var n int
	switch {
	case purgeAll:
		n, err = s.Manager.PurgeAll(ctx, lifecycle.ReasonAdmin)
	case purgeOlderThan > 0:
		n, err = s.Manager.PurgeOlderThan(ctx, purgeOlderThan)
	default:
		var errs []error
		for _, id := range ids {
			if perr := s.Pipeline.Purge(ctx, id, lifecycle.ReasonAdmin); perr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, perr))
				continue
			}
			n++
		}
		err = errors.Join(errs...)
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d report(s)\n", n)
	}
	return err
}
