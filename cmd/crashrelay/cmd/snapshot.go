package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Move stored reports between machines",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored reports into a snapshot archive",
	Long: `Export stored reports into a .tar.gz snapshot archive. Reading report
content requires data collection to be enabled.`,
	Args: cobra.NoArgs,
	RunE: runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reports from a snapshot archive",
	Long: `Import reports from a snapshot archive. Packaged reports are queued the
next time the queue is restored (drain or serve).`,
	Args: cobra.NoArgs,
	RunE: runSnapshotImport,
}

var snapshotValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a snapshot archive without importing it",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotValidate,
}

var (
	snapshotExportOutputPath string
	snapshotExportStates     []string
	snapshotExportIDs        []string

	snapshotImportInputPath      string
	snapshotImportDryRun         bool
	snapshotImportConflictPolicy string
	snapshotImportJSON           bool

	snapshotValidateInputPath string
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotCmd.AddCommand(snapshotValidateCmd)

	snapshotExportCmd.Flags().StringVarP(&snapshotExportOutputPath, "output", "o", "", "Output .tar.gz path (default: ./crashrelay-snapshot-<timestamp>.tar.gz)")
	snapshotExportCmd.Flags().StringSliceVar(&snapshotExportStates, "state", nil, "States to export (repeatable). If omitted, exports every stored state")
	snapshotExportCmd.Flags().StringSliceVar(&snapshotExportIDs, "id", nil, "Report IDs to export (repeatable). If omitted, exports all reports")

	snapshotImportCmd.Flags().StringVarP(&snapshotImportInputPath, "input", "i", "", "Input .tar.gz snapshot path")
	snapshotImportCmd.Flags().BoolVar(&snapshotImportDryRun, "dry-run", false, "Preview import actions without writing reports")
	snapshotImportCmd.Flags().StringVar(&snapshotImportConflictPolicy, "conflict-policy", string(snapshot.ConflictSkip), "Conflict policy: skip | overwrite | fail")
	snapshotImportCmd.Flags().BoolVar(&snapshotImportJSON, "json", false, "Output the import report as JSON")
	_ = snapshotImportCmd.MarkFlagRequired("input")

	snapshotValidateCmd.Flags().StringVarP(&snapshotValidateInputPath, "input", "i", "", "Input .tar.gz snapshot path")
	_ = snapshotValidateCmd.MarkFlagRequired("input")
}

func runSnapshotExport(cmd *cobra.Command, _ []string) error {
	outputPath := strings.TrimSpace(snapshotExportOutputPath)
	if outputPath == "" {
		outputPath = filepath.Join(".", fmt.Sprintf("crashrelay-snapshot-%s.tar.gz", time.Now().UTC().Format("20060102-150405")))
	}

	states := make([]core.State, 0, len(snapshotExportStates))
	for _, s := range snapshotExportStates {
		st, err := core.ParseState(s)
		if err != nil {
			return err
		}
		states = append(states, st)
	}
	ids, err := reportIDs(snapshotExportIDs)
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	tok, err := s.Gate.Token()
	if err != nil {
		return err
	}
	result, err := snapshot.Export(s.Store, tok, &snapshot.ExportOptions{
		OutputPath: outputPath,
		States:     states,
		IDs:        ids,
		AppVersion: GetVersion(),
		InstanceID: s.InstanceID,
	})
	if err != nil {
		return err
	}
	for _, id := range result.Vanished {
		s.Logger.WithReport(id).Warn("report moved during export, skipped")
	}

	out := cmd.OutOrStdout()
	if quiet {
		fmt.Fprintln(out, result.OutputPath)
		return nil
	}
	fmt.Fprintf(out, "Snapshot exported to %s\n", result.OutputPath)
	fmt.Fprintf(out, "Reports: %d\n", result.Manifest.ReportCount)
	fmt.Fprintf(out, "Files: %d\n", len(result.Manifest.Files))
	return nil
}

func runSnapshotImport(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := snapshot.Import(s.Store, &snapshot.ImportOptions{
		InputPath:      snapshotImportInputPath,
		DryRun:         snapshotImportDryRun,
		ConflictPolicy: snapshot.ConflictPolicy(snapshotImportConflictPolicy),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if snapshotImportJSON {
		return outputJSON(out, report)
	}
	if quiet {
		return nil
	}
	fmt.Fprintf(out, "Snapshot import complete (dry_run=%t)\n", report.DryRun)
	fmt.Fprintf(out, "Reports imported: %d\n", report.Count(snapshot.ActionImported))
	fmt.Fprintf(out, "Reports replaced: %d\n", report.Count(snapshot.ActionReplaced))
	fmt.Fprintf(out, "Reports skipped: %d\n", report.Count(snapshot.ActionSkipped))
	fmt.Fprintf(out, "Files restored: %d\n", report.RestoredFiles)
	if len(report.Conflicts) > 0 {
		fmt.Fprintf(out, "Conflicts: %d\n", len(report.Conflicts))
	}
	return nil
}

func runSnapshotValidate(cmd *cobra.Command, _ []string) error {
	manifest, err := snapshot.ValidateSnapshot(snapshotValidateInputPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Snapshot is valid")
	fmt.Fprintf(out, "Format version: %d\n", manifest.Version)
	fmt.Fprintf(out, "Created at: %s\n", manifest.CreatedAt.Format(time.RFC3339))
	if manifest.InstanceID != "" {
		fmt.Fprintf(out, "Source instance: %s\n", manifest.InstanceID)
	}
	fmt.Fprintf(out, "Reports: %d\n", manifest.ReportCount)
	fmt.Fprintf(out, "Files: %d\n", len(manifest.Files))
	return nil
}
