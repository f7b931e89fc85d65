package snapshot

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// Import restores the reports of a snapshot archive into st. The whole
// archive is validated first. Reports that were packaged or uploading at
// export time land in the packaged area, everything else in the active
// area. Attempt counters start over.
func Import(st Store, opts *ImportOptions) (*ImportReport, error) {
	if err := normalizeImportOptions(opts); err != nil {
		return nil, err
	}

	a, err := openArchive(opts.InputPath)
	if err != nil {
		return nil, err
	}
	manifest := a.manifest

	report := &ImportReport{
		DryRun:         opts.DryRun,
		ConflictPolicy: opts.ConflictPolicy,
		Manifest:       manifest,
		Reports:        make([]ReportImport, 0, len(manifest.Reports)),
	}

	for _, entry := range manifest.Reports {
		target := importState(entry.State)
		ri := ReportImport{ID: entry.ID, State: target, Action: ActionImported}

		existing, getErr := st.Get(entry.ID)
		switch {
		case getErr == nil:
			conflict := fmt.Sprintf("report %s already stored as %s", entry.ID, existing.State)
			report.Conflicts = append(report.Conflicts, conflict)
			switch opts.ConflictPolicy {
			case ConflictFail:
				return report, core.ErrValidation(core.CodeReportExists, conflict)
			case ConflictSkip:
				ri.Action = ActionSkipped
				ri.Reason = "already stored"
				report.Reports = append(report.Reports, ri)
				continue
			default:
				ri.Action = ActionReplaced
			}
		case !core.IsNotFound(getErr):
			return report, getErr
		}

		files := a.reportFiles(entry)

		if !opts.DryRun {
			if ri.Action == ActionReplaced {
				if err := st.Remove(entry.ID); err != nil {
					return report, fmt.Errorf("removing %s: %w", entry.ID, err)
				}
			}
			r := core.Report{ID: entry.ID, Urgent: entry.Urgent, CreatedAt: entry.CreatedAt}
			if _, err := st.Import(r, target, files); err != nil {
				return report, fmt.Errorf("importing %s: %w", entry.ID, err)
			}
		}
		report.RestoredFiles += len(files)
		report.Reports = append(report.Reports, ri)
	}

	return report, nil
}
