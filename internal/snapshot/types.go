// Package snapshot moves stored reports between machines as a single
// gzip-compressed tar archive. The archive carries a manifest with one entry
// per report and a SHA-256 checksum for every file, so a damaged archive is
// rejected before anything is written to the destination store.
package snapshot

import (
	"iter"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

const (
	// FormatVersion is the current snapshot manifest format version.
	FormatVersion = 1

	manifestArchivePath = "manifest.json"
	reportsArchiveRoot  = "reports"
)

// ConflictPolicy controls how import handles reports already present in the
// destination store.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictFail      ConflictPolicy = "fail"
)

// Store is the part of the report store snapshots need.
type Store interface {
	Get(id core.ReportID) (core.Report, error)
	List(state core.State) iter.Seq2[core.Report, error]
	Files(id core.ReportID, state core.State) ([]string, error)
	ReadFile(tok core.ConsentToken, id core.ReportID, state core.State, name string) ([]byte, error)
	Import(r core.Report, state core.State, files map[string][]byte) (core.Report, error)
	Remove(id core.ReportID) error
}

// FileEntry describes one archived file.
type FileEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// ReportEntry captures report metadata embedded in the manifest.
type ReportEntry struct {
	ID        core.ReportID `json:"id"`
	State     core.State    `json:"state"`
	Urgent    bool          `json:"urgent"`
	CreatedAt time.Time     `json:"created_at"`
	Attempts  int           `json:"attempts"`
	Files     []string      `json:"files"`
}

// Manifest is the metadata file stored at snapshot root.
type Manifest struct {
	Version     int           `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	AppVersion  string        `json:"app_version,omitempty"`
	InstanceID  string        `json:"instance_id,omitempty"`
	ReportCount int           `json:"report_count"`
	Reports     []ReportEntry `json:"reports"`
	Files       []FileEntry   `json:"files"`
}

// ExportOptions configures snapshot export behavior.
type ExportOptions struct {
	OutputPath string
	// States limits the export to these areas. Empty means every stored
	// state.
	States []core.State
	// IDs limits the export to these reports. Empty means all.
	IDs        []core.ReportID
	AppVersion string
	InstanceID string
}

// ExportResult describes an export operation.
type ExportResult struct {
	OutputPath string          `json:"output_path"`
	Manifest   *Manifest       `json:"manifest"`
	Vanished   []core.ReportID `json:"vanished,omitempty"`
}

// ImportOptions configures snapshot import behavior.
type ImportOptions struct {
	InputPath      string
	DryRun         bool
	ConflictPolicy ConflictPolicy
}

// Import actions recorded per report.
const (
	ActionImported = "imported"
	ActionReplaced = "replaced"
	ActionSkipped  = "skipped"
)

// ReportImport is the per-report result from import.
type ReportImport struct {
	ID     core.ReportID `json:"id"`
	State  core.State    `json:"state"`
	Action string        `json:"action"`
	Reason string        `json:"reason,omitempty"`
}

// ImportReport summarizes import execution.
type ImportReport struct {
	DryRun         bool           `json:"dry_run"`
	ConflictPolicy ConflictPolicy `json:"conflict_policy"`
	Manifest       *Manifest      `json:"manifest"`
	Reports        []ReportImport `json:"reports"`
	Conflicts      []string       `json:"conflicts,omitempty"`
	RestoredFiles  int            `json:"restored_files"`
}

// Count returns how many reports ended with action.
func (r *ImportReport) Count(action string) int {
	n := 0
	for _, ri := range r.Reports {
		if ri.Action == action {
			n++
		}
	}
	return n
}
