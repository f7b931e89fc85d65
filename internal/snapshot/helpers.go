package snapshot

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

func normalizeExportOptions(opts *ExportOptions) error {
	if opts == nil {
		return fmt.Errorf("options are required")
	}
	if strings.TrimSpace(opts.OutputPath) == "" {
		return fmt.Errorf("output path is required")
	}
	if len(opts.States) == 0 {
		opts.States = core.StoredStates()
	}
	for _, st := range opts.States {
		if !st.Stored() {
			return core.ErrValidation(core.CodeInvalidState, fmt.Sprintf("state %s is not stored on disk", st))
		}
	}
	for _, id := range opts.IDs {
		if err := id.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func normalizeImportOptions(opts *ImportOptions) error {
	if opts == nil {
		return fmt.Errorf("options are required")
	}
	if strings.TrimSpace(opts.InputPath) == "" {
		return fmt.Errorf("input path is required")
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = ConflictSkip
	}
	if opts.ConflictPolicy != ConflictSkip && opts.ConflictPolicy != ConflictOverwrite && opts.ConflictPolicy != ConflictFail {
		return fmt.Errorf("invalid conflict policy: %s", opts.ConflictPolicy)
	}
	return nil
}

func reportArchivePath(id core.ReportID, name string) string {
	return path.Join(reportsArchiveRoot, id.String(), name)
}

// parseReportArchivePath splits reports/<id>/<name>.
func parseReportArchivePath(p string) (core.ReportID, string, bool) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 || parts[0] != reportsArchiveRoot || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return core.ReportID(parts[1]), parts[2], true
}

func cleanArchivePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty archive path")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute archive path is not allowed: %s", p)
	}
	clean := path.Clean(strings.TrimPrefix(filepath.ToSlash(p), "./"))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid archive path: %s", p)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, `\`) {
		return "", fmt.Errorf("path traversal detected: %s", p)
	}
	return clean, nil
}

// importState is where an archived report lands. Work that was in progress
// on the source machine starts over on the destination.
func importState(s core.State) core.State {
	switch s {
	case core.StatePackaged, core.StateUploading:
		return core.StatePackaged
	default:
		return core.StateActive
	}
}

func sortFileEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
}

func encodeManifest(manifest *Manifest) ([]byte, error) {
	sortFileEntries(manifest.Files)
	return json.MarshalIndent(manifest, "", "  ")
}

func decodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	if manifest.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", manifest.Version)
	}
	return &manifest, nil
}
