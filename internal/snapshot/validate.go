package snapshot

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// maxEntryBytes bounds a single archive entry. Payloads are capped at
// core.MaxPayloadBytes; packaged encodings can add a little framing.
const maxEntryBytes = core.MaxPayloadBytes * 2

// ValidateSnapshot checks an archive end to end and returns its manifest.
// Nothing is written.
func ValidateSnapshot(inputPath string) (*Manifest, error) {
	a, err := openArchive(inputPath)
	if err != nil {
		return nil, err
	}
	return a.manifest, nil
}

// archive is a fully read and verified snapshot held in memory.
type archive struct {
	manifest *Manifest
	entries  map[string][]byte
}

func (a *archive) reportFiles(entry ReportEntry) map[string][]byte {
	files := make(map[string][]byte, len(entry.Files))
	for _, name := range entry.Files {
		files[name] = a.entries[reportArchivePath(entry.ID, name)]
	}
	return files
}

func openArchive(inputPath string) (*archive, error) {
	if inputPath == "" {
		return nil, fmt.Errorf("input path is required")
	}
	entries, err := readEntries(inputPath)
	if err != nil {
		return nil, err
	}

	raw, ok := entries[manifestArchivePath]
	if !ok {
		return nil, fmt.Errorf("snapshot is missing %s", manifestArchivePath)
	}
	m, err := decodeManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	a := &archive{manifest: m, entries: entries}
	if err := a.verifyFiles(); err != nil {
		return nil, err
	}
	if err := a.verifyReports(); err != nil {
		return nil, err
	}
	return a, nil
}

func readEntries(inputPath string) (map[string][]byte, error) {
	f, err := os.Open(inputPath) // #nosec G304 -- caller controls path
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("unsupported tar entry type %d for %s", hdr.Typeflag, hdr.Name)
		}
		if hdr.Size > maxEntryBytes {
			return nil, fmt.Errorf("archive entry %s is too large", hdr.Name)
		}

		name, err := cleanArchivePath(hdr.Name)
		if err != nil {
			return nil, fmt.Errorf("invalid archive path %q: %w", hdr.Name, err)
		}
		if _, dup := entries[name]; dup {
			return nil, fmt.Errorf("duplicate archive entry: %s", name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxEntryBytes))
		if err != nil {
			return nil, fmt.Errorf("reading tar entry %s: %w", name, err)
		}
		entries[name] = data
	}
}

// verifyFiles matches the manifest's file list against the archive
// entries in both directions and checks every size and checksum.
func (a *archive) verifyFiles() error {
	listed := make(map[string]struct{}, len(a.manifest.Files))
	for _, fe := range a.manifest.Files {
		data, ok := a.entries[fe.Path]
		if !ok {
			return fmt.Errorf("manifest entry not found in archive: %s", fe.Path)
		}
		if n := int64(len(data)); n != fe.Size {
			return fmt.Errorf("size mismatch for %s: manifest=%d archive=%d", fe.Path, fe.Size, n)
		}
		if sum := sha256.Sum256(data); hex.EncodeToString(sum[:]) != fe.SHA256 {
			return fmt.Errorf("checksum mismatch for %s", fe.Path)
		}
		listed[fe.Path] = struct{}{}
	}
	for name := range a.entries {
		if _, ok := listed[name]; !ok && name != manifestArchivePath {
			return fmt.Errorf("archive entry not listed in manifest: %s", name)
		}
	}
	return nil
}

// verifyReports checks that reports and files reference each other.
func (a *archive) verifyReports() error {
	m := a.manifest
	if m.ReportCount != len(m.Reports) {
		return fmt.Errorf("manifest lists %d reports but counts %d", len(m.Reports), m.ReportCount)
	}

	reports := make(map[core.ReportID]struct{}, len(m.Reports))
	for _, entry := range m.Reports {
		if err := entry.ID.Validate(); err != nil {
			return fmt.Errorf("manifest report: %w", err)
		}
		if _, dup := reports[entry.ID]; dup {
			return fmt.Errorf("report %s listed twice", entry.ID)
		}
		reports[entry.ID] = struct{}{}
		if !entry.State.Stored() {
			return fmt.Errorf("report %s has unsupported state %q", entry.ID, entry.State)
		}
		for _, name := range entry.Files {
			if _, ok := a.entries[reportArchivePath(entry.ID, name)]; !ok {
				return fmt.Errorf("report %s is missing file %s", entry.ID, name)
			}
		}
	}

	for _, fe := range m.Files {
		id, _, ok := parseReportArchivePath(fe.Path)
		if _, known := reports[id]; !ok || !known {
			return fmt.Errorf("archive entry belongs to no report: %s", fe.Path)
		}
	}
	return nil
}
