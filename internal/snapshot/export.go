package snapshot

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// Export writes the selected reports into a snapshot archive. Reading
// payload bytes needs a valid consent token. Reports that move or vanish
// while the export runs are left out and listed in the result.
func Export(st Store, tok core.ConsentToken, opts *ExportOptions) (_ *ExportResult, err error) {
	if err := normalizeExportOptions(opts); err != nil {
		return nil, err
	}
	if err := core.CheckConsent(tok); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	tmpPath := opts.OutputPath + ".tmp"
	out, err := os.Create(tmpPath) // #nosec G304 -- caller controls path
	if err != nil {
		return nil, fmt.Errorf("creating snapshot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	gzWriter := gzip.NewWriter(out)
	tarWriter := tar.NewWriter(gzWriter)

	manifest := &Manifest{
		Version:    FormatVersion,
		CreatedAt:  time.Now().UTC(),
		AppVersion: opts.AppVersion,
		InstanceID: opts.InstanceID,
		Reports:    make([]ReportEntry, 0),
		Files:      make([]FileEntry, 0),
	}
	result := &ExportResult{OutputPath: opts.OutputPath, Manifest: manifest}

	for _, state := range opts.States {
		for r, listErr := range st.List(state) {
			if listErr != nil {
				return nil, fmt.Errorf("listing %s reports: %w", state, listErr)
			}
			if len(opts.IDs) > 0 && !slices.Contains(opts.IDs, r.ID) {
				continue
			}
			entry, addErr := addReport(tarWriter, manifest, st, tok, r)
			if addErr != nil {
				if core.IsNotFound(addErr) {
					result.Vanished = append(result.Vanished, r.ID)
					continue
				}
				return nil, addErr
			}
			manifest.Reports = append(manifest.Reports, entry)
		}
	}
	manifest.ReportCount = len(manifest.Reports)

	manifestData, err := encodeManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := writeTarEntry(tarWriter, manifestArchivePath, manifestData); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return nil, fmt.Errorf("finishing compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, opts.OutputPath); err != nil {
		return nil, fmt.Errorf("publishing snapshot: %w", err)
	}
	return result, nil
}

// addReport reads every file of r before writing any, so a report that
// vanishes halfway leaves no partial entries behind.
func addReport(tw *tar.Writer, manifest *Manifest, st Store, tok core.ConsentToken, r core.Report) (ReportEntry, error) {
	names, err := st.Files(r.ID, r.State)
	if err != nil {
		return ReportEntry{}, err
	}

	contents := make([][]byte, len(names))
	for i, name := range names {
		data, readErr := st.ReadFile(tok, r.ID, r.State, name)
		if readErr != nil {
			return ReportEntry{}, readErr
		}
		contents[i] = data
	}

	for i, name := range names {
		if err := addBytesToArchive(tw, manifest, reportArchivePath(r.ID, name), contents[i]); err != nil {
			return ReportEntry{}, err
		}
	}

	return ReportEntry{
		ID:        r.ID,
		State:     r.State,
		Urgent:    r.Urgent,
		CreatedAt: r.CreatedAt,
		Attempts:  r.Attempts,
		Files:     names,
	}, nil
}

func addBytesToArchive(tw *tar.Writer, manifest *Manifest, archivePath string, data []byte) error {
	cleanPath, err := cleanArchivePath(archivePath)
	if err != nil {
		return fmt.Errorf("invalid archive path: %w", err)
	}

	if err := writeTarEntry(tw, cleanPath, data); err != nil {
		return fmt.Errorf("writing archive entry %s: %w", cleanPath, err)
	}

	hash := sha256.Sum256(data)
	manifest.Files = append(manifest.Files, FileEntry{
		Path:   cleanPath,
		SHA256: hex.EncodeToString(hash[:]),
		Size:   int64(len(data)),
	})
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:     filepath.ToSlash(name),
		Mode:     0o600,
		Size:     int64(len(data)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
