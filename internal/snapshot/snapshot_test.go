package snapshot

import (
	"archive/tar"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/store"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/testutil"
)

var tok = testutil.ValidToken

func newStore(t *testing.T) *store.FileStore {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

// seed creates a report with a payload and walks it forward to state.
func seed(t *testing.T, s *store.FileStore, payload string, state core.State, urgent bool) core.Report {
	t.Helper()
	r, err := s.CreateActive()
	require.NoError(t, err)
	require.NoError(t, s.WriteFile(r.ID, core.StateActive, core.PayloadFile, []byte(payload)))
	if urgent {
		r, err = s.SetUrgent(r.ID, core.StateActive, true)
		require.NoError(t, err)
	}
	path := []core.State{core.StateActive, core.StateProcessing, core.StatePackaged, core.StateUploading}
	for i := 1; i < len(path) && path[i-1] != state; i++ {
		r, err = s.Move(r.ID, path[i-1], path[i])
		require.NoError(t, err)
		if path[i] == core.StatePackaged {
			require.NoError(t, s.WriteFile(r.ID, core.StatePackaged, core.ManifestFile, []byte(`{"encoding":"identity"}`)))
		}
	}
	require.Equal(t, state, r.State)
	return r
}

func export(t *testing.T, s *store.FileStore, opts *ExportOptions) *ExportResult {
	t.Helper()
	if opts.OutputPath == "" {
		opts.OutputPath = filepath.Join(t.TempDir(), "reports.tar.gz")
	}
	res, err := Export(s, tok, opts)
	require.NoError(t, err)
	return res
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newStore(t)
	active := seed(t, src, "active crash", core.StateActive, false)
	packaged := seed(t, src, "packaged crash", core.StatePackaged, true)
	uploading := seed(t, src, "in flight", core.StateUploading, false)

	res := export(t, src, &ExportOptions{AppVersion: "v1.0.0", InstanceID: "host-a"})
	assert.Equal(t, 3, res.Manifest.ReportCount)
	assert.Empty(t, res.Vanished)
	assert.FileExists(t, res.OutputPath)
	assert.NoFileExists(t, res.OutputPath+".tmp")

	manifest, err := ValidateSnapshot(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "host-a", manifest.InstanceID)
	assert.Len(t, manifest.Files, 5, "three payloads and two packaging manifests")

	dst := newStore(t)
	report, err := Import(dst, &ImportOptions{InputPath: res.OutputPath})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Count(ActionImported))
	assert.Equal(t, 5, report.RestoredFiles)

	got, err := dst.Get(active.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, got.State)
	assert.True(t, active.CreatedAt.Equal(got.CreatedAt))

	got, err = dst.Get(packaged.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatePackaged, got.State)
	assert.True(t, got.Urgent)
	data, err := dst.ReadFile(tok, packaged.ID, core.StatePackaged, core.PayloadFile)
	require.NoError(t, err)
	assert.Equal(t, "packaged crash", string(data))

	got, err = dst.Get(uploading.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatePackaged, got.State, "interrupted uploads start over as packaged")
}

func TestExport_RequiresConsent(t *testing.T) {
	s := newStore(t)
	seed(t, s, "x", core.StateActive, false)
	out := filepath.Join(t.TempDir(), "out.tar.gz")

	_, err := Export(s, testutil.RevokedToken, &ExportOptions{OutputPath: out})
	require.Error(t, err)
	assert.True(t, core.IsConsent(err))
	assert.NoFileExists(t, out)

	_, err = Export(s, nil, &ExportOptions{OutputPath: out})
	assert.True(t, core.IsConsent(err))
}

func TestExport_Filters(t *testing.T) {
	s := newStore(t)
	a := seed(t, s, "a", core.StateActive, false)
	b := seed(t, s, "b", core.StatePackaged, false)
	seed(t, s, "c", core.StatePackaged, false)

	res := export(t, s, &ExportOptions{States: []core.State{core.StatePackaged}})
	assert.Equal(t, 2, res.Manifest.ReportCount)

	res = export(t, s, &ExportOptions{IDs: []core.ReportID{a.ID, b.ID}})
	require.Equal(t, 2, res.Manifest.ReportCount)
	assert.Equal(t, a.ID, res.Manifest.Reports[0].ID)
	assert.Equal(t, b.ID, res.Manifest.Reports[1].ID)
}

func TestExport_InvalidOptions(t *testing.T) {
	s := newStore(t)
	tests := []struct {
		name string
		opts *ExportOptions
	}{
		{"nil", nil},
		{"no output", &ExportOptions{}},
		{"terminal state", &ExportOptions{OutputPath: "x.tar.gz", States: []core.State{core.StateUploaded}}},
		{"bad id", &ExportOptions{OutputPath: "x.tar.gz", IDs: []core.ReportID{"../etc"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Export(s, tok, tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestImport_ConflictPolicies(t *testing.T) {
	src := newStore(t)
	r := seed(t, src, "original", core.StatePackaged, false)
	res := export(t, src, &ExportOptions{})

	t.Run("skip", func(t *testing.T) {
		dst := newStore(t)
		_, err := Import(dst, &ImportOptions{InputPath: res.OutputPath})
		require.NoError(t, err)

		report, err := Import(dst, &ImportOptions{InputPath: res.OutputPath})
		require.NoError(t, err)
		assert.Equal(t, ConflictSkip, report.ConflictPolicy)
		assert.Equal(t, 1, report.Count(ActionSkipped))
		assert.Len(t, report.Conflicts, 1)
	})

	t.Run("fail", func(t *testing.T) {
		_, err := Import(src, &ImportOptions{InputPath: res.OutputPath, ConflictPolicy: ConflictFail})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrValidation(core.CodeReportExists, ""))
	})

	t.Run("overwrite", func(t *testing.T) {
		dst := newStore(t)
		_, err := Import(dst, &ImportOptions{InputPath: res.OutputPath})
		require.NoError(t, err)
		_, err = dst.Move(r.ID, core.StatePackaged, core.StateUploading)
		require.NoError(t, err)

		report, err := Import(dst, &ImportOptions{InputPath: res.OutputPath, ConflictPolicy: ConflictOverwrite})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Count(ActionReplaced))

		got, err := dst.Get(r.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatePackaged, got.State)
	})

	t.Run("invalid policy", func(t *testing.T) {
		_, err := Import(src, &ImportOptions{InputPath: res.OutputPath, ConflictPolicy: "merge"})
		assert.Error(t, err)
	})
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	src := newStore(t)
	r := seed(t, src, "payload", core.StateActive, false)
	res := export(t, src, &ExportOptions{})

	dst := newStore(t)
	report, err := Import(dst, &ImportOptions{InputPath: res.OutputPath, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Count(ActionImported))

	_, err = dst.Get(r.ID)
	assert.True(t, core.IsNotFound(err))
}

// rewriteArchive copies the archive at path, passing every entry through edit.
func rewriteArchive(t *testing.T, path string, edit func(name string, data []byte) []byte) string {
	t.Helper()
	entries, err := readEntries(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "edited.tar.gz")
	f, err := os.Create(out)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, raw := range entries {
		data := edit(name, raw)
		if data == nil {
			continue
		}
		require.NoError(t, writeTarEntry(tw, name, data))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return out
}

func TestValidateSnapshot_DetectsDamage(t *testing.T) {
	s := newStore(t)
	r := seed(t, s, "payload", core.StatePackaged, false)
	res := export(t, s, &ExportOptions{})
	payloadPath := reportArchivePath(r.ID, core.PayloadFile)

	tests := []struct {
		name string
		edit func(name string, data []byte) []byte
		want string
	}{
		{
			name: "tampered payload",
			edit: func(name string, data []byte) []byte {
				if name == payloadPath {
					return []byte("PAYLOAD")
				}
				return data
			},
			want: "checksum mismatch",
		},
		{
			name: "truncated payload",
			edit: func(name string, data []byte) []byte {
				if name == payloadPath {
					return data[:2]
				}
				return data
			},
			want: "size mismatch",
		},
		{
			name: "missing file",
			edit: func(name string, data []byte) []byte {
				if name == payloadPath {
					return nil
				}
				return data
			},
			want: "not found in archive",
		},
		{
			name: "missing manifest",
			edit: func(name string, data []byte) []byte {
				if name == manifestArchivePath {
					return nil
				}
				return data
			},
			want: "missing manifest.json",
		},
		{
			name: "unlisted file",
			edit: func(name string, data []byte) []byte {
				if name == manifestArchivePath {
					var m Manifest
					require.NoError(t, json.Unmarshal(data, &m))
					m.Files = m.Files[:1]
					out, err := json.Marshal(m)
					require.NoError(t, err)
					return out
				}
				return data
			},
			want: "not listed in manifest",
		},
		{
			name: "future version",
			edit: func(name string, data []byte) []byte {
				if name == manifestArchivePath {
					var m Manifest
					require.NoError(t, json.Unmarshal(data, &m))
					m.Version = FormatVersion + 1
					out, err := json.Marshal(m)
					require.NoError(t, err)
					return out
				}
				return data
			},
			want: "unsupported snapshot version",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateSnapshot(rewriteArchive(t, res.OutputPath, tt.edit))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSnapshot_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o600))
	_, err := ValidateSnapshot(path)
	assert.Error(t, err)

	_, err = ValidateSnapshot("")
	assert.Error(t, err)
}

func TestCleanArchivePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "reports/a/payload", want: "reports/a/payload"},
		{in: "./manifest.json", want: "manifest.json"},
		{in: "reports//a/./payload", want: "reports/a/payload"},
		{in: "", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: "../outside", wantErr: true},
		{in: "reports/../../outside", wantErr: true},
		{in: ".", wantErr: true},
	}
	for _, tt := range tests {
		got, err := cleanArchivePath(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseReportArchivePath(t *testing.T) {
	id, name, ok := parseReportArchivePath("reports/abc/payload")
	assert.True(t, ok)
	assert.Equal(t, core.ReportID("abc"), id)
	assert.Equal(t, "payload", name)

	for _, p := range []string{"manifest.json", "reports/abc", "other/abc/payload", "reports/abc/x/y"} {
		_, _, ok := parseReportArchivePath(p)
		assert.False(t, ok, p)
	}
}
