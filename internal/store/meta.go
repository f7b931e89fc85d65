package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/fsutil"
)

// meta is the persisted part of a report. The lifecycle state is not stored:
// it is the area the directory lives in.
type meta struct {
	Version   int           `json:"version"`
	ID        core.ReportID `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Urgent    bool          `json:"urgent"`
	Attempts  int           `json:"attempts"`
}

const metaVersion = 1

func (m meta) report(state core.State, dir string) core.Report {
	return core.Report{
		ID:        m.ID,
		State:     state,
		Path:      dir,
		Urgent:    m.Urgent,
		CreatedAt: m.CreatedAt,
		Attempts:  m.Attempts,
	}
}

func readMeta(dir string) (meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile)) // #nosec G304 -- path built from store root and validated id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta{}, core.ErrNotFound(core.ReportID(filepath.Base(dir)), core.State(filepath.Base(filepath.Dir(dir))))
		}
		return meta{}, core.ErrStorage("reading report metadata", err)
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, core.ErrStorage("parsing report metadata", err).WithDetail("dir", dir)
	}
	if m.ID == "" {
		m.ID = core.ReportID(filepath.Base(dir))
	}
	return m, nil
}

func writeMeta(dir string, m meta) error {
	m.Version = metaVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return core.ErrStorage("marshaling report metadata", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, metaFile), data, 0o600); err != nil {
		return core.ErrStorage("writing report metadata", err)
	}
	return nil
}
