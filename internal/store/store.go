// Package store implements the file-backed report store. Each lifecycle
// state owns a sibling directory under the store root and every report is a
// single subdirectory, so a rename(2) between areas is the one atomic move
// primitive the lifecycle is built on.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/fsutil"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
)

const (
	metaFile   = "meta.json"
	stagingDir = ".staging"
	trashDir   = ".trash"
)

// FileStore implements core.ReportStore on the local filesystem.
type FileStore struct {
	root      string
	minFree   uint64
	freeSpace func(dir string) (uint64, error)
	now       func() time.Time
	logger    *logging.Logger

	mu          sync.Mutex // guards lastCreated
	lastCreated time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithMinFreeBytes refuses new reports when the filesystem holding the
// store has less than n bytes free. Zero disables the check.
func WithMinFreeBytes(n uint64) Option {
	return func(s *FileStore) {
		s.minFree = n
	}
}

// WithFreeSpaceFunc replaces the free space probe.
func WithFreeSpaceFunc(fn func(dir string) (uint64, error)) Option {
	return func(s *FileStore) {
		s.freeSpace = fn
	}
}

// WithClock replaces the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		s.now = now
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open creates the store layout under root if needed and sweeps leftovers of
// interrupted creates and removes.
func Open(root string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		root:      root,
		freeSpace: diskFree,
		now:       time.Now,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, st := range core.StoredStates() {
		if err := os.MkdirAll(s.Dir(st), 0o750); err != nil {
			return nil, core.ErrStorage("creating store layout", err).WithDetail("dir", s.Dir(st))
		}
	}
	if err := s.sweep(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the store root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Dir returns the directory holding reports in state.
func (s *FileStore) Dir(state core.State) string {
	return filepath.Join(s.root, state.String())
}

func (s *FileStore) reportDir(state core.State, id core.ReportID) string {
	return filepath.Join(s.Dir(state), id.String())
}

// CreateActive allocates a new report directory in the active area. The
// directory is assembled in a staging area and renamed into place, so an
// active report always has its metadata.
func (s *FileStore) CreateActive() (core.Report, error) {
	if err := s.checkQuota(); err != nil {
		return core.Report{}, err
	}

	id := core.ReportID(uuid.NewString())
	m := meta{ID: id, CreatedAt: s.nextCreated()}

	staged := filepath.Join(s.root, stagingDir, id.String())
	if err := os.MkdirAll(staged, 0o750); err != nil {
		return core.Report{}, core.ErrStorage("creating report directory", err)
	}
	if err := writeMeta(staged, m); err != nil {
		_ = os.RemoveAll(staged)
		return core.Report{}, err
	}

	dst := s.reportDir(core.StateActive, id)
	if err := os.Rename(staged, dst); err != nil {
		_ = os.RemoveAll(staged)
		return core.Report{}, core.ErrStorage("publishing active report", err)
	}

	return m.report(core.StateActive, dst), nil
}

// Import publishes a report carried over from another store under its
// original ID and creation time. files holds the payload files by name. The
// attempt counter starts over. An ID already present in any area is refused.
func (s *FileStore) Import(r core.Report, state core.State, files map[string][]byte) (core.Report, error) {
	if err := r.ID.Validate(); err != nil {
		return core.Report{}, err
	}
	if !state.Stored() {
		return core.Report{}, core.ErrValidation(core.CodeInvalidState, fmt.Sprintf("cannot import into %s", state))
	}
	for name := range files {
		if err := validateFileName(name); err != nil {
			return core.Report{}, err
		}
	}
	if _, err := s.Get(r.ID); err == nil {
		return core.Report{}, core.ErrValidation(core.CodeReportExists, "report already stored").WithDetail("id", r.ID.String())
	} else if !core.IsNotFound(err) {
		return core.Report{}, err
	}
	if err := s.checkQuota(); err != nil {
		return core.Report{}, err
	}

	m := meta{ID: r.ID, CreatedAt: r.CreatedAt.UTC(), Urgent: r.Urgent}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.nextCreated()
	}

	staged := filepath.Join(s.root, stagingDir, r.ID.String())
	if err := os.MkdirAll(staged, 0o750); err != nil {
		return core.Report{}, core.ErrStorage("creating report directory", err)
	}
	for name, data := range files {
		if err := fsutil.WriteFileAtomic(filepath.Join(staged, name), data, 0o600); err != nil {
			_ = os.RemoveAll(staged)
			return core.Report{}, core.ErrStorage("writing payload file", err).WithDetail("file", name)
		}
	}
	if err := writeMeta(staged, m); err != nil {
		_ = os.RemoveAll(staged)
		return core.Report{}, err
	}

	dst := s.reportDir(state, r.ID)
	if err := os.Rename(staged, dst); err != nil {
		_ = os.RemoveAll(staged)
		return core.Report{}, core.ErrStorage("publishing imported report", err)
	}
	s.logger.Debug("report imported", "report_id", r.ID.String(), "state", state.String())
	return m.report(state, dst), nil
}

// Files returns the payload file names of a report, sorted.
func (s *FileStore) Files(id core.ReportID, state core.State) ([]string, error) {
	dir, err := s.existingDir(id, state)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrNotFound(id, state)
		}
		return nil, core.ErrStorage("listing report files", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || validateFileName(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Get locates a report in whichever stored state it currently is.
func (s *FileStore) Get(id core.ReportID) (core.Report, error) {
	if err := id.Validate(); err != nil {
		return core.Report{}, err
	}
	// Two passes so a report moving between areas during the first scan is
	// still found.
	for pass := 0; pass < 2; pass++ {
		for _, st := range core.StoredStates() {
			r, err := s.load(id, st)
			if err == nil {
				return r, nil
			}
			if !core.IsNotFound(err) {
				return core.Report{}, err
			}
		}
	}
	return core.Report{}, core.ErrNotFound(id, "any")
}

// Move atomically relocates a report from one lifecycle area to another.
// Exactly one concurrent caller can win a given move; the others observe a
// NotFoundError.
func (s *FileStore) Move(id core.ReportID, from, to core.State) (core.Report, error) {
	if err := id.Validate(); err != nil {
		return core.Report{}, err
	}
	if !from.Stored() || !to.Stored() || from == to {
		return core.Report{}, core.ErrState(from, to)
	}

	src := s.reportDir(from, id)
	dst := s.reportDir(to, id)

	if _, err := os.Lstat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.Report{}, core.ErrNotFound(id, from)
		}
		return core.Report{}, core.ErrStorage("inspecting report", err)
	}

	// A report directory is never empty, so rename refuses to replace an
	// existing destination instead of merging two locations.
	if err := os.Rename(src, dst); err != nil {
		if _, statErr := os.Lstat(src); errors.Is(statErr, fs.ErrNotExist) {
			return core.Report{}, core.ErrNotFound(id, from)
		}
		return core.Report{}, core.ErrStorage("moving report", err).
			WithDetail("from", from.String()).
			WithDetail("to", to.String())
	}

	m, err := readMeta(dst)
	if err != nil {
		return core.Report{}, err
	}
	return m.report(to, dst), nil
}

// Remove deletes a report wherever it is. The directory is first renamed
// into the trash area so a half-deleted report is never listed.
func (s *FileStore) Remove(id core.ReportID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	trash := filepath.Join(s.root, trashDir)
	if err := os.MkdirAll(trash, 0o750); err != nil {
		return core.ErrStorage("creating trash directory", err)
	}

	for _, st := range core.StoredStates() {
		src := s.reportDir(st, id)
		dst := filepath.Join(trash, id.String()+"-"+uuid.NewString()[:8])
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return core.ErrStorage("removing report", err).WithDetail("state", st.String())
		}
		if err := os.RemoveAll(dst); err != nil {
			// The report is already gone from every lifecycle area; the
			// sweep on the next Open finishes the job.
			s.logger.Warn("failed to empty trash", "report_id", id.String(), "error", err)
		}
	}
	return nil
}

// List yields the reports in state ordered by creation time, oldest first.
// Each iteration rescans the directory, so the sequence is restartable. A
// report directory with unreadable metadata yields an error and iteration
// continues.
func (s *FileStore) List(state core.State) iter.Seq2[core.Report, error] {
	return func(yield func(core.Report, error) bool) {
		if !state.Stored() {
			yield(core.Report{}, core.ErrValidation(core.CodeInvalidState,
				fmt.Sprintf("state %s has no storage area", state)))
			return
		}

		entries, err := os.ReadDir(s.Dir(state))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(core.Report{}, core.ErrStorage("listing reports", err))
			return
		}

		reports := make([]core.Report, 0, len(entries))
		var failures []error
		for _, ent := range entries {
			if !ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
				continue
			}
			dir := filepath.Join(s.Dir(state), ent.Name())
			m, err := readMeta(dir)
			if err != nil {
				if core.IsNotFound(err) {
					// Moved away between ReadDir and readMeta.
					continue
				}
				failures = append(failures, err)
				continue
			}
			reports = append(reports, m.report(state, dir))
		}

		sort.Slice(reports, func(i, j int) bool {
			return reports[i].Before(reports[j])
		})

		for _, r := range reports {
			if !yield(r, nil) {
				return
			}
		}
		for _, err := range failures {
			if !yield(core.Report{}, err) {
				return
			}
		}
	}
}

// SetUrgent persists the urgency flag of a report.
func (s *FileStore) SetUrgent(id core.ReportID, state core.State, urgent bool) (core.Report, error) {
	return s.updateMeta(id, state, func(m *meta) {
		m.Urgent = urgent
	})
}

// RecordAttempt increments the persisted upload attempt counter.
func (s *FileStore) RecordAttempt(id core.ReportID, state core.State) (core.Report, error) {
	return s.updateMeta(id, state, func(m *meta) {
		m.Attempts++
	})
}

// WriteFile writes a payload file inside the report directory atomically.
func (s *FileStore) WriteFile(id core.ReportID, state core.State, name string, data []byte) error {
	dir, err := s.existingDir(id, state)
	if err != nil {
		return err
	}
	if err := validateFileName(name); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, name), data, 0o600); err != nil {
		if _, statErr := os.Lstat(dir); errors.Is(statErr, fs.ErrNotExist) {
			return core.ErrNotFound(id, state)
		}
		return core.ErrStorage("writing payload file", err).WithDetail("file", name)
	}
	return nil
}

// ReadFile reads a payload file. The consent token is checked before any
// byte is touched.
func (s *FileStore) ReadFile(tok core.ConsentToken, id core.ReportID, state core.State, name string) ([]byte, error) {
	f, _, err := s.OpenFile(tok, id, state, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, core.ErrStorage("reading payload file", err).WithDetail("file", name)
	}
	return data, nil
}

// OpenFile opens a payload file for streaming and returns its size.
func (s *FileStore) OpenFile(tok core.ConsentToken, id core.ReportID, state core.State, name string) (io.ReadCloser, int64, error) {
	if err := core.CheckConsent(tok); err != nil {
		return nil, 0, err
	}
	if err := id.Validate(); err != nil {
		return nil, 0, err
	}
	if err := validateFileName(name); err != nil {
		return nil, 0, err
	}

	f, size, err := fsutil.OpenFileScoped(filepath.Join(s.reportDir(state, id), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, core.ErrNotFound(id, state).WithDetail("file", name)
		}
		return nil, 0, core.ErrStorage("opening payload file", err).WithDetail("file", name)
	}
	return f, size, nil
}

// Count returns the number of reports in state.
func (s *FileStore) Count(state core.State) (int, error) {
	n := 0
	for _, err := range s.List(state) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *FileStore) load(id core.ReportID, state core.State) (core.Report, error) {
	dir := s.reportDir(state, id)
	m, err := readMeta(dir)
	if err != nil {
		if core.IsNotFound(err) {
			return core.Report{}, core.ErrNotFound(id, state)
		}
		return core.Report{}, err
	}
	return m.report(state, dir), nil
}

func (s *FileStore) existingDir(id core.ReportID, state core.State) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	dir := s.reportDir(state, id)
	info, err := os.Lstat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", core.ErrNotFound(id, state)
		}
		return "", core.ErrStorage("inspecting report", err)
	}
	if !info.IsDir() {
		return "", core.ErrStorage("inspecting report", fmt.Errorf("%s is not a directory", dir))
	}
	return dir, nil
}

func (s *FileStore) updateMeta(id core.ReportID, state core.State, fn func(*meta)) (core.Report, error) {
	dir, err := s.existingDir(id, state)
	if err != nil {
		return core.Report{}, err
	}
	m, err := readMeta(dir)
	if err != nil {
		return core.Report{}, err
	}
	fn(&m)
	if err := writeMeta(dir, m); err != nil {
		return core.Report{}, err
	}
	return m.report(state, dir), nil
}

// nextCreated returns a creation timestamp strictly after the previous one
// so reports created in the same clock tick keep their order.
func (s *FileStore) nextCreated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC()
	if !t.After(s.lastCreated) {
		t = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = t
	return t
}

func (s *FileStore) sweep() error {
	for _, name := range []string{stagingDir, trashDir} {
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return core.ErrStorage("sweeping "+name, err)
		}
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" || name == "." || name == ".." || name == metaFile ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return core.ErrValidation("INVALID_FILE_NAME", fmt.Sprintf("invalid payload file name: %q", name))
	}
	return nil
}

var _ core.ReportStore = (*FileStore)(nil)
