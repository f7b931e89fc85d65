// Package journal records confirmed deliveries in SQLite.
//
// A report is journaled after the server confirms it and before the local
// copy is deleted. On restart, reports found in the journal are removed
// instead of being uploaded a second time.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_deliveries.sql
var migrationV1 string

// Delivery is a journaled confirmation.
type Delivery struct {
	ReportID    core.ReportID `json:"report_id"`
	Reference   string        `json:"reference,omitempty"`
	DeliveredAt time.Time     `json:"delivered_at"`
}

// SQLiteJournal implements core.DeliveryJournal.
type SQLiteJournal struct {
	path string
	db   *sql.DB
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

// Option configures the journal.
type Option func(*SQLiteJournal)

// WithClock overrides the time source used for delivery timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *SQLiteJournal) {
		j.now = now
	}
}

// Open opens or creates the journal database at path.
func Open(path string, opts ...Option) (*SQLiteJournal, error) {
	j := &SQLiteJournal{path: path, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, core.ErrStorage("create journal directory", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, core.ErrStorage("open journal", err)
	}
	// A single connection serializes writers without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	j.db = db

	if err := j.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return j, nil
}

// Path returns the database file path.
func (j *SQLiteJournal) Path() string {
	return j.path
}

// Close closes the database. Further calls fail with a storage error.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func (j *SQLiteJournal) migrate() error {
	var version int
	err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}
	if version < 1 {
		if _, err := j.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// RecordDelivered journals id as delivered. Recording the same report twice
// keeps the first entry.
func (j *SQLiteJournal) RecordDelivered(ctx context.Context, id core.ReportID, receipt core.Receipt) error {
	if err := id.Validate(); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries (report_id, reference, delivered_at) VALUES (?, ?, ?)`,
		string(id), receipt.Reference, j.now().UTC().UnixNano(),
	)
	if err != nil {
		return core.ErrStorage("record delivery", err).WithDetail("report_id", string(id))
	}
	return nil
}

// Delivered reports whether id has been journaled.
func (j *SQLiteJournal) Delivered(ctx context.Context, id core.ReportID) (bool, error) {
	var one int
	err := j.db.QueryRowContext(ctx,
		`SELECT 1 FROM deliveries WHERE report_id = ?`, string(id),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.ErrStorage("query delivery", err).WithDetail("report_id", string(id))
	}
	return true, nil
}

// Get returns the journal entry for id.
func (j *SQLiteJournal) Get(ctx context.Context, id core.ReportID) (Delivery, error) {
	var (
		ref string
		at  int64
	)
	err := j.db.QueryRowContext(ctx,
		`SELECT reference, delivered_at FROM deliveries WHERE report_id = ?`, string(id),
	).Scan(&ref, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, core.ErrNotFound(id, core.StateUploaded)
	}
	if err != nil {
		return Delivery{}, core.ErrStorage("query delivery", err)
	}
	return Delivery{ReportID: id, Reference: ref, DeliveredAt: time.Unix(0, at).UTC()}, nil
}

// Recent returns up to limit deliveries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT report_id, reference, delivered_at FROM deliveries
		 ORDER BY delivered_at DESC, report_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, core.ErrStorage("list deliveries", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d  Delivery
			id string
			at int64
		)
		if err := rows.Scan(&id, &d.Reference, &at); err != nil {
			return nil, core.ErrStorage("scan delivery", err)
		}
		d.ReportID = core.ReportID(id)
		d.DeliveredAt = time.Unix(0, at).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrStorage("list deliveries", err)
	}
	return out, nil
}

// Forget drops entries recorded before olderThan and returns how many were
// removed. Only entries whose local copy is long gone should be forgotten.
func (j *SQLiteJournal) Forget(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE delivered_at < ?`, olderThan.UTC().UnixNano())
	if err != nil {
		return 0, core.ErrStorage("forget deliveries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.ErrStorage("forget deliveries", err)
	}
	return n, nil
}

var _ core.DeliveryJournal = (*SQLiteJournal)(nil)
