package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/fsutil"
)

// RevokeHook runs after a revocation, including one made by another process
// through the shared marker.
type RevokeHook func(tokenID string)

// Gate owns the current token and the persisted consent decision. Several
// processes may share one marker; a change written by another process is
// picked up by the next Token, Enabled or Refresh call, or at once by Watch.
type Gate struct {
	markerPath string

	mu      sync.Mutex
	current *Token
	hooks   []RevokeHook
	// seen is the marker file as last read or written; nil while absent.
	seen os.FileInfo
}

// marker is the persisted consent decision.
type marker struct {
	Granted   bool      `json:"granted"`
	TokenID   string    `json:"token_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithRevokeHook registers a hook that runs on every revocation.
func WithRevokeHook(h RevokeHook) GateOption {
	return func(g *Gate) {
		g.hooks = append(g.hooks, h)
	}
}

// Open loads the persisted consent decision at markerPath. A missing marker
// means consent was never granted. An empty markerPath keeps the decision in
// memory only.
func Open(markerPath string, opts ...GateOption) (*Gate, error) {
	g := &Gate{markerPath: markerPath}
	for _, opt := range opts {
		opt(g)
	}

	g.seen = g.stat()
	m, err := g.load()
	if err != nil {
		return nil, err
	}
	if m.Granted {
		g.current = newToken()
	}
	return g, nil
}

// OnRevoke registers a hook after construction.
func (g *Gate) OnRevoke(h RevokeHook) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, h)
}

// Token returns the current token, or ErrConsent if collection is not
// enabled.
func (g *Gate) Token() (*Token, error) {
	g.Refresh()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.current.IsValid() {
		return nil, core.ErrConsent("data collection is not enabled")
	}
	return g.current, nil
}

// Enabled reports whether a valid token exists.
func (g *Gate) Enabled() bool {
	g.Refresh()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current.IsValid()
}

// Grant enables collection and returns the session token. Granting while
// already enabled returns the existing token. Tokens revoked earlier stay
// revoked.
func (g *Gate) Grant() (*Token, error) {
	g.Refresh()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current.IsValid() {
		return g.current, nil
	}
	tok := newToken()
	if err := g.persist(marker{Granted: true, TokenID: tok.ID(), UpdatedAt: time.Now().UTC()}); err != nil {
		return nil, err
	}
	g.current = tok
	return tok, nil
}

// Revoke invalidates the current token, persists the decision and runs the
// revoke hooks. The in-memory token is revoked first and the hooks run even
// when the marker cannot be written, so nothing gated starts afterwards and
// stored data is still purged.
func (g *Gate) Revoke() error {
	g.mu.Lock()
	tok := g.current
	if tok != nil {
		tok.revoke()
	}
	err := g.persist(marker{Granted: false, UpdatedAt: time.Now().UTC()})
	hooks := append([]RevokeHook(nil), g.hooks...)
	g.mu.Unlock()

	for _, h := range hooks {
		h(tok.ID())
	}
	return err
}

// Refresh re-reads the marker when another process replaced it. A marker
// that no longer grants consent revokes the current token and runs the
// hooks; a new grant mints a fresh token. Refresh reports whether the
// decision changed.
func (g *Gate) Refresh() bool {
	if g.markerPath == "" {
		return false
	}

	g.mu.Lock()
	cur := g.stat()
	if !markerChanged(g.seen, cur) {
		g.mu.Unlock()
		return false
	}
	m, err := g.load()
	if err != nil {
		// A half-visible replacement reads as garbage; try again next call.
		g.mu.Unlock()
		return false
	}
	g.seen = cur

	var revoked *Token
	switch {
	case !m.Granted && g.current.IsValid():
		if g.current.revoke() {
			revoked = g.current
		}
	case m.Granted && !g.current.IsValid():
		g.current = newToken()
		g.mu.Unlock()
		return true
	}
	hooks := append([]RevokeHook(nil), g.hooks...)
	g.mu.Unlock()

	if revoked == nil {
		return false
	}
	for _, h := range hooks {
		h(revoked.ID())
	}
	return true
}

// Watch applies marker changes made by other processes as they happen,
// until ctx is canceled. A gate without a marker file waits for ctx.
func (g *Gate) Watch(ctx context.Context) error {
	if g.markerPath == "" {
		<-ctx.Done()
		return nil
	}

	dir := filepath.Dir(g.markerPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return core.ErrStorage("creating consent directory", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return core.ErrStorage("starting consent watcher", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return core.ErrStorage("watching consent marker", err)
	}

	name := filepath.Clean(g.markerPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == name {
				g.Refresh()
			}
		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func (g *Gate) stat() os.FileInfo {
	if g.markerPath == "" {
		return nil
	}
	info, err := os.Stat(g.markerPath)
	if err != nil {
		return nil
	}
	return info
}

// markerChanged compares two observations of the marker. Atomic
// replacement gives the file a new identity, so SameFile catches rewrites
// within the modification time resolution.
func markerChanged(prev, cur os.FileInfo) bool {
	switch {
	case prev == nil && cur == nil:
		return false
	case prev == nil || cur == nil:
		return true
	}
	return !os.SameFile(prev, cur) || !prev.ModTime().Equal(cur.ModTime()) || prev.Size() != cur.Size()
}

func (g *Gate) load() (marker, error) {
	if g.markerPath == "" {
		return marker{}, nil
	}
	data, err := os.ReadFile(g.markerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return marker{}, nil
		}
		return marker{}, core.ErrStorage("reading consent marker", err)
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return marker{}, core.ErrStorage("parsing consent marker", err)
	}
	return m, nil
}

func (g *Gate) persist(m marker) error {
	if g.markerPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.markerPath), 0o750); err != nil {
		return core.ErrStorage("creating consent directory", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling consent marker: %w", err)
	}
	if err := fsutil.WriteFileAtomic(g.markerPath, data, 0o600); err != nil {
		return core.ErrStorage("writing consent marker", err)
	}
	g.seen = g.stat()
	return nil
}
