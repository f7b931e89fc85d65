package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// Run `go test ./... -update` to rewrite every golden file from the
// current output.
var update = flag.Bool("update", false, "rewrite golden files")

// Scrubber rewrites volatile parts of command output before comparison.
type Scrubber func(string) string

// Golden compares output against testdata/<name>.golden files.
type Golden struct {
	t        *testing.T
	dir      string
	scrubber []Scrubber
}

// NewGolden returns a helper reading golden files from dir. Scrubbers run
// on actual output, in order, before it is compared or written.
func NewGolden(t *testing.T, dir string, scrubbers ...Scrubber) *Golden {
	return &Golden{t: t, dir: dir, scrubber: scrubbers}
}

// AssertString is Assert for string output.
func (g *Golden) AssertString(name, actual string) {
	g.t.Helper()
	g.Assert(name, []byte(actual))
}

// Assert fails the test when actual differs from the golden file, ignoring
// line endings and trailing whitespace.
func (g *Golden) Assert(name string, actual []byte) {
	g.t.Helper()
	got := string(actual)
	for _, scrub := range g.scrubber {
		got = scrub(got)
	}
	path := filepath.Join(g.dir, name+".golden")

	if *update {
		if err := os.MkdirAll(g.dir, 0o750); err != nil {
			g.t.Fatalf("creating %s: %v", g.dir, err)
		}
		if err := os.WriteFile(path, []byte(got), 0o600); err != nil {
			g.t.Fatalf("writing %s: %v", path, err)
		}
		g.t.Logf("updated %s", path)
		return
	}

	want, err := os.ReadFile(path) // #nosec G304 -- test fixture path
	if err != nil {
		g.t.Fatalf("reading %s: %v", path, err)
	}
	if line, w, a, differ := firstDifference(Normalize(string(want)), Normalize(got)); differ {
		g.t.Errorf("%s differs at line %d:\n  want: %q\n  got:  %q\n--- full output ---\n%s", path, line, w, a, got)
	}
}

func firstDifference(want, got string) (line int, w, a string, differ bool) {
	wl, gl := strings.Split(want, "\n"), strings.Split(got, "\n")
	for i := 0; i < max(len(wl), len(gl)); i++ {
		w, a = "", ""
		if i < len(wl) {
			w = wl[i]
		}
		if i < len(gl) {
			a = gl[i]
		}
		if w != a || i >= len(wl) || i >= len(gl) {
			return i + 1, w, a, true
		}
	}
	return 0, "", "", false
}

// Normalize converts CRLF to LF, trims trailing blanks from every line and
// drops trailing newlines.
func Normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

var (
	rfc3339Stamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[^\s"]*`)
	tableStamp   = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`)
	uuid         = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	paddedCell   = regexp.MustCompile(`(\[UUID\]|\[TIMESTAMP\]) {2,}`)
)

// ScrubTimestamps replaces RFC 3339 stamps and "2006-01-02 15:04:05"
// table stamps with [TIMESTAMP].
func ScrubTimestamps(s string) string {
	s = rfc3339Stamp.ReplaceAllString(s, "[TIMESTAMP]")
	return tableStamp.ReplaceAllString(s, "[TIMESTAMP]")
}

// ScrubUUIDs replaces report IDs with [UUID].
func ScrubUUIDs(s string) string {
	return uuid.ReplaceAllString(s, "[UUID]")
}

// ScrubPaths replaces basePath with [WORKDIR]. An empty base is a no-op.
func ScrubPaths(s, basePath string) string {
	if basePath == "" {
		return s
	}
	return strings.ReplaceAll(s, basePath, "[WORKDIR]")
}

// ScrubAll applies every scrubber. Table padding after a scrubbed cell
// depends on the original width, so it is collapsed to two spaces.
func ScrubAll(s, basePath string) string {
	s = ScrubTimestamps(ScrubPaths(s, basePath))
	return paddedCell.ReplaceAllString(ScrubUUIDs(s), "$1  ")
}

// ScrubAllIn is ScrubAll bound to basePath, for use with NewGolden.
func ScrubAllIn(basePath string) Scrubber {
	return func(s string) string { return ScrubAll(s, basePath) }
}
