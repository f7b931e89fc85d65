package packaging

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

const digestPrefix = "blake3:"

// Manifest describes a packaged artifact. It is written next to the
// artifact and read back by the uploader.
type Manifest struct {
	Version     int           `json:"version"`
	ReportID    core.ReportID `json:"report_id"`
	Packager    string        `json:"packager"`
	Artifact    string        `json:"artifact"`
	Encoding    string        `json:"encoding"`
	Size        int64         `json:"size"`
	PayloadSize int64         `json:"payload_size"`
	Digest      string        `json:"digest"`
	PackagedAt  time.Time     `json:"packaged_at"`
}

// NewManifest describes art, packaged from a payload of payloadSize bytes.
func NewManifest(id core.ReportID, packager string, art core.Artifact, payloadSize int, at time.Time) Manifest {
	return Manifest{
		Version:     ManifestVersion,
		ReportID:    id,
		Packager:    packager,
		Artifact:    art.Name,
		Encoding:    art.Encoding,
		Size:        int64(len(art.Data)),
		PayloadSize: int64(payloadSize),
		Digest:      Digest(art.Data),
		PackagedAt:  at.UTC(),
	}
}

// Marshal encodes the manifest as indented JSON.
func (m Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest decodes and sanity-checks a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, core.ErrValidation(core.CodePackagingFailed, "manifest is not valid JSON").WithCause(err)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, core.ErrValidation(core.CodePackagingFailed,
			fmt.Sprintf("unsupported manifest version %d", m.Version))
	}
	if m.Artifact == "" || !strings.HasPrefix(m.Digest, digestPrefix) {
		return Manifest{}, core.ErrValidation(core.CodePackagingFailed, "manifest is incomplete")
	}
	return m, nil
}

// Digest returns the prefixed BLAKE3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// Verifier hashes bytes as they are read and compares the result against
// the manifest once the stream is exhausted.
type Verifier struct {
	r      io.Reader
	h      *blake3.Hasher
	want   string
	size   int64
	n      int64
	closed bool
}

// NewVerifier wraps r so that reading it to EOF checks size and digest
// against m. A mismatch is returned from Read in place of io.EOF.
func NewVerifier(r io.Reader, m Manifest) *Verifier {
	return &Verifier{r: r, h: blake3.New(), want: m.Digest, size: m.Size}
}

// Read implements io.Reader.
func (v *Verifier) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		v.n += int64(n)
		_, _ = v.h.Write(p[:n])
	}
	if err == io.EOF {
		if verr := v.check(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (v *Verifier) check() error {
	if v.closed {
		return nil
	}
	v.closed = true
	if v.n != v.size {
		return core.ErrValidation(core.CodeDigestMismatch,
			fmt.Sprintf("artifact size %d does not match manifest size %d", v.n, v.size))
	}
	got := digestPrefix + hex.EncodeToString(v.h.Sum(nil))
	if got != v.want {
		return core.ErrValidation(core.CodeDigestMismatch, "artifact digest does not match manifest").
			WithDetail("want", v.want).WithDetail("got", got)
	}
	return nil
}

// VerifyBytes checks data against m in one shot.
func VerifyBytes(data []byte, m Manifest) error {
	if int64(len(data)) != m.Size {
		return core.ErrValidation(core.CodeDigestMismatch,
			fmt.Sprintf("artifact size %d does not match manifest size %d", len(data), m.Size))
	}
	if Digest(data) != m.Digest {
		return core.ErrValidation(core.CodeDigestMismatch, "artifact digest does not match manifest")
	}
	return nil
}
