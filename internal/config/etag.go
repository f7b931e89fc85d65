package config

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/fsutil"
)

// WriteFile stores raw configuration at path atomically. An existing file
// keeps its mode; a new one is private to the owner.
func WriteFile(path string, data []byte) error {
	return fsutil.ReplaceFileAtomic(path, data)
}

// ETag returns a quoted strong entity tag for content.
func ETag(content []byte) string {
	sum := blake3.Sum256(content)
	return strconv.Quote(hex.EncodeToString(sum[:16]))
}
