// Package fsutil holds the small filesystem primitives the report store is
// built on: scoped reads and atomic writes.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadFileScoped reads a file by opening a root at the file's directory.
// This scopes access to the intended directory and avoids path traversal.
func ReadFileScoped(path string) ([]byte, error) {
	f, _, err := OpenFileScoped(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// OpenFileScoped opens a regular file through a root at its directory and
// returns it with its size. The caller closes the file.
func OpenFileScoped(path string) (*os.File, int64, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, 0, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, 0, err
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, 0, fmt.Errorf("not a regular file: %q", path)
	}
	return file, info.Size(), nil
}

// WriteFileAtomic writes data to path so that readers observe either the old
// content or the new content, never a partial file. The parent directory
// must exist.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, data, perm, false)
}

// ReplaceFileAtomic is WriteFileAtomic for files a user may have chmod-ed:
// an existing file keeps its mode, a new one is created 0600.
func ReplaceFileAtomic(path string, data []byte) error {
	return writeAtomic(path, data, 0o600, true)
}
