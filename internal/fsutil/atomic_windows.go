//go:build windows

package fsutil

import (
	"os"
	"path/filepath"
)

// renameio has no Windows support; a temp file in the target directory
// replaced by os.Rename gives the same guarantee on a single volume.
func writeAtomic(path string, data []byte, perm os.FileMode, keepMode bool) (err error) {
	if keepMode {
		if info, statErr := os.Stat(path); statErr == nil {
			perm = info.Mode().Perm()
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
