//go:build !windows

package fsutil

import (
	"os"

	"github.com/google/renameio/v2"
)

func writeAtomic(path string, data []byte, perm os.FileMode, keepMode bool) error {
	var opts []renameio.Option
	if keepMode {
		opts = append(opts, renameio.WithExistingPermissions())
	}
	return renameio.WriteFile(path, data, perm, opts...)
}
