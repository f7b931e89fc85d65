package store

import (
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// checkQuota refuses allocation when the store filesystem is nearly full.
// A failing probe does not block capture.
func (s *FileStore) checkQuota() error {
	if s.minFree == 0 || s.freeSpace == nil {
		return nil
	}
	free, err := s.freeSpace(s.root)
	if err != nil {
		s.logger.Warn("free space probe failed", "dir", s.root, "error", err)
		return nil
	}
	if free < s.minFree {
		return core.ErrStorageFull(s.root, free, s.minFree)
	}
	return nil
}
