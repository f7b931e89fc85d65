package diagnostics

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// fdDirs list the per-process descriptor directories, tried in order when
// the process API cannot count descriptors on this platform.
var fdDirs = []string{"/proc/self/fd", "/dev/fd"}

// CountFDs returns the number of open file descriptors and the soft limit.
// Either value is 0 when the platform does not expose it.
func CountFDs() (open, limit int) {
	proc, err := process.NewProcess(int32(os.Getpid())) // #nosec G115 -- pids fit in int32
	if err == nil {
		if n, err := proc.NumFDs(); err == nil {
			open = int(n)
		}
		if limits, err := proc.Rlimit(); err == nil {
			for _, l := range limits {
				if l.Resource == process.RLIMIT_NOFILE {
					limit = int(l.Soft) // #nosec G115 -- descriptor limits fit in int
				}
			}
		}
	}
	if open == 0 {
		for _, dir := range fdDirs {
			if entries, err := os.ReadDir(dir); err == nil {
				open = len(entries)
				break
			}
		}
	}
	return open, limit
}
