package diagnostics

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the machine a crash happened on. Every field is
// best-effort and left zero when the platform does not expose it.
type HostInfo struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`

	CPUModel   string `json:"cpu_model,omitempty"`
	CPUCores   int    `json:"cpu_cores,omitempty"`
	CPUThreads int    `json:"cpu_threads,omitempty"`

	MemTotalMB float64 `json:"mem_total_mb,omitempty"`
	MemUsedMB  float64 `json:"mem_used_mb,omitempty"`
	MemPercent float64 `json:"mem_percent,omitempty"`

	// Disk figures are for the filesystem holding the report store.
	DiskTotalGB float64 `json:"disk_total_gb,omitempty"`
	DiskFreeGB  float64 `json:"disk_free_gb,omitempty"`
	DiskPercent float64 `json:"disk_percent,omitempty"`

	LoadAvg1  float64 `json:"load_avg_1,omitempty"`
	LoadAvg5  float64 `json:"load_avg_5,omitempty"`
	LoadAvg15 float64 `json:"load_avg_15,omitempty"`

	GPUs []string `json:"gpus,omitempty"`
}

// HostCollector gathers HostInfo. Static hardware facts are read once.
type HostCollector struct {
	diskPath string

	mu         sync.Mutex
	collected  bool
	cpuModel   string
	cpuCores   int
	cpuThreads int
	gpus       []string
}

// NewHostCollector reports disk usage for diskPath, or the root filesystem
// when diskPath is empty.
func NewHostCollector(diskPath string) *HostCollector {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	return &HostCollector{diskPath: diskPath}
}

// Collect gathers the current host state.
func (c *HostCollector) Collect() HostInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH}

	c.collectHardware()
	info.CPUModel = c.cpuModel
	info.CPUCores = c.cpuCores
	info.CPUThreads = c.cpuThreads
	info.GPUs = append([]string(nil), c.gpus...)

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotalMB = float64(vm.Total) / 1024 / 1024
		info.MemUsedMB = float64(vm.Used) / 1024 / 1024
		info.MemPercent = vm.UsedPercent
	}
	if usage, err := disk.Usage(c.diskPath); err == nil {
		info.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
		info.DiskFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
		info.DiskPercent = usage.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		info.LoadAvg1 = avg.Load1
		info.LoadAvg5 = avg.Load5
		info.LoadAvg15 = avg.Load15
	}
	return info
}

func (c *HostCollector) collectHardware() {
	if c.collected {
		return
	}
	c.collected = true
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		c.cpuModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.Counts(false); err == nil && cores > 0 {
		c.cpuCores = cores
	}
	if threads, err := cpu.Counts(true); err == nil && threads > 0 {
		c.cpuThreads = threads
	}
	c.gpus = gpuNames()
}

func gpuNames() []string {
	info, err := ghw.GPU()
	if err != nil || info == nil || len(info.GraphicsCards) == 0 {
		return nil
	}

	names := make([]string, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		name := ""
		if card.DeviceInfo != nil {
			switch {
			case card.DeviceInfo.Vendor != nil && card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name + " " + card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Vendor != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("GPU %d", card.Index)
		}
		names = append(names, name)
	}
	return names
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}
