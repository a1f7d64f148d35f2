package scheduler

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	apperrors "drguard/internal/errors"
)

// ResourceUsage is one host utilization sample
type ResourceUsage struct {
	LoadPerCPU        float64 `json:"load_per_cpu"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	FreeDiskBytes     int64   `json:"free_disk_bytes"`
}

// ResourceThresholds bound when the scheduler is allowed to dispatch work
type ResourceThresholds struct {
	MaxLoadPerCPU        float64 `json:"max_load_per_cpu" yaml:"max_load_per_cpu"`
	MaxMemoryUsedPercent float64 `json:"max_memory_used_percent" yaml:"max_memory_used_percent"`
	MinFreeDiskBytes     int64   `json:"min_free_disk_bytes" yaml:"min_free_disk_bytes"`
}

// SetDefaults fills unset fields with safe values
func (t *ResourceThresholds) SetDefaults() {
	if t.MaxLoadPerCPU == 0 {
		t.MaxLoadPerCPU = 0.8
	}
	if t.MaxMemoryUsedPercent == 0 {
		t.MaxMemoryUsedPercent = 85
	}
	if t.MinFreeDiskBytes == 0 {
		t.MinFreeDiskBytes = 1 << 30
	}
}

// Check returns a typed error naming the first breached threshold
func (t *ResourceThresholds) Check(usage *ResourceUsage) error {
	if usage.LoadPerCPU > t.MaxLoadPerCPU {
		return apperrors.NewResourceExhaustionError(
			fmt.Sprintf("load %.2f per CPU exceeds threshold %.2f", usage.LoadPerCPU, t.MaxLoadPerCPU), nil)
	}
	if usage.MemoryUsedPercent > t.MaxMemoryUsedPercent {
		return apperrors.NewResourceExhaustionError(
			fmt.Sprintf("memory %.1f%% used exceeds threshold %.1f%%", usage.MemoryUsedPercent, t.MaxMemoryUsedPercent), nil)
	}
	if usage.FreeDiskBytes < t.MinFreeDiskBytes {
		return apperrors.NewInsufficientSpaceError(
			fmt.Sprintf("%d bytes free below minimum %d", usage.FreeDiskBytes, t.MinFreeDiskBytes), nil)
	}
	return nil
}

// ResourceProbe samples host utilization before each scheduling cycle
type ResourceProbe interface {
	Usage() (*ResourceUsage, error)
}

// LinuxProbe reads utilization from /proc and statfs
type LinuxProbe struct {
	workDir string
}

// NewLinuxProbe creates a probe; free disk is measured at workDir
func NewLinuxProbe(workDir string) *LinuxProbe {
	return &LinuxProbe{workDir: workDir}
}

// Usage samples load average, memory, and free disk space
func (p *LinuxProbe) Usage() (*ResourceUsage, error) {
	load, err := readLoadAvg()
	if err != nil {
		return nil, err
	}
	memUsed, err := readMemoryUsedPercent()
	if err != nil {
		return nil, err
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.workDir, &stat); err != nil {
		return nil, apperrors.NewResourceExhaustionError("failed to stat filesystem at "+p.workDir, err)
	}

	return &ResourceUsage{
		LoadPerCPU:        load / float64(runtime.NumCPU()),
		MemoryUsedPercent: memUsed,
		FreeDiskBytes:     int64(stat.Bavail) * stat.Bsize,
	}, nil
}

func readLoadAvg() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, apperrors.NewResourceExhaustionError("failed to read load average", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, apperrors.NewResourceExhaustionError("malformed /proc/loadavg", nil)
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, apperrors.NewResourceExhaustionError("malformed load average "+fields[0], err)
	}
	return load, nil
}

func readMemoryUsedPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, apperrors.NewResourceExhaustionError("failed to read memory info", err)
	}
	defer f.Close()

	var totalKB, availableKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB = value
		case "MemAvailable:":
			availableKB = value
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, apperrors.NewResourceExhaustionError("failed to scan memory info", err)
	}
	if totalKB == 0 {
		return 0, apperrors.NewResourceExhaustionError("missing MemTotal in /proc/meminfo", nil)
	}
	return (totalKB - availableKB) / totalKB * 100, nil
}
