// Package hostinfo samples the host metrics reported by the host agent:
// uptime, CPU and memory utilisation, free disk space and the OS version.
//
// CPU utilisation is a delta between two readings, so a Sampler keeps the
// previous reading and the first Sample after construction reports 0%.
package hostinfo

import (
	"sync"
)

// Metrics is one sample of the local host.
type Metrics struct {
	UptimeSeconds   int64
	CPUPercent      float64
	MemPercent      float64
	DiskFreePercent float64
	OSVersion       string
}

// Sampler produces Metrics. It is safe for concurrent use.
type Sampler struct {
	mu       sync.Mutex
	diskPath string
	previous *CPUReading
	source   source
}

// source is the platform layer; tests substitute a fake.
type source interface {
	cpu() *CPUReading
	uptimeAndMemory() (uptime int64, memPercent float64, err error)
	diskFreePercent(path string) (float64, error)
	osVersion() string
}

// NewSampler returns a sampler measuring free space on the filesystem that
// holds diskPath. An empty diskPath selects the platform root.
func NewSampler(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = defaultDiskPath
	}
	s := &Sampler{diskPath: diskPath, source: platform{}}
	s.previous = s.source.cpu()
	return s
}

// DiskPath returns the path whose filesystem is measured.
func (s *Sampler) DiskPath() string { return s.diskPath }

// Sample reads the current metrics. Individual probes that fail leave their
// field at zero; the first failure is returned alongside the partial sample
// so callers can log it and still report what they have.
func (s *Sampler) Sample() (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m Metrics
	var firstErr error

	current := s.source.cpu()
	m.CPUPercent = CPUPercent(s.previous, current)
	if current != nil {
		s.previous = current
	}

	uptime, mem, err := s.source.uptimeAndMemory()
	if err != nil {
		firstErr = err
	} else {
		m.UptimeSeconds = uptime
		m.MemPercent = mem
	}

	disk, err := s.source.diskFreePercent(s.diskPath)
	if err != nil && firstErr == nil {
		firstErr = err
	} else if err == nil {
		m.DiskFreePercent = disk
	}

	m.OSVersion = s.source.osVersion()
	return m, firstErr
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
