//go:build linux

package hostinfo

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const defaultDiskPath = "/"

type platform struct{}

func (platform) cpu() *CPUReading {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return nil
	}
	defer f.Close()
	return parseCPUStat(f)
}

func (platform) uptimeAndMemory() (int64, float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if free > total {
		free = total
	}
	return int64(info.Uptime), percent(total-free, total), nil
}

func (platform) diskFreePercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return percent(st.Bavail, st.Blocks), nil
}

func (platform) osVersion() string {
	for _, path := range []string{"/etc/os-release", "/usr/lib/os-release"} {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		name := parseOSRelease(f)
		f.Close()
		if name != "" {
			return name
		}
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "Linux"
	}
	return strings.TrimSpace(unix.ByteSliceToString(uts.Sysname[:]) + " " + unix.ByteSliceToString(uts.Release[:]))
}
