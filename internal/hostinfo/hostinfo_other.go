//go:build !linux

package hostinfo

import (
	"errors"
	"runtime"
)

const defaultDiskPath = "."

var errUnsupported = errors.New("host metrics are not supported on " + runtime.GOOS)

type platform struct{}

func (platform) cpu() *CPUReading { return nil }

func (platform) uptimeAndMemory() (int64, float64, error) { return 0, 0, errUnsupported }

func (platform) diskFreePercent(string) (float64, error) { return 0, errUnsupported }

func (platform) osVersion() string { return runtime.GOOS }
