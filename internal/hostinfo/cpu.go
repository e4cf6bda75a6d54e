package hostinfo

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// CPUReading is cumulative CPU time from the aggregate line of /proc/stat:
//
//	cpu  user nice system idle iowait irq softirq steal guest guest_nice
//
// busy = user + nice + system + irq + softirq + steal, idle = idle + iowait.
// guest time is already counted in user and nice.
type CPUReading struct {
	Busy uint64
	Idle uint64
}

// parseCPUStat reads the first line of a /proc/stat stream. It returns nil
// when the line is missing or malformed.
func parseCPUStat(r io.Reader) *CPUReading {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return nil
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 9 || fields[0] != "cpu" {
		return nil
	}

	values := make([]uint64, len(fields)-1)
	for i := 1; i < len(fields); i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil
		}
		values[i-1] = v
	}

	return &CPUReading{
		Busy: values[0] + values[1] + values[2] + values[5] + values[6] + values[7],
		Idle: values[3] + values[4],
	}
}

// CPUPercent is the utilisation between two readings, 0 when either is
// missing, no time has passed, or the counters went backwards.
func CPUPercent(previous, current *CPUReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	if current.Busy < previous.Busy || current.Idle < previous.Idle {
		return 0
	}
	busy := current.Busy - previous.Busy
	idle := current.Idle - previous.Idle
	return percent(busy, busy+idle)
}
