package hostinfo

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUStat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *CPUReading
	}{
		{
			name:  "full line",
			input: "cpu  100 20 30 400 50 6 7 8 9 10\ncpu0 1 2 3 4 5 6 7 8 9 10\n",
			want:  &CPUReading{Busy: 100 + 20 + 30 + 6 + 7 + 8, Idle: 400 + 50},
		},
		{
			name:  "minimum fields",
			input: "cpu 1 1 1 1 1 1 1 1\n",
			want:  &CPUReading{Busy: 6, Idle: 2},
		},
		{name: "empty", input: "", want: nil},
		{name: "too few fields", input: "cpu 1 2 3\n", want: nil},
		{name: "wrong label", input: "intr 1 2 3 4 5 6 7 8\n", want: nil},
		{name: "non numeric", input: "cpu 1 2 x 4 5 6 7 8\n", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCPUStat(strings.NewReader(tt.input)))
		})
	}
}

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name     string
		previous *CPUReading
		current  *CPUReading
		want     float64
	}{
		{"half busy", &CPUReading{100, 100}, &CPUReading{200, 200}, 50},
		{"fully busy", &CPUReading{100, 100}, &CPUReading{200, 100}, 100},
		{"idle", &CPUReading{100, 100}, &CPUReading{100, 200}, 0},
		{"no time passed", &CPUReading{100, 100}, &CPUReading{100, 100}, 0},
		{"counter reset", &CPUReading{100, 100}, &CPUReading{10, 10}, 0},
		{"no previous", nil, &CPUReading{1, 1}, 0},
		{"no current", &CPUReading{1, 1}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CPUPercent(tt.previous, tt.current), 1e-9)
		})
	}
}

func TestParseOSRelease(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pretty name",
			input: "NAME=\"Ubuntu\"\nVERSION=\"22.04.4 LTS (Jammy Jellyfish)\"\nPRETTY_NAME=\"Ubuntu 22.04.4 LTS\"\n",
			want:  "Ubuntu 22.04.4 LTS",
		},
		{
			name:  "name and version",
			input: "# comment\nNAME=Fedora\nVERSION='40 (Workstation Edition)'\n",
			want:  "Fedora 40 (Workstation Edition)",
		},
		{name: "name only", input: "NAME=Alpine\n", want: "Alpine"},
		{name: "garbage", input: "not a key value file\n\n", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOSRelease(strings.NewReader(tt.input)))
		})
	}
}

type fakeSource struct {
	readings []*CPUReading
	uptime   int64
	mem      float64
	memErr   error
	disk     float64
	diskErr  error
	paths    []string
}

func (f *fakeSource) cpu() *CPUReading {
	if len(f.readings) == 0 {
		return nil
	}
	r := f.readings[0]
	f.readings = f.readings[1:]
	return r
}

func (f *fakeSource) uptimeAndMemory() (int64, float64, error) {
	return f.uptime, f.mem, f.memErr
}

func (f *fakeSource) diskFreePercent(path string) (float64, error) {
	f.paths = append(f.paths, path)
	return f.disk, f.diskErr
}

func (f *fakeSource) osVersion() string { return "TestOS 1.0" }

func TestSamplerSample(t *testing.T) {
	src := &fakeSource{
		readings: []*CPUReading{{Busy: 300, Idle: 100}, {Busy: 400, Idle: 300}},
		uptime:   3600,
		mem:      42.5,
		disk:     61,
	}
	s := &Sampler{diskPath: "/data", source: src, previous: &CPUReading{Busy: 100, Idle: 100}}

	m, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 100, m.CPUPercent, 1e-9)
	assert.Equal(t, int64(3600), m.UptimeSeconds)
	assert.Equal(t, 42.5, m.MemPercent)
	assert.Equal(t, 61.0, m.DiskFreePercent)
	assert.Equal(t, "TestOS 1.0", m.OSVersion)
	assert.Equal(t, []string{"/data"}, src.paths)

	m, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 100.0/3, m.CPUPercent, 1e-9)
}

func TestSamplerKeepsBaselineWhenReadingMissing(t *testing.T) {
	src := &fakeSource{readings: []*CPUReading{nil, {Busy: 200, Idle: 200}}}
	s := &Sampler{source: src, previous: &CPUReading{Busy: 100, Idle: 100}}

	m, _ := s.Sample()
	assert.Zero(t, m.CPUPercent)

	m, _ = s.Sample()
	assert.InDelta(t, 50, m.CPUPercent, 1e-9)
}

func TestSamplerPartialFailure(t *testing.T) {
	memErr := errors.New("sysinfo failed")
	src := &fakeSource{memErr: memErr, uptime: 99, mem: 99, disk: 75}
	s := &Sampler{source: src}

	m, err := s.Sample()
	assert.ErrorIs(t, err, memErr)
	assert.Zero(t, m.UptimeSeconds)
	assert.Zero(t, m.MemPercent)
	assert.Equal(t, 75.0, m.DiskFreePercent)
	assert.Equal(t, "TestOS 1.0", m.OSVersion)

	diskErr := errors.New("statfs failed")
	src = &fakeSource{diskErr: diskErr, uptime: 10, disk: 75}
	s = &Sampler{source: src}

	m, err = s.Sample()
	assert.ErrorIs(t, err, diskErr)
	assert.Equal(t, int64(10), m.UptimeSeconds)
	assert.Zero(t, m.DiskFreePercent)
}

func TestNewSamplerOnThisHost(t *testing.T) {
	s := NewSampler("")
	assert.Equal(t, defaultDiskPath, s.DiskPath())

	m, err := s.Sample()
	if runtime.GOOS != "linux" {
		assert.Error(t, err)
		return
	}
	require.NoError(t, err)
	assert.Positive(t, m.UptimeSeconds)
	assert.GreaterOrEqual(t, m.MemPercent, 0.0)
	assert.LessOrEqual(t, m.MemPercent, 100.0)
	assert.GreaterOrEqual(t, m.DiskFreePercent, 0.0)
	assert.LessOrEqual(t, m.DiskFreePercent, 100.0)
	assert.NotEmpty(t, m.OSVersion)
}
