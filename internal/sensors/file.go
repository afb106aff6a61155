package sensors

import (
	"os"
	"strconv"
	"strings"
)

// FileSensor reads a numeric value from a file on every sample, the
// way sysfs hwmon and w1-therm expose probes. The raw number is
// reported as raw*scale+offset, so a millidegree Celsius file becomes
// Fahrenheit with scale 0.0018 and offset 32.
type FileSensor struct {
	name   string
	path   string
	scale  float64
	offset float64
}

func NewFileSensor(name, path string, scale, offset float64) *FileSensor {
	if scale == 0 {
		scale = 1
	}
	return &FileSensor{name: name, path: path, scale: scale, offset: offset}
}

func (s *FileSensor) Name() string { return s.name }

func (s *FileSensor) Read() (float64, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, false
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return raw*s.scale + s.offset, true
}
