package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"T", 1 << 40},
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
	{"B", 1},
}

// ParseSize parses a human-readable size into bytes. It accepts the forms
// used in configuration ("512MB", "2GB") and the ones Redis reports in INFO
// ("1.05M", "832.45K", "1024B").
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := 1.0
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(s[:len(s)-len(u.suffix)])
			break
		}
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil || val < 0 || math.IsInf(val, 0) || math.IsNaN(val) {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(val * multiplier), nil
}

// FormatSize renders bytes the way Redis renders used_memory_human.
func FormatSize(bytes int64) string {
	f := float64(bytes)
	switch {
	case f >= 1<<40:
		return strconv.FormatFloat(f/(1<<40), 'f', 2, 64) + "T"
	case f >= 1<<30:
		return strconv.FormatFloat(f/(1<<30), 'f', 2, 64) + "G"
	case f >= 1<<20:
		return strconv.FormatFloat(f/(1<<20), 'f', 2, 64) + "M"
	case f >= 1<<10:
		return strconv.FormatFloat(f/(1<<10), 'f', 2, 64) + "K"
	default:
		return strconv.FormatInt(bytes, 10) + "B"
	}
}
