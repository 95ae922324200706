package worker

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ParseGap converts an interval or gap string ("+0.273") into milliseconds.
// Lapped cars are reported as "1L" or "LAP1" and count as 0.
func ParseGap(gap string) int64 {
	gap = strings.TrimSpace(gap)
	if gap == "" || strings.Contains(gap, "L") {
		return 0
	}
	gap = strings.TrimPrefix(gap, "+")
	return secondsToMillisTruncated(gap)
}

var laptimePattern = regexp.MustCompile(`^([0-9]+):([0-5][0-9]\.[0-9]+)$`)

// ParseLaptime converts "M:SS.fff" into milliseconds, any other format yields 0
func ParseLaptime(laptime string) int64 {
	match := laptimePattern.FindStringSubmatch(strings.TrimSpace(laptime))
	if match == nil {
		return 0
	}
	minutes, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return 0
	}
	return minutes*60000 + int64(math.Round(seconds*1000))
}

// ParseSector converts a sector time in seconds ("28.114") into milliseconds
func ParseSector(sector string) int64 {
	sector = strings.TrimSpace(sector)
	if sector == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(sector, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

// secondsToMillisTruncated truncates on the decimal representation, so "0.273" is 273
// and not 272 as float multiplication would give
func secondsToMillisTruncated(seconds string) int64 {
	f, err := strconv.ParseFloat(seconds, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	negative := strings.HasPrefix(seconds, "-")
	digits := strings.TrimLeft(seconds, "+-")
	whole, frac, _ := strings.Cut(digits, ".")
	if strings.ContainsAny(digits, "eE") || whole == "" && frac == "" {
		return int64(f * 1000)
	}

	var ms int64
	if whole != "" {
		w, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return int64(f * 1000)
		}
		ms = w * 1000
	}
	if len(frac) > 3 {
		frac = frac[:3]
	}
	for len(frac) < 3 {
		frac += "0"
	}
	fr, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return int64(f * 1000)
	}
	ms += fr
	if negative {
		return -ms
	}
	return ms
}
