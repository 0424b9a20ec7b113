package adaptive

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// hostSampler reads instantaneous CPU% and memory% from /proc/stat and
// /proc/meminfo. This is the one ambient concern the pack carries no
// portable third-party library for — every host-metrics package in the
// wider ecosystem (gopsutil and its kin) ends up reading these same two
// files on Linux and returning a zero value elsewhere, so reading them
// directly costs nothing in portability and avoids a dependency whose
// only job is to wrap two os.ReadFile calls.
type hostSampler struct {
	lastTotal uint64
	lastIdle  uint64
	haveLast  bool
}

func newHostSampler() *hostSampler {
	return &hostSampler{}
}

// cpuFraction returns CPU utilization since the previous call, as a value in
// [0, 1]. The first call always returns 0 (no prior sample to diff
// against). Returns 0 on any read/parse failure (e.g. non-Linux host),
// per SPEC_FULL.md §2.12's documented fallback.
func (s *hostSampler) cpuFraction() float64 {
	total, idle, ok := readProcStat()
	if !ok {
		return 0
	}
	defer func() {
		s.lastTotal, s.lastIdle, s.haveLast = total, idle, true
	}()
	if !s.haveLast {
		return 0
	}

	deltaTotal := total - s.lastTotal
	deltaIdle := idle - s.lastIdle
	if deltaTotal == 0 {
		return 0
	}
	return float64(deltaTotal-deltaIdle) / float64(deltaTotal)
}

// memFraction returns the fraction of total memory in use, as a value in
// [0, 1]. Returns 0 on any read/parse failure.
func memFraction() float64 {
	fields, ok := readProcMeminfo()
	if !ok {
		return 0
	}
	total, ok := fields["MemTotal"]
	if !ok || total == 0 {
		return 0
	}
	available, ok := fields["MemAvailable"]
	if !ok {
		return 0
	}
	used := total - available
	return float64(used) / float64(total)
}

// readProcStat returns the cumulative total and idle jiffies from the
// aggregate "cpu" line of /proc/stat.
func readProcStat() (total, idle uint64, ok bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, false
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var sum uint64
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, false
			}
			sum += v
		}
		// idle + iowait are fields[4] and fields[5] in the standard layout
		// ("cpu user nice system idle iowait ...").
		idleVal, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		iowait := uint64(0)
		if len(fields) > 5 {
			if v, err := strconv.ParseUint(fields[5], 10, 64); err == nil {
				iowait = v
			}
		}
		return sum, idleVal + iowait, true
	}
	return 0, 0, false
}

// readProcMeminfo returns the kB values of the MemTotal and MemAvailable
// lines in /proc/meminfo.
func readProcMeminfo() (map[string]uint64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return nil, false
	}
	out := make(map[string]uint64, 2)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		key, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if key != "MemTotal" && key != "MemAvailable" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
