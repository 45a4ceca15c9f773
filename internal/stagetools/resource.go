package stagetools

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// userHZ is the kernel clock tick rate /proc/self/stat counts in. Linux has
// exposed 100 to userspace for decades regardless of CONFIG_HZ.
const userHZ = 100

// ResourceSnapshot captures process accounting at one instant. Pointer
// fields are nil when the proc files were unreadable, e.g. off Linux.
type ResourceSnapshot struct {
	WallTime time.Time
	CPUUserS *float64
	CPUSysS  *float64
	RSSKB    *int
	HWMKB    *int
}

func CaptureResourceSnapshot() ResourceSnapshot {
	snap := ResourceSnapshot{WallTime: time.Now()}
	snap.CPUUserS, snap.CPUSysS = readProcStat()
	snap.RSSKB, snap.HWMKB = readProcStatus()
	return snap
}

func readProcStat() (*float64, *float64) {
	raw, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return nil, nil
	}
	// the comm field may contain spaces; everything after the closing paren
	// is whitespace-separated
	text := string(raw)
	commEnd := strings.LastIndexByte(text, ')')
	if commEnd < 0 {
		return nil, nil
	}
	fields := strings.Fields(text[commEnd+1:])
	// utime and stime are fields 14 and 15 of the full line; two fields
	// precede the comm, so they sit at offsets 11 and 12 here
	if len(fields) < 13 {
		return nil, nil
	}
	utime, err1 := strconv.ParseFloat(fields[11], 64)
	stime, err2 := strconv.ParseFloat(fields[12], 64)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	user := utime / userHZ
	sys := stime / userHZ
	return &user, &sys
}

func readProcStatus() (*int, *int) {
	raw, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return nil, nil
	}
	var rss, hwm *int
	for _, line := range strings.Split(string(raw), "\n") {
		switch {
		case strings.HasPrefix(line, "VmRSS:"):
			rss = parseKB(line)
		case strings.HasPrefix(line, "VmHWM:"):
			hwm = parseKB(line)
		}
	}
	return rss, hwm
}

func parseKB(line string) *int {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil
	}
	return &n
}

// ResourceSummary reduces two snapshots to the metrics stored with a
// validation run. Unavailable metrics are simply absent.
func ResourceSummary(start, end ResourceSnapshot) map[string]any {
	summary := map[string]any{}
	wallS := end.WallTime.Sub(start.WallTime).Seconds()
	if wallS > 0 {
		summary["wall_time_s"] = wallS
	}
	if start.CPUUserS != nil && end.CPUUserS != nil {
		summary["cpu_user_s"] = *end.CPUUserS - *start.CPUUserS
	}
	if start.CPUSysS != nil && end.CPUSysS != nil {
		summary["cpu_system_s"] = *end.CPUSysS - *start.CPUSysS
	}
	user, hasUser := summary["cpu_user_s"].(float64)
	system, hasSys := summary["cpu_system_s"].(float64)
	if hasUser || hasSys {
		total := user + system
		summary["cpu_total_s"] = total
		if wallS > 0 {
			summary["cpu_percent_avg"] = total / wallS * 100
		}
	}
	if start.RSSKB != nil {
		summary["rss_kb_start"] = *start.RSSKB
	}
	if end.RSSKB != nil {
		summary["rss_kb"] = *end.RSSKB
	}
	if end.HWMKB != nil {
		summary["rss_hwm_kb"] = *end.HWMKB
	}
	return summary
}
