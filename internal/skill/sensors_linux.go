//go:build linux

package skill

import (
	"os"
	"strconv"
	"strings"
)

// readProcessMemoryMB reads a process's resident set size from procfs.
func readProcessMemoryMB(pid int) int64 {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, _ := strconv.ParseInt(fields[1], 10, 64)
				return kb / 1024
			}
		}
	}
	return 0
}

// readProcessCPUPercent reports a process's average CPU usage since it
// started, as a percentage of one core: cumulative utime+stime from procfs
// divided by the process's elapsed lifetime (assuming 100 clock ticks per
// second). It is not an instantaneous rate.
func readProcessCPUPercent(pid int) float64 {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 22 {
		return 0
	}
	utime, _ := strconv.ParseFloat(fields[13], 64)
	stime, _ := strconv.ParseFloat(fields[14], 64)
	startTicks, _ := strconv.ParseFloat(fields[21], 64)
	const clockTicksPerSecond = 100
	uptimeData, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	uptimeFields := strings.Fields(string(uptimeData))
	if len(uptimeFields) == 0 {
		return 0
	}
	uptime, _ := strconv.ParseFloat(uptimeFields[0], 64)
	elapsed := uptime - startTicks/clockTicksPerSecond
	if elapsed <= 0 {
		return 0
	}
	return 100 * (utime + stime) / clockTicksPerSecond / elapsed
}
