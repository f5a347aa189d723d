//go:build darwin

package skill

// readProcessMemoryMB and readProcessCPUPercent are stubs on darwin until
// a cgo-free way to query per-process RSS/CPU time is wired in (darwin
// requires either cgo+libproc or shelling out to ps).
func readProcessMemoryMB(pid int) int64 {
	return 0
}

func readProcessCPUPercent(pid int) float64 {
	return 0
}
