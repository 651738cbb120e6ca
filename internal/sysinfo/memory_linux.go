//go:build linux

package sysinfo

import "syscall"

// TotalMemoryBytes returns the total physical memory of the host in bytes.
// On Linux it uses the Sysinfo syscall; falls back to 8GB if unavailable.
func TotalMemoryBytes() uint64 {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return fallbackMemory
	}
	return info.Totalram * uint64(info.Unit)
}
