//go:build !linux

package memory

// systemMemory reports 0 (unlimited) where physical memory is not queried.
func systemMemory() uint64 { return 0 }
