//go:build unix

package fileservice

import (
	"fmt"
	"syscall"
)

// Usage describes disk usage for the filesystem holding the root.
type Usage struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	TotalHuman string `json:"total_gb"`
	UsedHuman  string `json:"used_gb"`
	FreeHuman  string `json:"free_gb"`
}

// DiskUsage reports usage of the filesystem containing the root directory.
func (s *Service) DiskUsage() (Usage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(s.root, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", s.root, err)
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	used := total - free
	gb := func(b uint64) string { return fmt.Sprintf("%.2f GB", float64(b)/(1<<30)) }
	return Usage{
		TotalBytes: total,
		UsedBytes:  used,
		FreeBytes:  free,
		TotalHuman: gb(total),
		UsedHuman:  gb(used),
		FreeHuman:  gb(free),
	}, nil
}
