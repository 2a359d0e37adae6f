// diskusage.go — ёмкость файловой системы директории данных.
// Платформозависимый код для Unix-подобных систем.
package filestore

import (
	"fmt"
	"syscall"
)

// DiskUsage — ёмкость файловой системы в байтах.
type DiskUsage struct {
	Total     uint64
	Used      uint64
	Available uint64
}

// Usage возвращает ёмкость файловой системы, на которой лежит dir.
func Usage(dir string) (*DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return nil, fmt.Errorf("ошибка statfs %s: %w", dir, err)
	}

	bsize := uint64(stat.Bsize) // #nosec G115 -- размер блока неотрицателен
	total := stat.Blocks * bsize
	available := stat.Bavail * bsize
	return &DiskUsage{
		Total:     total,
		Used:      total - available,
		Available: available,
	}, nil
}
