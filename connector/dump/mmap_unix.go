//go:build unix

package dump

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(file *os.File, size int64, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(file.Fd()), 0, int(size), prot, unix.MAP_SHARED)
}

func flushFile(_ *os.File, data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}
