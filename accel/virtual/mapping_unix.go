//go:build unix

package virtual

import (
	"golang.org/x/sys/unix"
)

// mapMemory reserves size bytes outside the Go heap, zero filled.
func mapMemory(size uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapMemory(mem []byte) error {
	return unix.Munmap(mem)
}
