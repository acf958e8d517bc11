//go:build linux

package softkernel

import "golang.org/x/sys/unix"

func allocBacking(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func freeBacking(data []byte) error {
	return unix.Munmap(data)
}

// discardBacking drops the pages behind an anonymous private mapping, which reads back as zeroes
func discardBacking(data []byte) error {
	return unix.Madvise(data, unix.MADV_DONTNEED)
}
