package kernel

import "fmt"

// Errno is a status code returned by the kernel memory manager. Every kernel-side failure surfaces
// as one of these values, possibly wrapped with additional context.
type Errno int

const (
	ENOENT Errno = 2
	EIO    Errno = 5
	EBADF  Errno = 9
	ENOMEM Errno = 12
	EFAULT Errno = 14
	EBUSY  Errno = 16
	ENODEV Errno = 19
	EINVAL Errno = 22
	ENOSPC Errno = 28
	ETIME  Errno = 62
)

var errnoNames = map[Errno]string{
	ENOENT: "ENOENT",
	EIO:    "EIO",
	EBADF:  "EBADF",
	ENOMEM: "ENOMEM",
	EFAULT: "EFAULT",
	EBUSY:  "EBUSY",
	ENODEV: "ENODEV",
	EINVAL: "EINVAL",
	ENOSPC: "ENOSPC",
	ETIME:  "ETIME",
}

func (e Errno) Error() string {
	name, ok := errnoNames[e]
	if !ok {
		return fmt.Sprintf("kernel error %d", int(e))
	}
	return name
}

// Status returns the negative status code used by the classic C-style interface
func (e Errno) Status() int {
	return -int(e)
}
