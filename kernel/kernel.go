// Package kernel describes the narrow request/response contract between a buffer manager and the
// kernel memory manager that owns GPU memory. A Kernel is injected into the buffer manager so that
// everything above it can run against real hardware or against an in-process emulation.
package kernel

import (
	"context"
	"time"
)

//go:generate mockgen -source=kernel.go -destination=mocks/kernel.go -package=mocks

// Kernel is the capability object through which all kernel memory manager requests flow.
// Implementations must be safe for concurrent use.
type Kernel interface {
	// Create allocates a new object of at least size bytes and returns its handle and actual size
	Create(size int) (Handle, int, error)
	// Close releases this connection's reference to the object
	Close(handle Handle) error

	SetTiling(handle Handle, mode TilingMode, stride int) (Tiling, error)
	GetTiling(handle Handle) (Tiling, error)

	// Mmap produces a CPU view of the object. The returned slice stays valid until Munmap.
	Mmap(handle Handle, kind MapKind, size int) ([]byte, error)
	Munmap(handle Handle, kind MapKind, data []byte) error

	// SetDomain blocks until all GPU work conflicting with the requested domains has completed
	SetDomain(ctx context.Context, handle Handle, readDomains Domain, writeDomain Domain) error
	Busy(handle Handle) (bool, error)
	// Madvise applies a reclaim advisory. retained is false when the backing pages were already
	// discarded and the contents are lost.
	Madvise(handle Handle, advice Advice) (retained bool, err error)
	// Wait blocks for at most timeout (forever when negative) for the object to become idle,
	// returning ETIME if it did not.
	Wait(ctx context.Context, handle Handle, timeout time.Duration) error

	Pwrite(handle Handle, offset int, data []byte) error
	Pread(handle Handle, offset int, data []byte) error

	Execute(ctx context.Context, request *ExecRequest) (*ExecResult, error)
	WaitFence(ctx context.Context, fence Fence, timeout time.Duration) error
	CloseFence(fence Fence) error

	Flink(handle Handle) (Name, error)
	OpenByName(name Name) (Handle, int, error)
	ExportFD(handle Handle) (int, error)
	ImportFD(fd int) (Handle, int, error)

	ContextCreate() (ContextID, error)
	ContextDestroy(id ContextID) error

	GetParam(param Param) (int, error)
	// GetAperture returns the total size of the GPU's addressable window
	GetAperture() (uint64, error)
	ReadRegister(offset uint32) (uint64, error)
}
