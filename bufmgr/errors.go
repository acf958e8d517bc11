package bufmgr

import "github.com/cockroachdb/errors"

var (
	// ErrInsufficientCapacity is reported when a dependency tree would not fit in the aperture. It is
	// not a hard failure: the caller should flush outstanding work and retry.
	ErrInsufficientCapacity = errors.New("the dependency tree would not fit in the aperture")
	// ErrBufferErrored marks every failure caused by a buffer object that is in a sticky error state
	ErrBufferErrored  = errors.New("buffer object is in an error state")
	ErrSelfDependency = errors.New("a buffer object cannot depend on itself")
	// ErrTargetConsumed is returned when adding a dependency to a buffer object that is already
	// the target of another buffer object's dependency
	ErrTargetConsumed     = errors.New("buffer object has already been used as a dependency target")
	ErrDependencyListFull = errors.New("the dependency list is full")
	ErrNotPinned          = errors.New("buffer object does not have a fixed address")
	ErrNotSupported       = errors.New("the kernel does not support this operation")
	ErrTimeout            = errors.New("timed out waiting for the GPU")
	ErrInvalidTiling      = errors.New("invalid tiling layout")
	ErrManagerDestroyed   = errors.New("the buffer manager has been destroyed")
)
