package bufmgr

import (
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// dependency records that the referencing buffer object must see the target's GPU address. A
// fixed dependency targets a pinned buffer object and produces no relocation.
type dependency struct {
	target *BufferObject
	fixed  bool

	offset         uint64
	delta          uint64
	readDomains    kernel.Domain
	writeDomain    kernel.Domain
	presumedOffset uint64

	// subtreeSize is the target's subtree size at the time the dependency was added
	subtreeSize int
}

// BufferObject is a reference-counted handle to kernel-backed GPU memory. There is exactly one
// BufferObject per kernel handle per Manager.
type BufferObject struct {
	manager *Manager

	name       string
	handle     kernel.Handle
	globalName kernel.Name
	size       int
	alignment  uint
	refCount   atomic.Int32
	generation uint32

	tiling  kernel.TilingMode
	stride  int
	swizzle kernel.SwizzleMode

	reusable  bool
	idle      bool
	pinned    bool
	asyncExec bool
	offset    uint64
	err       error

	mapCount int
	cpuView  []byte
	gttView  []byte
	wcView   []byte
	lastView []byte

	dependencies []dependency
	apertureSize int
	subtreeSize  int
	referrers    int
	execIndex    int
	included     bool

	freeTime   time.Time
	bucket     *cacheBucket
	prevCached *BufferObject
	nextCached *BufferObject
}

func (bo *BufferObject) Manager() *Manager           { return bo.manager }
func (bo *BufferObject) Handle() kernel.Handle       { return bo.handle }
func (bo *BufferObject) Size() int                   { return bo.size }
func (bo *BufferObject) Alignment() uint             { return bo.alignment }
func (bo *BufferObject) Tiling() kernel.TilingMode   { return bo.tiling }
func (bo *BufferObject) Stride() int                 { return bo.stride }
func (bo *BufferObject) Swizzle() kernel.SwizzleMode { return bo.swizzle }
func (bo *BufferObject) RefCount() int               { return int(bo.refCount.Load()) }
func (bo *BufferObject) Generation() uint32          { return bo.generation }
func (bo *BufferObject) IsReusable() bool            { return bo.reusable }
func (bo *BufferObject) IsPinned() bool              { return bo.pinned }
func (bo *BufferObject) ImplicitSyncDisabled() bool  { return bo.asyncExec }
func (bo *BufferObject) Err() error                  { return bo.err }

// Offset is the last GPU address the kernel reported for this buffer object
func (bo *BufferObject) Offset() uint64 {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.offset
}

// GlobalName is the flink name of this buffer object, or 0 if it has never been shared by name
func (bo *BufferObject) GlobalName() kernel.Name {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.globalName
}

// Name is the debug name the buffer object was last acquired or opened with
func (bo *BufferObject) Name() string {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.name
}

func (bo *BufferObject) SetName(name string) {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	bo.name = name
}

// prepareForUse resets a fresh or recycled buffer object to the state every acquisition returns
func (bo *BufferObject) prepareForUse(name string, alignment uint) {
	bo.name = name
	bo.alignment = alignment
	bo.refCount.Store(1)
	bo.reusable = true
	bo.pinned = false
	bo.asyncExec = false
	bo.err = nil
	bo.mapCount = 0
	bo.lastView = nil
	bo.dependencies = bo.dependencies[:0]
	bo.referrers = 0
	bo.execIndex = -1
	bo.included = false
	bo.manager.updateApertureSize(bo)
}

// markErrored puts the buffer object in a sticky error state. Every later dependency operation on
// it, or on anything that depends on it, fails without reaching the kernel.
func (bo *BufferObject) markErrored(err error) error {
	bo.err = errors.Mark(err, ErrBufferErrored)
	return bo.err
}

// Write copies data into the buffer object at offset without mapping it
func (bo *BufferObject) Write(offset int, data []byte) error {
	bo.manager.logger.Debug("BufferObject::Write", slog.Int("offset", offset), slog.Int("length", len(data)))

	if offset < 0 || offset+len(data) > bo.size {
		return errors.Newf("write of %d bytes at offset %d is outside a buffer object of size %d", len(data), offset, bo.size)
	}

	err := bo.manager.kernel.Pwrite(bo.handle, offset, data)
	if err != nil {
		return errors.Wrapf(err, "failed to write to buffer object %d", bo.handle)
	}
	return nil
}

// Read copies len(data) bytes out of the buffer object at offset without mapping it
func (bo *BufferObject) Read(offset int, data []byte) error {
	bo.manager.logger.Debug("BufferObject::Read", slog.Int("offset", offset), slog.Int("length", len(data)))

	if offset < 0 || offset+len(data) > bo.size {
		return errors.Newf("read of %d bytes at offset %d is outside a buffer object of size %d", len(data), offset, bo.size)
	}

	err := bo.manager.kernel.Pread(bo.handle, offset, data)
	if err != nil {
		return errors.Wrapf(err, "failed to read from buffer object %d", bo.handle)
	}
	return nil
}

func (bo *BufferObject) printParameters(json *jwriter.ObjectState) {
	json.Name("Handle").Int(int(bo.handle))
	json.Name("Size").Int(bo.size)
	json.Name("Tiling").String(bo.tiling.String())

	if bo.stride != 0 {
		json.Name("Stride").Int(bo.stride)
	}

	if bo.globalName != 0 {
		json.Name("GlobalName").Int(int(bo.globalName))
	}

	if bo.name != "" {
		json.Name("Name").String(bo.name)
	}
}
