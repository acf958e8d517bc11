// Package softkernel emulates the kernel memory manager in-process. It keeps real backing
// memory for every object, validates tiling requests the way the hardware requires, places
// objects in a simulated aperture, patches relocations and tracks simulated GPU requests that
// stay outstanding until the owner retires them.
package softkernel

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

const (
	defaultApertureSize uint64 = 256 * 1024 * 1024
	defaultGen          int    = 9
	apertureBase        uint64 = 0x10000
	firstDescriptor     int    = 100
)

// Options configures an emulated kernel. The zero value is usable.
type Options struct {
	Logger *slog.Logger

	// ApertureSize is the size of the simulated GPU address window, 256MiB by default
	ApertureSize uint64
	// Params overrides the answers to GetParam. Params missing from the map use defaults: a gen 9
	// device with LLC, WC mappings, exec-async, softpin and 48 bit addressing.
	Params map[kernel.Param]int
	// MissingParams lists params that should fail to probe
	MissingParams []kernel.Param
	// Registers lists the registers ReadRegister can read. Any other offset fails.
	Registers map[uint32]uint64

	// AutoRetire retires every request as soon as it is executed
	AutoRetire bool
	// PurgeOnAdvise discards an object's pages as soon as it is marked DontNeed
	PurgeOnAdvise bool
	// NoYTiling silently downgrades Y tiling requests to linear
	NoYTiling bool
}

type request struct {
	seq  uint64
	done chan struct{}
}

func (r *request) retired() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

type object struct {
	handle   kernel.Handle
	open     bool
	size     int
	data     []byte
	tiling   kernel.Tiling
	name     kernel.Name
	exported bool

	purgeable bool
	purged    bool

	bound   bool
	address uint64
	last    *request

	mappings int
}

// Kernel is an in-process kernel.Kernel
type Kernel struct {
	logger  *slog.Logger
	options Options
	params  map[kernel.Param]int

	mutex sync.Mutex

	objects     *swiss.Map[kernel.Handle, *object]
	names       map[kernel.Name]*object
	descriptors map[int]*object
	contexts    map[kernel.ContextID]bool
	fences      map[kernel.Fence]*request

	nextHandle     kernel.Handle
	nextName       kernel.Name
	nextDescriptor int
	nextContext    kernel.ContextID
	nextFence      kernel.Fence
	nextAddress    uint64
	nextSeq        uint64

	pending []*request

	created      int
	closed       int
	liveMappings int
	executions   int
	lastRequest  *kernel.ExecRequest
}

var _ kernel.Kernel = &Kernel{}

// New creates an empty emulated kernel
func New(options Options) *Kernel {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.ApertureSize == 0 {
		options.ApertureSize = defaultApertureSize
	}

	params := map[kernel.Param]int{
		kernel.ParamChipsetGen:        defaultGen,
		kernel.ParamHasLLC:            1,
		kernel.ParamHasWCMmap:         1,
		kernel.ParamHasWCDomain:       1,
		kernel.ParamHasExecAsync:      1,
		kernel.ParamHasSoftpin:        1,
		kernel.ParamHasRelaxedFencing: 1,
		kernel.ParamHas48BitAddress:   1,
	}
	for param, value := range options.Params {
		params[param] = value
	}
	for _, param := range options.MissingParams {
		delete(params, param)
	}

	return &Kernel{
		logger:  logger,
		options: options,
		params:  params,

		objects:     swiss.NewMap[kernel.Handle, *object](64),
		names:       make(map[kernel.Name]*object),
		descriptors: make(map[int]*object),
		contexts:    map[kernel.ContextID]bool{kernel.DefaultContext: true},
		fences:      make(map[kernel.Fence]*request),

		nextHandle:     1,
		nextName:       1,
		nextDescriptor: firstDescriptor,
		nextContext:    1,
		nextFence:      1,
		nextAddress:    apertureBase,
	}
}

func (k *Kernel) lookup(handle kernel.Handle) (*object, error) {
	obj, ok := k.objects.Get(handle)
	if !ok {
		return nil, errors.Wrapf(kernel.ENOENT, "no object with handle %d", handle)
	}
	return obj, nil
}

func (k *Kernel) Create(size int) (kernel.Handle, int, error) {
	if size <= 0 {
		return 0, 0, errors.Wrapf(kernel.EINVAL, "invalid object size %d", size)
	}
	size = memutils.AlignUp(size, uint(memutils.PageSize))

	data, err := allocBacking(size)
	if err != nil {
		return 0, 0, errors.Wrap(kernel.ENOMEM, err.Error())
	}

	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj := &object{
		handle: k.nextHandle,
		open:   true,
		size:   size,
		data:   data,
	}
	k.nextHandle++
	k.created++
	k.objects.Put(obj.handle, obj)

	return obj.handle, size, nil
}

func (k *Kernel) Close(handle kernel.Handle) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return err
	}

	k.objects.Delete(handle)
	obj.open = false
	k.closed++

	if obj.name == 0 && !obj.exported {
		return freeBacking(obj.data)
	}

	return nil
}

func (k *Kernel) SetTiling(handle kernel.Handle, mode kernel.TilingMode, stride int) (kernel.Tiling, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return kernel.Tiling{}, err
	}

	if mode == kernel.TilingY && k.options.NoYTiling {
		mode = kernel.TilingNone
	}

	switch mode {
	case kernel.TilingNone:
		stride = 0
	case kernel.TilingX, kernel.TilingY:
		tileWidth := 128
		if mode == kernel.TilingX {
			tileWidth = 512
		}
		if stride <= 0 || stride%tileWidth != 0 {
			return obj.tiling, errors.Wrapf(kernel.EINVAL, "stride %d is not a multiple of the %s tile width %d", stride, mode, tileWidth)
		}
		if stride > obj.size {
			return obj.tiling, errors.Wrapf(kernel.EINVAL, "stride %d exceeds object size %d", stride, obj.size)
		}
	default:
		return obj.tiling, errors.Wrapf(kernel.EINVAL, "unknown tiling mode %d", mode)
	}

	swizzle := kernel.SwizzleNone
	if mode != kernel.TilingNone && k.params[kernel.ParamChipsetGen] < 8 {
		swizzle = kernel.Swizzle9And10
	}

	obj.tiling = kernel.Tiling{Mode: mode, Stride: stride, Swizzle: swizzle}
	return obj.tiling, nil
}

func (k *Kernel) GetTiling(handle kernel.Handle) (kernel.Tiling, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return kernel.Tiling{}, err
	}
	return obj.tiling, nil
}

func (k *Kernel) Mmap(handle kernel.Handle, kind kernel.MapKind, size int) ([]byte, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return nil, err
	}
	if kind == kernel.MapWC && k.params[kernel.ParamHasWCMmap] == 0 {
		return nil, errors.Wrap(kernel.ENODEV, "write-combined mappings are not supported")
	}
	if obj.purged {
		return nil, errors.Wrapf(kernel.EFAULT, "object %d has been purged", handle)
	}
	if size <= 0 || size > obj.size {
		return nil, errors.Wrapf(kernel.EINVAL, "mapping size %d is invalid for an object of size %d", size, obj.size)
	}

	obj.mappings++
	k.liveMappings++
	return obj.data[:size:size], nil
}

func (k *Kernel) Munmap(handle kernel.Handle, kind kernel.MapKind, data []byte) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return err
	}
	if obj.mappings == 0 {
		return errors.Wrapf(kernel.EINVAL, "object %d has no %s mapping", handle, kind)
	}

	obj.mappings--
	k.liveMappings--
	return nil
}

func (k *Kernel) outstanding(handle kernel.Handle) (*request, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return nil, err
	}
	if obj.last == nil || obj.last.retired() {
		return nil, nil
	}
	return obj.last, nil
}

func (k *Kernel) SetDomain(ctx context.Context, handle kernel.Handle, readDomains kernel.Domain, writeDomain kernel.Domain) error {
	if writeDomain != 0 && writeDomain&(writeDomain-1) != 0 {
		return errors.Wrapf(kernel.EINVAL, "write domain %s names more than one domain", writeDomain)
	}
	if readDomains&kernel.DomainWC != 0 && k.params[kernel.ParamHasWCDomain] == 0 {
		return errors.Wrap(kernel.EINVAL, "the WC domain is not supported")
	}

	req, err := k.outstanding(handle)
	if err != nil || req == nil {
		return err
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kernel) Busy(handle kernel.Handle) (bool, error) {
	req, err := k.outstanding(handle)
	if err != nil {
		return false, err
	}
	return req != nil, nil
}

func (k *Kernel) Madvise(handle kernel.Handle, advice kernel.Advice) (bool, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return false, err
	}

	switch advice {
	case kernel.AdviceWillNeed:
		obj.purgeable = false
	case kernel.AdviceDontNeed:
		obj.purgeable = true
		if k.options.PurgeOnAdvise {
			err = k.purge(obj)
			if err != nil {
				return false, err
			}
		}
	default:
		return false, errors.Wrapf(kernel.EINVAL, "unknown advice %d", advice)
	}

	return !obj.purged, nil
}

func (k *Kernel) purge(obj *object) error {
	if obj.purged {
		return nil
	}
	obj.purged = true
	obj.bound = false
	return discardBacking(obj.data)
}

func waitRequest(ctx context.Context, req *request, timeout time.Duration) error {
	if timeout == 0 {
		if req.retired() {
			return nil
		}
		return kernel.ETIME
	}

	if timeout < 0 {
		select {
		case <-req.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.done:
		return nil
	case <-timer.C:
		return kernel.ETIME
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kernel) Wait(ctx context.Context, handle kernel.Handle, timeout time.Duration) error {
	req, err := k.outstanding(handle)
	if err != nil || req == nil {
		return err
	}
	return waitRequest(ctx, req, timeout)
}

func (k *Kernel) transferRange(handle kernel.Handle, offset int, length int) (*object, error) {
	obj, err := k.lookup(handle)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+length > obj.size {
		return nil, errors.Wrapf(kernel.EINVAL, "range %d+%d is outside an object of size %d", offset, length, obj.size)
	}
	if obj.purged {
		return nil, errors.Wrapf(kernel.EFAULT, "object %d has been purged", handle)
	}
	return obj, nil
}

func (k *Kernel) Pwrite(handle kernel.Handle, offset int, data []byte) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.transferRange(handle, offset, len(data))
	if err != nil {
		return err
	}
	copy(obj.data[offset:], data)
	return nil
}

func (k *Kernel) Pread(handle kernel.Handle, offset int, data []byte) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.transferRange(handle, offset, len(data))
	if err != nil {
		return err
	}
	copy(data, obj.data[offset:])
	return nil
}

func (k *Kernel) place(obj *object, entry *kernel.ExecObject) (uint64, error) {
	limit := k.options.ApertureSize
	if entry.Flags&kernel.ExecObjectSupports48Bit == 0 && limit > 1<<32 {
		limit = 1 << 32
	}

	if entry.Flags&kernel.ExecObjectPinned != 0 {
		if entry.Offset%uint64(memutils.PageSize) != 0 {
			return 0, errors.Wrapf(kernel.EINVAL, "pinned offset 0x%x is not page aligned", entry.Offset)
		}
		if entry.Offset+uint64(obj.size) > limit {
			return 0, errors.Wrapf(kernel.EINVAL, "pinned offset 0x%x is outside the aperture", entry.Offset)
		}
		obj.address = entry.Offset
		obj.bound = true
		return obj.address, nil
	}

	if obj.bound && obj.address+uint64(obj.size) <= limit {
		return obj.address, nil
	}

	alignment := uint(memutils.PageSize)
	if entry.Alignment > uint64(alignment) {
		alignment = uint(entry.Alignment)
	}

	address := uint64(memutils.AlignUp(int(k.nextAddress), alignment))
	if address+uint64(obj.size) > limit {
		address = apertureBase
	}

	obj.address = address
	obj.bound = true
	k.nextAddress = address + uint64(obj.size)
	return address, nil
}

func (k *Kernel) Execute(ctx context.Context, execRequest *kernel.ExecRequest) (*kernel.ExecResult, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	if !k.contexts[execRequest.Context] {
		return nil, errors.Wrapf(kernel.ENOENT, "unknown context %d", execRequest.Context)
	}
	if len(execRequest.Objects) == 0 {
		return nil, errors.Wrap(kernel.EINVAL, "an execution requires at least a batch object")
	}
	if execRequest.Flags&kernel.ExecFenceIn != 0 {
		if _, ok := k.fences[execRequest.InFence]; !ok {
			return nil, errors.Wrapf(kernel.EINVAL, "unknown input fence %d", execRequest.InFence)
		}
	}

	objects := make([]*object, len(execRequest.Objects))
	seen := make(map[kernel.Handle]int, len(execRequest.Objects))
	var total uint64
	for i, entry := range execRequest.Objects {
		obj, err := k.lookup(entry.Handle)
		if err != nil {
			return nil, err
		}
		if _, duplicate := seen[entry.Handle]; duplicate {
			return nil, errors.Wrapf(kernel.EINVAL, "handle %d appears twice in one execution", entry.Handle)
		}
		if obj.purged {
			return nil, errors.Wrapf(kernel.EFAULT, "object %d has been purged", entry.Handle)
		}
		seen[entry.Handle] = i
		objects[i] = obj
		total += uint64(obj.size)
	}

	if total > k.options.ApertureSize-apertureBase {
		return nil, errors.Wrapf(kernel.ENOSPC, "execution needs %d bytes but the aperture holds %d", total, k.options.ApertureSize)
	}

	batch := objects[len(objects)-1]
	if execRequest.BatchStart < 0 || execRequest.BatchLength < 0 || execRequest.BatchStart+execRequest.BatchLength > batch.size {
		return nil, errors.Wrapf(kernel.EINVAL, "batch range %d+%d is outside the batch object", execRequest.BatchStart, execRequest.BatchLength)
	}

	result := &kernel.ExecResult{
		Offsets: make([]uint64, len(objects)),
		Fence:   kernel.NoFence,
	}
	for i, obj := range objects {
		address, err := k.place(obj, &execRequest.Objects[i])
		if err != nil {
			return nil, err
		}
		result.Offsets[i] = address
	}

	for i, entry := range execRequest.Objects {
		obj := objects[i]
		width := 4
		if entry.Flags&kernel.ExecObjectSupports48Bit != 0 {
			width = 8
		}

		for _, reloc := range entry.Relocations {
			targetIndex, ok := seen[reloc.TargetHandle]
			if !ok {
				return nil, errors.Wrapf(kernel.ENOENT, "relocation target %d is not part of the execution", reloc.TargetHandle)
			}
			if reloc.Offset+uint64(width) > uint64(obj.size) {
				return nil, errors.Wrapf(kernel.EINVAL, "relocation offset %d is outside object %d", reloc.Offset, entry.Handle)
			}

			targetAddress := result.Offsets[targetIndex]
			if reloc.PresumedOffset == targetAddress {
				continue
			}

			value := targetAddress + reloc.Delta
			if width == 8 {
				binary.LittleEndian.PutUint64(obj.data[reloc.Offset:], value)
			} else {
				binary.LittleEndian.PutUint32(obj.data[reloc.Offset:], uint32(value))
			}
		}
	}

	k.nextSeq++
	req := &request{seq: k.nextSeq, done: make(chan struct{})}
	for _, obj := range objects {
		obj.last = req
	}
	if k.options.AutoRetire {
		close(req.done)
	} else {
		k.pending = append(k.pending, req)
	}

	if execRequest.Flags&kernel.ExecFenceOut != 0 {
		result.Fence = k.nextFence
		k.fences[k.nextFence] = req
		k.nextFence++
	}

	k.executions++
	k.lastRequest = execRequest

	k.logger.Debug("SoftKernel::Execute",
		slog.Int("objects", len(objects)),
		slog.Int("context", int(execRequest.Context)),
		slog.Int("seq", int(req.seq)),
	)

	return result, nil
}

func (k *Kernel) WaitFence(ctx context.Context, fence kernel.Fence, timeout time.Duration) error {
	k.mutex.Lock()
	req, ok := k.fences[fence]
	k.mutex.Unlock()

	if !ok {
		return errors.Wrapf(kernel.EINVAL, "unknown fence %d", fence)
	}
	return waitRequest(ctx, req, timeout)
}

func (k *Kernel) CloseFence(fence kernel.Fence) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	if _, ok := k.fences[fence]; !ok {
		return errors.Wrapf(kernel.EBADF, "unknown fence %d", fence)
	}
	delete(k.fences, fence)
	return nil
}

func (k *Kernel) Flink(handle kernel.Handle) (kernel.Name, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return 0, err
	}

	if obj.name == 0 {
		obj.name = k.nextName
		k.nextName++
		k.names[obj.name] = obj
	}
	return obj.name, nil
}

// reopen gives a shared object a handle on this connection, reusing its current handle if it has one
func (k *Kernel) reopen(obj *object) (kernel.Handle, int) {
	if !obj.open {
		obj.handle = k.nextHandle
		obj.open = true
		k.nextHandle++
		k.objects.Put(obj.handle, obj)
	}
	return obj.handle, obj.size
}

func (k *Kernel) OpenByName(name kernel.Name) (kernel.Handle, int, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, ok := k.names[name]
	if !ok {
		return 0, 0, errors.Wrapf(kernel.ENOENT, "no object with name %d", name)
	}

	handle, size := k.reopen(obj)
	return handle, size, nil
}

func (k *Kernel) ExportFD(handle kernel.Handle) (int, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, err := k.lookup(handle)
	if err != nil {
		return -1, err
	}

	fd := k.nextDescriptor
	k.nextDescriptor++
	k.descriptors[fd] = obj
	obj.exported = true
	return fd, nil
}

func (k *Kernel) ImportFD(fd int) (kernel.Handle, int, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	obj, ok := k.descriptors[fd]
	if !ok {
		return 0, 0, errors.Wrapf(kernel.EBADF, "unknown descriptor %d", fd)
	}

	handle, size := k.reopen(obj)
	return handle, size, nil
}

func (k *Kernel) ContextCreate() (kernel.ContextID, error) {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	id := k.nextContext
	k.nextContext++
	k.contexts[id] = true
	return id, nil
}

func (k *Kernel) ContextDestroy(id kernel.ContextID) error {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	if id == kernel.DefaultContext || !k.contexts[id] {
		return errors.Wrapf(kernel.ENOENT, "unknown context %d", id)
	}
	delete(k.contexts, id)
	return nil
}

func (k *Kernel) GetParam(param kernel.Param) (int, error) {
	value, ok := k.params[param]
	if !ok {
		return 0, errors.Wrapf(kernel.EINVAL, "unknown param %d", param)
	}
	return value, nil
}

func (k *Kernel) GetAperture() (uint64, error) {
	return k.options.ApertureSize, nil
}

func (k *Kernel) ReadRegister(offset uint32) (uint64, error) {
	value, ok := k.options.Registers[offset]
	if !ok {
		return 0, errors.Wrapf(kernel.EINVAL, "register 0x%x is not readable", offset)
	}
	return value, nil
}
