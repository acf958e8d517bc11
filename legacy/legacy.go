// Package legacy exposes a buffer manager through the classic call-compatible interface: buffer
// objects are allocated and released by name, and every operation reports a status code that is
// 0 on success or a negative errno on failure.
package legacy

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// Status converts an error returned by the buffer manager to a classic status code
func Status(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, bufmgr.ErrBufferErrored):
		return kernel.ENOMEM.Status()
	case errors.Is(err, bufmgr.ErrInsufficientCapacity):
		return kernel.ENOSPC.Status()
	case errors.Is(err, bufmgr.ErrTimeout):
		return kernel.ETIME.Status()
	}

	var errno kernel.Errno
	if errors.As(err, &errno) {
		return errno.Status()
	}

	switch {
	case errors.Is(err, bufmgr.ErrNotSupported):
		return kernel.ENODEV.Status()
	case errors.Is(err, bufmgr.ErrDependencyListFull):
		return kernel.ENOMEM.Status()
	default:
		return kernel.EINVAL.Status()
	}
}

// Bufmgr is a buffer manager opened through the classic interface
type Bufmgr struct {
	manager *bufmgr.Manager
}

// Init opens a buffer manager on k. batchSize bounds the number of relocations per buffer object.
// Reuse of released buffer objects stays off until EnableReuse is called. Init returns nil if the
// manager cannot be created.
func Init(logger *slog.Logger, k kernel.Kernel, batchSize int) *Bufmgr {
	manager, err := bufmgr.New(logger, k, bufmgr.CreateOptions{
		Flags:     bufmgr.CreateDisableReuse,
		BatchSize: batchSize,
	})
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("legacy.Init failed to create a buffer manager", slog.Any("error", err))
		return nil
	}

	return &Bufmgr{manager: manager}
}

// Manager returns the underlying buffer manager
func (b *Bufmgr) Manager() *bufmgr.Manager { return b.manager }

func (b *Bufmgr) EnableReuse() {
	b.manager.SetReuseEnabled(true)
}

// SetVMACacheSize bounds the number of closed CPU mappings kept around. A negative limit removes
// the bound.
func (b *Bufmgr) SetVMACacheSize(limit int) {
	b.manager.SetMappingCacheSize(limit)
}

func (b *Bufmgr) Destroy() {
	err := b.manager.Destroy()
	if err != nil {
		b.manager.Logger().Error("Bufmgr::Destroy", slog.Any("error", err))
	}
}

func (b *Bufmgr) wrap(bo *bufmgr.BufferObject, err error) *Bo {
	if err != nil {
		b.manager.Logger().Debug("Bufmgr failed to produce a buffer object", slog.Any("error", err))
		return nil
	}

	return &Bo{bufmgr: b, bo: bo}
}

func (b *Bufmgr) BoAlloc(name string, size int, alignment uint) *Bo {
	return b.wrap(b.manager.Acquire(bufmgr.AcquireInfo{
		Name:      name,
		Size:      size,
		Alignment: alignment,
	}))
}

func (b *Bufmgr) BoAllocForRender(name string, size int, alignment uint) *Bo {
	return b.wrap(b.manager.Acquire(bufmgr.AcquireInfo{
		Name:      name,
		Size:      size,
		Alignment: alignment,
		Flags:     bufmgr.AcquireForRender,
	}))
}

// BoAllocTiled allocates a width x height surface. On entry tiling holds the requested tiling; on
// return it holds the applied tiling and pitch holds the row pitch.
func (b *Bufmgr) BoAllocTiled(name string, width int, height int, bytesPerPixel int, tiling *kernel.TilingMode, pitch *int, forRender bool) *Bo {
	info := bufmgr.TiledAcquireInfo{
		Name:          name,
		Width:         width,
		Height:        height,
		BytesPerPixel: bytesPerPixel,
		Tiling:        *tiling,
	}
	if forRender {
		info.Flags |= bufmgr.AcquireForRender
	}

	bo, rowPitch, err := b.manager.AcquireTiled(info)
	result := b.wrap(bo, err)
	if result == nil {
		return nil
	}

	*tiling = bo.Tiling()
	*pitch = rowPitch
	return result
}

func (b *Bufmgr) BoCreateFromName(debugName string, name kernel.Name) *Bo {
	return b.wrap(b.manager.OpenByName(name, debugName))
}

func (b *Bufmgr) BoImportFD(fd int, size int) *Bo {
	return b.wrap(b.manager.ImportDescriptor(fd, size))
}

// CheckApertureSpace returns -ENOSPC if the dependency trees of bos would not fit in the aperture
func (b *Bufmgr) CheckApertureSpace(bos []*Bo) int {
	roots := make([]*bufmgr.BufferObject, 0, len(bos))
	for _, bo := range bos {
		roots = append(roots, bo.bo)
	}

	return Status(b.manager.CheckCapacity(roots...))
}

func (b *Bufmgr) RegRead(offset uint32, result *uint64) int {
	value, err := b.manager.ReadRegister(offset)
	if err != nil {
		return Status(err)
	}

	*result = value
	return 0
}

// Context is a hardware context opened through the classic interface
type Context struct {
	bufmgr  *Bufmgr
	context *bufmgr.Context
}

func (b *Bufmgr) ContextCreate() *Context {
	ctx, err := b.manager.CreateContext()
	if err != nil {
		b.manager.Logger().Debug("Bufmgr::ContextCreate", slog.Any("error", err))
		return nil
	}

	return &Context{bufmgr: b, context: ctx}
}

func (c *Context) Destroy() {
	if c == nil {
		return
	}

	err := c.context.Destroy()
	if err != nil {
		c.bufmgr.manager.Logger().Debug("Context::Destroy", slog.Any("error", err))
	}
}

func (c *Context) ID() kernel.ContextID {
	return c.context.ID()
}

// Bo is a buffer object opened through the classic interface. Two Bo values refer to the same
// buffer object when their Object methods return the same pointer.
type Bo struct {
	bufmgr *Bufmgr
	bo     *bufmgr.BufferObject
}

func (b *Bo) Object() *bufmgr.BufferObject { return b.bo }
func (b *Bo) Size() int                    { return b.bo.Size() }
func (b *Bo) Handle() kernel.Handle        { return b.bo.Handle() }
func (b *Bo) Offset() uint64               { return b.bo.Offset() }

func (b *Bo) Reference() {
	b.bo.Retain()
}

func (b *Bo) Unreference() {
	if b == nil {
		return
	}

	b.bo.Release()
}

func (b *Bo) Map(writeEnable bool) int {
	_, err := b.bo.Map(writeEnable)
	return Status(err)
}

func (b *Bo) MapGTT() int {
	_, err := b.bo.MapGTT()
	return Status(err)
}

func (b *Bo) MapWC() int {
	_, err := b.bo.MapWC()
	return Status(err)
}

func (b *Bo) MapUnsynchronized() int {
	_, err := b.bo.MapUnsynchronized()
	return Status(err)
}

func (b *Bo) Unmap() int {
	return Status(b.bo.Unmap())
}

// Virtual is the most recently opened mapping, or nil when the buffer object is not mapped
func (b *Bo) Virtual() []byte {
	return b.bo.Mapped()
}

func (b *Bo) Subdata(offset int, data []byte) int {
	return Status(b.bo.Write(offset, data))
}

func (b *Bo) GetSubdata(offset int, data []byte) int {
	return Status(b.bo.Read(offset, data))
}

func (b *Bo) EmitReloc(offset int, target *Bo, targetOffset uint64, readDomains kernel.Domain, writeDomain kernel.Domain) int {
	return Status(b.bo.AddDependency(offset, target.bo, targetOffset, readDomains, writeDomain))
}

func (b *Bo) AddSoftpinTarget(target *Bo) int {
	return Status(b.bo.AddFixedTarget(target.bo))
}

func (b *Bo) SetSoftpinOffset(offset uint64) int {
	return Status(b.bo.SetFixedAddress(offset))
}

func (b *Bo) DisableImplicitSync() int {
	return Status(b.bo.DisableImplicitSync())
}

func (b *Bo) GetRelocCount() int {
	return b.bo.DependencyCount()
}

func (b *Bo) ClearRelocs(start int) {
	err := b.bo.ClearDependencies(start)
	if err != nil {
		b.bufmgr.manager.Logger().Debug("Bo::ClearRelocs", slog.Any("error", err))
	}
}

// Exec submits the first used bytes of the buffer object in the default context
func (b *Bo) Exec(used int) int {
	return b.MrbExec(nil, used, 0)
}

// MrbExec submits the first used bytes of the buffer object in ctx, which may be nil for the
// default context. Relocations stay in place until ClearRelocs.
func (b *Bo) MrbExec(ctx *Context, used int, flags kernel.ExecFlags) int {
	info := bufmgr.SubmitInfo{
		BatchLength:      used,
		Flags:            flags,
		KeepDependencies: true,
	}
	if ctx != nil {
		info.Context = ctx.context
	}

	_, err := b.bufmgr.manager.Submit(context.Background(), b.bo, info)
	return Status(err)
}

func (b *Bo) WaitRendering() {
	err := b.bo.WaitRendering()
	if err != nil {
		b.bufmgr.manager.Logger().Debug("Bo::WaitRendering", slog.Any("error", err))
	}
}

// Wait waits up to timeoutNs nanoseconds for the GPU to finish with the buffer object. A negative
// timeout waits forever.
func (b *Bo) Wait(timeoutNs int64) int {
	return Status(b.bo.Wait(context.Background(), time.Duration(timeoutNs)))
}

func (b *Bo) Busy() bool {
	return b.bo.Busy()
}

// SetTiling requests a tiling and stride. On return tiling holds the tiling actually applied.
func (b *Bo) SetTiling(tiling *kernel.TilingMode, stride int) int {
	applied, _, err := b.bo.SetTiling(*tiling, stride)
	*tiling = applied
	return Status(err)
}

func (b *Bo) GetTiling(tiling *kernel.TilingMode, swizzle *kernel.SwizzleMode) int {
	mode, _, swizzleMode := b.bo.GetTiling()
	*tiling = mode
	*swizzle = swizzleMode
	return 0
}

func (b *Bo) Flink(name *kernel.Name) int {
	globalName, err := b.bo.Flink()
	if err != nil {
		return Status(err)
	}

	*name = globalName
	return 0
}

func (b *Bo) ExportFD(fd *int) int {
	descriptor, err := b.bo.ExportDescriptor()
	if err != nil {
		return Status(err)
	}

	*fd = descriptor
	return 0
}

// References reports whether target is reachable through the buffer object's relocations
func (b *Bo) References(target *Bo) bool {
	return b.bo.References(target.bo)
}
