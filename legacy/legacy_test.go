package legacy

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/kernel/softkernel"
)

func readyBufmgr(t *testing.T, options softkernel.Options) (*softkernel.Kernel, *Bufmgr) {
	k := softkernel.New(options)
	b := Init(nil, k, 16*1024)
	require.NotNil(t, b)
	return k, b
}

func TestStatus(t *testing.T) {
	require.Equal(t, 0, Status(nil))
	require.Equal(t, -12, Status(errors.Mark(errors.New("full"), bufmgr.ErrBufferErrored)))
	require.Equal(t, -28, Status(errors.Wrap(bufmgr.ErrInsufficientCapacity, "too big")))
	require.Equal(t, -62, Status(errors.Mark(kernel.ETIME, bufmgr.ErrTimeout)))
	require.Equal(t, -2, Status(errors.Wrap(kernel.ENOENT, "missing")))
	require.Equal(t, -19, Status(errors.Wrap(bufmgr.ErrNotSupported, "no softpin")))
	require.Equal(t, -12, Status(bufmgr.ErrDependencyListFull))
	require.Equal(t, -22, Status(errors.New("anything else")))
}

func TestInitRejectsTinyBatch(t *testing.T) {
	require.Nil(t, Init(nil, softkernel.New(softkernel.Options{}), 8))
}

func TestReuseIsOptIn(t *testing.T) {
	k, b := readyBufmgr(t, softkernel.Options{})

	bo := b.BoAlloc("first", 4096, 0)
	require.NotNil(t, bo)
	bo.Unreference()
	require.Equal(t, 0, k.LiveObjects())

	b.EnableReuse()
	bo = b.BoAlloc("second", 4096, 0)
	handle := bo.Handle()
	bo.Unreference()
	require.Equal(t, 1, k.LiveObjects())

	again := b.BoAllocForRender("third", 4000, 0)
	require.Equal(t, handle, again.Handle())
	require.Equal(t, 4096, again.Size())
	again.Unreference()

	b.Destroy()
	require.Equal(t, 0, k.LiveObjects())
}

func TestBoAllocInvalid(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{})

	require.Nil(t, b.BoAlloc("empty", 0, 0))
	require.Nil(t, b.BoAlloc("misaligned", 4096, 3))

	// Unreferencing a failed allocation is harmless
	var missing *Bo
	missing.Unreference()

	b.Destroy()
}

func TestMapAndSubdata(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{})

	bo := b.BoAlloc("data", 4096, 0)
	require.Nil(t, bo.Virtual())

	require.Equal(t, 0, bo.Map(true))
	copy(bo.Virtual(), []byte("hello"))
	require.Equal(t, 0, bo.Unmap())
	require.Nil(t, bo.Virtual())

	readBack := make([]byte, 5)
	require.Equal(t, 0, bo.GetSubdata(0, readBack))
	require.Equal(t, []byte("hello"), readBack)

	require.Equal(t, 0, bo.Subdata(4090, []byte("world!")))
	require.Equal(t, -22, bo.Subdata(4091, []byte("world!")))

	require.Equal(t, 0, bo.MapGTT())
	require.Equal(t, 0, bo.MapWC())
	require.Equal(t, 0, bo.MapUnsynchronized())
	for i := 0; i < 3; i++ {
		require.Equal(t, 0, bo.Unmap())
	}

	bo.Unreference()
	b.Destroy()
}

func TestMapWCWithoutSupport(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{
		MissingParams: []kernel.Param{kernel.ParamHasWCMmap},
	})

	bo := b.BoAlloc("data", 4096, 0)
	require.Equal(t, -19, bo.MapWC())

	bo.Unreference()
	b.Destroy()
}

func TestRelocAndExec(t *testing.T) {
	k, b := readyBufmgr(t, softkernel.Options{AutoRetire: true})

	batch := b.BoAlloc("batch", 4096, 0)
	target := b.BoAlloc("target", 8192, 0)

	require.Equal(t, 0, batch.EmitReloc(0, target, 0, kernel.DomainRender, kernel.DomainRender))
	require.Equal(t, 1, batch.GetRelocCount())
	require.True(t, batch.References(target))
	require.False(t, target.References(batch))
	require.Equal(t, 0, b.CheckApertureSpace([]*Bo{batch}))

	// Submissions hand the batch to the kernel
	require.Equal(t, 0, batch.Exec(64))
	require.Equal(t, 1, k.Executions())
	require.Equal(t, 64, k.LastRequest().BatchLength)
	require.NotZero(t, target.Offset())

	require.Equal(t, 0, batch.Wait(-1))
	require.False(t, batch.Busy())
	batch.WaitRendering()

	batch.ClearRelocs(0)
	require.Equal(t, 0, batch.GetRelocCount())

	target.Unreference()
	batch.Unreference()
	b.Destroy()
	require.Equal(t, 0, k.LiveObjects())
}

func TestErroredRelocReportsNoMemory(t *testing.T) {
	k := softkernel.New(softkernel.Options{})
	b := Init(nil, k, 32)
	require.NotNil(t, b)

	batch := b.BoAlloc("batch", 4096, 0)
	targets := []*Bo{b.BoAlloc("a", 4096, 0), b.BoAlloc("b", 4096, 0), b.BoAlloc("c", 4096, 0)}

	require.Equal(t, 0, batch.EmitReloc(0, targets[0], 0, kernel.DomainRender, 0))
	require.Equal(t, 0, batch.EmitReloc(8, targets[1], 0, kernel.DomainRender, 0))
	require.Equal(t, -12, batch.EmitReloc(16, targets[2], 0, kernel.DomainRender, 0))
	require.Equal(t, -12, batch.Exec(0))
	require.Equal(t, 0, k.Executions())

	for _, target := range targets {
		target.Unreference()
	}
	batch.Unreference()
	b.Destroy()
}

func TestApertureSpace(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{ApertureSize: 64 * 1024})

	batch := b.BoAlloc("batch", 4096, 0)
	big := b.BoAlloc("big", 48*1024, 0)
	require.Equal(t, 0, batch.EmitReloc(0, big, 0, kernel.DomainSampler, 0))

	require.Equal(t, -28, b.CheckApertureSpace([]*Bo{batch}))
	require.Equal(t, 0, b.CheckApertureSpace([]*Bo{big}))

	big.Unreference()
	batch.Unreference()
	b.Destroy()
}

func TestWaitTimeout(t *testing.T) {
	k, b := readyBufmgr(t, softkernel.Options{})

	batch := b.BoAlloc("batch", 4096, 0)
	require.Equal(t, 0, batch.Exec(0))
	require.True(t, batch.Busy())
	require.Equal(t, -62, batch.Wait(0))
	require.Equal(t, -62, batch.Wait(1000))

	k.RetireAll()
	require.Equal(t, 0, batch.Wait(0))

	batch.Unreference()
	b.Destroy()
}

func TestSharing(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{})

	bo := b.BoAlloc("shared", 4096, 0)

	var name kernel.Name
	require.Equal(t, 0, bo.Flink(&name))
	require.NotZero(t, name)

	opened := b.BoCreateFromName("opened", name)
	require.NotNil(t, opened)
	require.Same(t, bo.Object(), opened.Object())
	require.Nil(t, b.BoCreateFromName("missing", name+100))

	var fd int
	require.Equal(t, 0, bo.ExportFD(&fd))
	imported := b.BoImportFD(fd, 4096)
	require.Same(t, bo.Object(), imported.Object())
	require.Equal(t, 3, bo.Object().RefCount())

	imported.Unreference()
	opened.Unreference()
	bo.Unreference()
	b.Destroy()
}

func TestTiling(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{NoYTiling: true})

	tiling := kernel.TilingX
	var pitch int
	bo := b.BoAllocTiled("surface", 100, 100, 4, &tiling, &pitch, false)
	require.NotNil(t, bo)
	require.Equal(t, kernel.TilingX, tiling)
	require.Equal(t, 512, pitch)

	var swizzle kernel.SwizzleMode
	var current kernel.TilingMode
	require.Equal(t, 0, bo.GetTiling(&current, &swizzle))
	require.Equal(t, kernel.TilingX, current)

	// The kernel refuses Y tiling and reports what it applied instead
	tiling = kernel.TilingY
	require.Equal(t, 0, bo.SetTiling(&tiling, 512))
	require.Equal(t, kernel.TilingNone, tiling)

	tiling = kernel.TilingY
	downgraded := b.BoAllocTiled("downgraded", 100, 100, 4, &tiling, &pitch, true)
	require.NotNil(t, downgraded)
	require.Equal(t, kernel.TilingNone, tiling)
	require.Equal(t, 448, pitch)

	downgraded.Unreference()
	bo.Unreference()
	b.Destroy()
}

func TestSoftpin(t *testing.T) {
	k, b := readyBufmgr(t, softkernel.Options{AutoRetire: true})

	batch := b.BoAlloc("batch", 4096, 0)
	pinned := b.BoAlloc("pinned", 4096, 0)

	require.Equal(t, -22, batch.AddSoftpinTarget(pinned))
	require.Equal(t, 0, pinned.SetSoftpinOffset(0x400000))
	require.Equal(t, 0, pinned.DisableImplicitSync())
	require.Equal(t, 0, batch.AddSoftpinTarget(pinned))
	require.Equal(t, 0, batch.Exec(0))

	address, bound := k.Address(pinned.Handle())
	require.True(t, bound)
	require.Equal(t, uint64(0x400000), address)

	pinned.Unreference()
	batch.Unreference()
	b.Destroy()
}

func TestSoftpinUnsupported(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{
		MissingParams: []kernel.Param{kernel.ParamHasSoftpin, kernel.ParamHasExecAsync},
	})

	bo := b.BoAlloc("bo", 4096, 0)
	require.Equal(t, -19, bo.SetSoftpinOffset(0x400000))
	require.Equal(t, -19, bo.DisableImplicitSync())

	bo.Unreference()
	b.Destroy()
}

func TestContexts(t *testing.T) {
	k, b := readyBufmgr(t, softkernel.Options{AutoRetire: true})

	ctx := b.ContextCreate()
	require.NotNil(t, ctx)
	require.NotEqual(t, kernel.DefaultContext, ctx.ID())

	batch := b.BoAlloc("batch", 4096, 0)
	require.Equal(t, 0, batch.MrbExec(ctx, 128, 0))
	require.Equal(t, ctx.ID(), k.LastRequest().Context)

	ctx.Destroy()
	ctx.Destroy()
	require.Equal(t, -22, batch.MrbExec(ctx, 128, 0))

	var nilContext *Context
	nilContext.Destroy()

	batch.Unreference()
	b.Destroy()
}

func TestRegRead(t *testing.T) {
	_, b := readyBufmgr(t, softkernel.Options{
		Registers: map[uint32]uint64{kernel.TimestampRegister: 99},
	})

	var value uint64
	require.Equal(t, 0, b.RegRead(kernel.TimestampRegister, &value))
	require.Equal(t, uint64(99), value)
	require.Equal(t, -22, b.RegRead(0x10, &value))

	b.Destroy()
}

func TestSetVMACacheSize(t *testing.T) {
	k, b := readyBufmgr(t, softkernel.Options{})

	bo := b.BoAlloc("mapped", 4096, 0)
	require.Equal(t, 0, bo.Map(false))
	require.Equal(t, 0, bo.Unmap())
	require.Equal(t, 1, k.LiveMappings())

	b.SetVMACacheSize(0)
	require.Equal(t, 0, k.LiveMappings())

	bo.Unreference()
	b.Destroy()
}
