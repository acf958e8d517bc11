package bufmgr

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/kernel/mocks"
	"github.com/vkngwrapper/bufmgr/kernel/softkernel"
	"go.uber.org/mock/gomock"
)

func TestSubmitOrdersTargetsFirst(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{AutoRetire: true},
	})
	bos := acquireN(t, manager, 4, 4096)
	batch, a, b, c := bos[0], bos[1], bos[2], bos[3]

	require.NoError(t, a.AddDependency(0, c, 0, kernel.DomainSampler, 0))
	require.NoError(t, batch.AddDependency(0, a, 0, kernel.DomainRender, kernel.DomainRender))
	require.NoError(t, batch.AddDependency(8, b, 0, kernel.DomainSampler, 0))
	// A second relocation against the same target adds no new entry
	require.NoError(t, batch.AddDependency(16, c, 0, kernel.DomainSampler, 0))

	fence, err := manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)
	require.Nil(t, fence)

	request := k.LastRequest()
	require.NotNil(t, request)
	require.Len(t, request.Objects, 4)

	var order []kernel.Handle
	for _, entry := range request.Objects {
		order = append(order, entry.Handle)
	}
	require.Equal(t, []kernel.Handle{c.Handle(), a.Handle(), b.Handle(), batch.Handle()}, order)

	require.Len(t, request.Objects[1].Relocations, 1)
	require.Len(t, request.Objects[3].Relocations, 3)
	require.NotZero(t, request.Objects[1].Flags&kernel.ExecObjectWrite)
	require.Zero(t, request.Objects[0].Flags&kernel.ExecObjectWrite)
	require.NotZero(t, request.Objects[3].Flags&kernel.ExecObjectSupports48Bit)
	require.Equal(t, kernel.DefaultContext, request.Context)
	require.Equal(t, 4096, request.BatchLength)

	for _, bo := range bos {
		require.Equal(t, execIndexNone, bo.execIndex)
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitPatchesRelocations(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{AutoRetire: true},
	})
	bos := acquireN(t, manager, 2, 4096)
	batch, target := bos[0], bos[1]

	require.NoError(t, batch.AddDependency(16, target, 0x40, kernel.DomainRender, kernel.DomainRender))
	require.Equal(t, uint64(0), batch.dependencies[0].presumedOffset)

	_, err := manager.Submit(context.Background(), batch, SubmitInfo{KeepDependencies: true})
	require.NoError(t, err)

	address, bound := k.Address(target.Handle())
	require.True(t, bound)
	require.NotZero(t, address)
	require.Equal(t, address, target.Offset())
	require.Equal(t, address, batch.dependencies[0].presumedOffset)

	patched := make([]byte, 8)
	require.NoError(t, batch.Read(16, patched))
	require.Equal(t, address+0x40, binary.LittleEndian.Uint64(patched))

	// The target has not moved, so a second submission leaves the batch alone
	require.NoError(t, batch.Write(16, make([]byte, 8)))
	_, err = manager.Submit(context.Background(), batch, SubmitInfo{KeepDependencies: true})
	require.NoError(t, err)
	require.NoError(t, batch.Read(16, patched))
	require.Equal(t, uint64(0), binary.LittleEndian.Uint64(patched))
	require.Equal(t, 2, k.Executions())

	for _, bo := range bos {
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitWithoutWideAddresses(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{
			AutoRetire:    true,
			MissingParams: []kernel.Param{kernel.ParamHas48BitAddress},
		},
	})
	bos := acquireN(t, manager, 2, 4096)
	batch, target := bos[0], bos[1]

	// Four byte addresses fit right up to the end of the buffer object
	require.NoError(t, batch.AddDependency(4092, target, 0, kernel.DomainRender, 0))

	_, err := manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)
	require.Zero(t, k.LastRequest().Objects[1].Flags&kernel.ExecObjectSupports48Bit)

	patched := make([]byte, 4)
	require.NoError(t, batch.Read(4092, patched))
	require.Equal(t, uint32(target.Offset()), binary.LittleEndian.Uint32(patched))

	for _, bo := range bos {
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitMarksBusy(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	require.False(t, batch.Busy())

	_, err = manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)
	require.False(t, batch.idle)
	require.True(t, batch.Busy())

	err = batch.Wait(context.Background(), 0)
	require.True(t, errors.Is(err, ErrTimeout))
	err = batch.Wait(context.Background(), 10*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout))

	k.RetireAll()
	require.False(t, batch.Busy())
	require.NoError(t, batch.Wait(context.Background(), -1))
	require.True(t, batch.idle)

	batch.Release()
	require.NoError(t, manager.Destroy())
}

func TestSubmitFences(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	fence, err := manager.Submit(context.Background(), batch, SubmitInfo{WantFence: true})
	require.NoError(t, err)
	require.NotNil(t, fence)
	require.NotZero(t, k.LastRequest().Flags&kernel.ExecFenceOut)

	err = fence.Wait(context.Background(), 0)
	require.True(t, errors.Is(err, ErrTimeout))

	// A second batch waits on the first
	_, err = manager.Submit(context.Background(), batch, SubmitInfo{
		InFence: fence,
		Flags:   kernel.ExecFenceOut,
	})
	require.NoError(t, err)
	request := k.LastRequest()
	require.NotZero(t, request.Flags&kernel.ExecFenceIn)
	require.Zero(t, request.Flags&kernel.ExecFenceOut)
	require.Equal(t, fence.ID(), request.InFence)

	k.RetireAll()
	require.NoError(t, fence.Wait(context.Background(), time.Second))
	require.NoError(t, fence.Close())
	require.NoError(t, fence.Close())

	batch.Release()
	require.NoError(t, manager.Destroy())
}

func TestSubmitContexts(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{AutoRetire: true},
	})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	hwContext, err := manager.CreateContext()
	require.NoError(t, err)
	require.NotEqual(t, kernel.DefaultContext, hwContext.ID())

	_, err = hwContext.Submit(context.Background(), batch, SubmitInfo{BatchStart: 64, BatchLength: 128})
	require.NoError(t, err)
	request := k.LastRequest()
	require.Equal(t, hwContext.ID(), request.Context)
	require.Equal(t, 64, request.BatchStart)
	require.Equal(t, 128, request.BatchLength)

	require.NoError(t, hwContext.Destroy())
	require.NoError(t, hwContext.Destroy())

	_, err = hwContext.Submit(context.Background(), batch, SubmitInfo{})
	require.Error(t, err)
	require.Equal(t, 1, k.Executions())

	batch.Release()
	require.NoError(t, manager.Destroy())
}

func TestSubmitRejectsBadRange(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	_, err = manager.Submit(context.Background(), batch, SubmitInfo{BatchStart: 4000, BatchLength: 200})
	require.Error(t, err)
	_, err = manager.Submit(context.Background(), batch, SubmitInfo{BatchStart: -8})
	require.Error(t, err)
	require.Equal(t, 0, k.Executions())

	batch.Release()
	require.NoError(t, manager.Destroy())
}

func TestSubmitWithoutHardware(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Options: CreateOptions{Flags: CreateNoHardware},
	})
	bos := acquireN(t, manager, 2, 4096)
	require.NoError(t, bos[0].AddDependency(0, bos[1], 0, kernel.DomainRender, 0))

	fence, err := manager.Submit(context.Background(), bos[0], SubmitInfo{WantFence: true})
	require.NoError(t, err)
	require.Nil(t, fence)
	require.Equal(t, 0, k.Executions())

	for _, bo := range bos {
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitOutOfAperture(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{ApertureSize: 0x10000 + 8192},
	})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	target, err := manager.Acquire(AcquireInfo{Size: 8192})
	require.NoError(t, err)
	require.NoError(t, batch.AddDependency(0, target, 0, kernel.DomainRender, 0))

	_, err = manager.Submit(context.Background(), batch, SubmitInfo{})
	require.True(t, errors.Is(err, ErrInsufficientCapacity))
	require.ErrorIs(t, err, kernel.ENOSPC)
	require.Equal(t, 0, k.Executions())

	// The failed submission left the buffer objects untouched
	require.NoError(t, batch.Err())
	require.False(t, batch.Busy())

	target.Release()
	batch.Release()
	require.NoError(t, manager.Destroy())
}

func TestSubmitErroredBatch(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Options: CreateOptions{BatchSize: 32},
	})
	bos := acquireN(t, manager, 4, 4096)
	batch := bos[0]

	require.NoError(t, batch.AddDependency(0, bos[1], 0, kernel.DomainRender, 0))
	require.NoError(t, batch.AddDependency(8, bos[2], 0, kernel.DomainRender, 0))
	require.Error(t, batch.AddDependency(16, bos[3], 0, kernel.DomainRender, 0))

	_, err := manager.Submit(context.Background(), batch, SubmitInfo{})
	require.True(t, errors.Is(err, ErrBufferErrored))
	require.Equal(t, 0, k.Executions())

	for _, bo := range bos {
		require.Equal(t, execIndexNone, bo.execIndex)
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitPinnedTargets(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{AutoRetire: true},
	})
	bos := acquireN(t, manager, 2, 4096)
	batch, pinned := bos[0], bos[1]

	require.NoError(t, pinned.SetFixedAddress(0x200000))
	require.NoError(t, pinned.DisableImplicitSync())
	require.NoError(t, batch.AddFixedTarget(pinned))

	_, err := manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)

	request := k.LastRequest()
	require.Len(t, request.Objects, 2)
	require.Equal(t, uint64(0x200000), request.Objects[0].Offset)
	require.NotZero(t, request.Objects[0].Flags&kernel.ExecObjectPinned)
	require.NotZero(t, request.Objects[0].Flags&kernel.ExecObjectAsync)
	require.Empty(t, request.Objects[1].Relocations)

	address, bound := k.Address(pinned.Handle())
	require.True(t, bound)
	require.Equal(t, uint64(0x200000), address)
	require.Equal(t, uint64(0x200000), pinned.Offset())

	for _, bo := range bos {
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitAfterDestroy(t *testing.T) {
	_, manager, _ := readyManager(t, ManagerSetup{})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	require.Error(t, manager.Destroy())

	_, err = manager.Submit(context.Background(), batch, SubmitInfo{})
	require.ErrorIs(t, err, ErrManagerDestroyed)
}

func TestSubmitConsumesDependencies(t *testing.T) {
	_, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{AutoRetire: true},
	})
	bos := acquireN(t, manager, 3, 4096)
	batch, target, other := bos[0], bos[1], bos[2]

	require.NoError(t, batch.AddDependency(0, target, 0, kernel.DomainRender, 0))

	_, err := manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)
	require.Equal(t, 0, batch.DependencyCount())
	require.Equal(t, 1, target.RefCount())
	require.Equal(t, 1, batch.RefCount())
	require.Equal(t, 4096, manager.EstimateSize(batch))
	requireValid(t, manager)

	// The target is free to build its own dependencies again
	require.NoError(t, target.AddDependency(0, other, 0, kernel.DomainRender, 0))

	// Keeping the records holds on to their targets
	require.NoError(t, batch.AddDependency(0, other, 0, kernel.DomainRender, 0))
	_, err = manager.Submit(context.Background(), batch, SubmitInfo{KeepDependencies: true})
	require.NoError(t, err)
	require.Equal(t, 1, batch.DependencyCount())
	require.Equal(t, 3, other.RefCount())
	requireValid(t, manager)

	for _, bo := range bos {
		bo.Release()
	}
	require.Equal(t, 0, other.RefCount())
	require.NoError(t, manager.Destroy())
}

func TestSubmitFailureKeepsDependencies(t *testing.T) {
	_, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{ApertureSize: 0x10000 + 8192},
	})
	bos := acquireN(t, manager, 2, 8192)
	batch, target := bos[0], bos[1]
	require.NoError(t, batch.AddDependency(0, target, 0, kernel.DomainRender, 0))

	_, err := manager.Submit(context.Background(), batch, SubmitInfo{})
	require.True(t, errors.Is(err, ErrInsufficientCapacity))
	require.Equal(t, 1, batch.DependencyCount())
	require.Equal(t, 2, target.RefCount())
	require.Equal(t, 1, batch.RefCount())

	for _, bo := range bos {
		bo.Release()
	}
	require.NoError(t, manager.Destroy())
}

func TestSubmitKeepsListedBuffersAlive(t *testing.T) {
	ctrl := gomock.NewController(t)
	k := mocks.EasyMockKernel(ctrl, 9, 256*1024*1024)

	manager, err := New(nil, k, CreateOptions{Flags: CreateDisableReuse})
	require.NoError(t, err)

	k.EXPECT().Create(4096).Return(kernel.Handle(1), 4096, nil)
	k.EXPECT().Create(8192).Return(kernel.Handle(2), 8192, nil)

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	target, err := manager.Acquire(AcquireInfo{Size: 8192})
	require.NoError(t, err)
	require.NoError(t, batch.AddDependency(0, target, 0, kernel.DomainRender, 0))

	// Both owners let go while the kernel is still executing
	k.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, request *kernel.ExecRequest) (*kernel.ExecResult, error) {
			require.Len(t, request.Objects, 2)
			batch.Release()
			target.Release()
			require.Equal(t, 1, batch.RefCount())
			require.Equal(t, 2, target.RefCount())

			return &kernel.ExecResult{Offsets: []uint64{0x20000, 0x10000}, Fence: kernel.NoFence}, nil
		})
	gomock.InOrder(
		k.EXPECT().Close(kernel.Handle(2)).Return(nil),
		k.EXPECT().Close(kernel.Handle(1)).Return(nil),
	)

	_, err = manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)
	require.Equal(t, 0, batch.RefCount())
	require.Equal(t, 0, target.RefCount())
	require.Equal(t, uint64(0x10000), target.offset)

	require.NoError(t, manager.Destroy())
}
