package bufmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/kernel/mocks"
	"github.com/vkngwrapper/bufmgr/kernel/softkernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"go.uber.org/mock/gomock"
)

func TestAcquireReusesBucket(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	bo, err := manager.Acquire(AcquireInfo{Name: "first", Size: 10000})
	require.NoError(t, err)
	require.Equal(t, 12288, bo.Size())
	require.Equal(t, 1, bo.RefCount())
	require.True(t, bo.IsReusable())
	require.Equal(t, uint32(0), bo.Generation())

	handle := bo.Handle()
	bo.Release()
	require.True(t, k.IsPurgeable(handle))
	requireValid(t, manager)

	reused, err := manager.Acquire(AcquireInfo{Name: "second", Size: 11000})
	require.NoError(t, err)
	require.Equal(t, handle, reused.Handle())
	require.Equal(t, 12288, reused.Size())
	require.Equal(t, "second", reused.Name())
	require.Equal(t, uint32(1), reused.Generation())
	require.False(t, k.IsPurgeable(handle))
	require.Equal(t, 1, k.Created())

	var stats memutils.Statistics
	manager.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.CacheHits)
	require.Equal(t, 1, stats.CacheMisses)

	reused.Release()
	require.NoError(t, manager.Destroy())
}

func TestAcquireLargerThanEveryBucket(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Options: CreateOptions{MaxCacheSize: 16 * 1024},
	})

	bo, err := manager.Acquire(AcquireInfo{Size: 100000})
	require.NoError(t, err)
	require.Equal(t, 102400, bo.Size())

	bo.Release()
	require.Equal(t, 0, k.LiveObjects())
	require.NoError(t, manager.Destroy())
}

func TestAcquireInvalidInfo(t *testing.T) {
	_, manager, _ := readyManager(t, ManagerSetup{})

	_, err := manager.Acquire(AcquireInfo{Size: 0})
	require.Error(t, err)

	_, err = manager.Acquire(AcquireInfo{Size: 4096, Alignment: 3})
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

func TestCachePickPolicies(t *testing.T) {
	_, manager, _ := readyManager(t, ManagerSetup{})

	older, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	newer, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	older.Release()
	newer.Release()

	render, err := manager.Acquire(AcquireInfo{Size: 4096, Flags: AcquireForRender})
	require.NoError(t, err)
	require.Same(t, newer, render)

	upload, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	require.Same(t, older, upload)

	render.Release()
	upload.Release()
	require.NoError(t, manager.Destroy())
}

func TestUploadAvoidsBusyEntries(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	batch, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	_, err = manager.Submit(context.Background(), batch, SubmitInfo{})
	require.NoError(t, err)
	require.True(t, batch.Busy())

	batch.Release()

	upload, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	require.NotSame(t, batch, upload)
	require.Equal(t, 2, k.Created())

	render, err := manager.Acquire(AcquireInfo{Size: 4096, Flags: AcquireForRender})
	require.NoError(t, err)
	require.Same(t, batch, render)

	k.RetireAll()
	require.False(t, render.Busy())

	upload.Release()
	render.Release()
	require.NoError(t, manager.Destroy())
}

func TestPurgedEntryIsReplaced(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	first, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	second, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	firstHandle := first.Handle()
	secondHandle := second.Handle()
	first.Release()
	second.Release()

	require.Equal(t, 2, k.Purge())

	bo, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	require.NotEqual(t, firstHandle, bo.Handle())
	require.NotEqual(t, secondHandle, bo.Handle())

	// Both purged entries were closed rather than left in the bucket
	require.Equal(t, 1, k.LiveObjects())
	requireValid(t, manager)

	bo.Release()
	require.NoError(t, manager.Destroy())
}

func TestPurgedOnReleaseIsDestroyed(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Kernel: softkernel.Options{PurgeOnAdvise: true},
	})

	bo, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	bo.Release()

	require.Equal(t, 0, k.LiveObjects())

	var stats memutils.Statistics
	manager.CalculateStatistics(&stats)
	require.Equal(t, 0, stats.CachedCount)
	require.Equal(t, 1, stats.KernelCloses)
}

func TestRetileFailureRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	k := mocks.EasyMockKernel(ctrl, 9, 256*1024*1024)

	manager, err := New(nil, k, CreateOptions{})
	require.NoError(t, err)

	k.EXPECT().Create(4096).Return(kernel.Handle(1), 4096, nil)
	k.EXPECT().Madvise(kernel.Handle(1), kernel.AdviceDontNeed).Return(true, nil)

	bo, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	bo.Release()

	k.EXPECT().Busy(kernel.Handle(1)).Return(false, nil)
	k.EXPECT().Madvise(kernel.Handle(1), kernel.AdviceWillNeed).Return(true, nil)
	k.EXPECT().SetTiling(kernel.Handle(1), kernel.TilingX, 512).Return(kernel.Tiling{}, kernel.EINVAL)
	k.EXPECT().Close(kernel.Handle(1)).Return(nil)
	k.EXPECT().Create(4096).Return(kernel.Handle(2), 4096, nil)
	k.EXPECT().SetTiling(kernel.Handle(2), kernel.TilingX, 512).Return(kernel.Tiling{
		Mode:   kernel.TilingX,
		Stride: 512,
	}, nil)

	tiled, err := manager.Acquire(AcquireInfo{Size: 4096, Tiling: kernel.TilingX, Stride: 512})
	require.NoError(t, err)
	require.Equal(t, kernel.Handle(2), tiled.Handle())
	require.Equal(t, kernel.TilingX, tiled.Tiling())
	require.Equal(t, 512, tiled.Stride())
}

func TestReclaimRefusalRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	k := mocks.EasyMockKernel(ctrl, 9, 256*1024*1024)

	manager, err := New(nil, k, CreateOptions{})
	require.NoError(t, err)

	k.EXPECT().Create(4096).Return(kernel.Handle(1), 4096, nil)
	k.EXPECT().Madvise(kernel.Handle(1), kernel.AdviceDontNeed).Return(true, nil)

	bo, err := manager.Acquire(AcquireInfo{Size: 4096, Flags: AcquireForRender})
	require.NoError(t, err)
	bo.Release()

	gomock.InOrder(
		k.EXPECT().Madvise(kernel.Handle(1), kernel.AdviceWillNeed).Return(false, nil),
		k.EXPECT().Close(kernel.Handle(1)).Return(nil),
		k.EXPECT().Create(4096).Return(kernel.Handle(2), 4096, nil),
	)

	fresh, err := manager.Acquire(AcquireInfo{Size: 4096, Flags: AcquireForRender})
	require.NoError(t, err)
	require.Equal(t, kernel.Handle(2), fresh.Handle())
}

func TestSweepAfterGracePeriod(t *testing.T) {
	k, manager, clock := readyManager(t, ManagerSetup{})

	old, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	old.Release()

	clock.Advance(2 * time.Second)

	recent, err := manager.Acquire(AcquireInfo{Size: 8192})
	require.NoError(t, err)
	recent.Release()

	require.Equal(t, 1, k.LiveObjects())

	var stats memutils.Statistics
	manager.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.CachedCount)
	require.Equal(t, 8192, stats.CachedBytes)

	requireValid(t, manager)
	require.NoError(t, manager.Destroy())
}

func TestSweepRunsOncePerGracePeriod(t *testing.T) {
	k, manager, clock := readyManager(t, ManagerSetup{})

	releaseNew := func(size int) {
		bo, err := manager.Acquire(AcquireInfo{Size: size})
		require.NoError(t, err)
		bo.Release()
	}

	// Sweeps at 0s and 1s, neither of which finds anything older than the grace period
	releaseNew(4096)
	clock.Advance(time.Second)
	releaseNew(8192)
	require.Equal(t, 2, k.LiveObjects())

	// The first entry is now stale, but the last sweep was only half a second ago
	clock.Advance(500 * time.Millisecond)
	releaseNew(16384)
	require.Equal(t, 3, k.LiveObjects())

	clock.Advance(500 * time.Millisecond)
	releaseNew(32768)
	require.Equal(t, 3, k.LiveObjects())

	requireValid(t, manager)
	require.NoError(t, manager.Destroy())
}

func TestUnlimitedReuseNeverSweeps(t *testing.T) {
	k, manager, clock := readyManager(t, ManagerSetup{
		Options: CreateOptions{UnlimitedReuse: true},
	})

	old, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	old.Release()

	clock.Advance(time.Hour)

	recent, err := manager.Acquire(AcquireInfo{Size: 8192})
	require.NoError(t, err)
	recent.Release()

	require.Equal(t, 2, k.LiveObjects())
	require.NoError(t, manager.Destroy())
	require.Equal(t, 0, k.LiveObjects())
}

func TestDisableReuse(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{
		Options: CreateOptions{Flags: CreateDisableReuse},
	})

	bo, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	bo.Release()
	require.Equal(t, 0, k.LiveObjects())

	manager.SetReuseEnabled(true)

	bo, err = manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)
	bo.Release()
	require.Equal(t, 1, k.LiveObjects())

	require.NoError(t, manager.Destroy())
}

func TestCacheStabilizes(t *testing.T) {
	k, manager, clock := readyManager(t, ManagerSetup{})

	sizes := []int{4096, 20000, 65536}
	for i := 0; i < 100; i++ {
		var acquired []*BufferObject
		for _, size := range sizes {
			bo, err := manager.Acquire(AcquireInfo{Size: size})
			require.NoError(t, err)
			acquired = append(acquired, bo)
		}

		for _, bo := range acquired {
			bo.Release()
		}
		clock.Advance(10 * time.Millisecond)
	}

	require.Equal(t, len(sizes), k.Created())
	requireValid(t, manager)
	require.NoError(t, manager.Destroy())
}

func TestSharedBufferIsNotCached(t *testing.T) {
	k, manager, _ := readyManager(t, ManagerSetup{})

	bo, err := manager.Acquire(AcquireInfo{Size: 4096})
	require.NoError(t, err)

	_, err = bo.Flink()
	require.NoError(t, err)
	require.False(t, bo.IsReusable())

	bo.Release()
	require.Equal(t, 0, k.LiveObjects())
	require.NoError(t, manager.Destroy())
}
