package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

// AcquireInfo describes a buffer object to acquire
type AcquireInfo struct {
	// Name is a debug label
	Name string
	// Size is the minimum size in bytes. The buffer object is rounded up to its size class.
	Size int
	// Alignment is the GPU address alignment requested at submission, or 0 for the default
	Alignment uint
	Tiling    kernel.TilingMode
	// Stride is the row pitch of a tiled layout and is ignored for linear buffer objects
	Stride int
	Flags  AcquireFlags
}

// Acquire returns a buffer object of at least info.Size bytes, recycling a cached one when
// possible. The buffer object has a single reference owned by the caller.
func (m *Manager) Acquire(info AcquireInfo) (*BufferObject, error) {
	m.logger.Debug("Manager::Acquire",
		slog.String("name", info.Name),
		slog.Int("size", info.Size),
		slog.String("tiling", info.Tiling.String()),
		slog.String("flags", info.Flags.String()),
	)

	if info.Size <= 0 {
		return nil, errors.Newf("cannot acquire a buffer object of size %d", info.Size)
	}
	if info.Alignment != 0 {
		err := memutils.CheckPow2(info.Alignment, "AcquireInfo.Alignment")
		if err != nil {
			return nil, err
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}

	return m.acquireLocked(info)
}

func (m *Manager) acquireLocked(info AcquireInfo) (*BufferObject, error) {
	bucket := m.bucketForSize(info.Size)
	allocSize := memutils.AlignUp(info.Size, uint(memutils.PageSize))
	if bucket != nil {
		allocSize = bucket.size
	}

	for {
		bo := m.takeFromCache(bucket, info.Flags&AcquireForRender != 0)
		if bo == nil {
			break
		}

		retained, err := m.kernel.Madvise(bo.handle, kernel.AdviceWillNeed)
		if err != nil || !retained {
			m.logger.Debug("Manager::Acquire cached buffer object was reclaimed by the kernel",
				slog.Int("handle", int(bo.handle)),
				slog.Any("error", err),
			)
			m.destroyAndLog(bo)
			m.purgeBucket(bucket)
			continue
		}

		err = m.setTilingLocked(bo, info.Tiling, info.Stride)
		if err != nil {
			m.logger.Debug("Manager::Acquire cached buffer object could not be re-tiled",
				slog.Int("handle", int(bo.handle)),
				slog.Any("error", err),
			)
			m.destroyAndLog(bo)
			continue
		}

		m.cacheHits++
		bo.generation++
		bo.prepareForUse(info.Name, info.Alignment)
		return bo, nil
	}

	m.cacheMisses++

	handle, size, err := m.kernel.Create(allocSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a buffer object of size %d", allocSize)
	}
	m.kernelCreates++

	bo := &BufferObject{
		manager:   m,
		handle:    handle,
		size:      size,
		execIndex: -1,
	}
	m.handles.Put(handle, bo)

	err = m.setTilingLocked(bo, info.Tiling, info.Stride)
	if err != nil {
		m.destroyAndLog(bo)
		return nil, err
	}

	bo.prepareForUse(info.Name, info.Alignment)
	return bo, nil
}

// takeFromCache unlinks the entry the pick policy selects, or returns nil if the bucket has
// nothing suitable
func (m *Manager) takeFromCache(bucket *cacheBucket, forRender bool) *BufferObject {
	if bucket == nil || bucket.empty() {
		return nil
	}

	pick := m.uploadPick
	if forRender {
		pick = m.renderPick
	}

	var bo *BufferObject
	switch pick {
	case CachePickMostRecent:
		bo = bucket.tail
	case CachePickLeastRecentIdle:
		bo = bucket.head
		if m.busyLocked(bo) {
			return nil
		}
	default:
		panic(errors.Newf("unknown cache pick policy %s", pick))
	}

	bucket.remove(bo)
	return bo
}

// purgeBucket destroys entries from the head of the bucket for as long as the kernel reports
// their pages discarded
func (m *Manager) purgeBucket(bucket *cacheBucket) {
	for bucket.head != nil {
		bo := bucket.head
		retained, err := m.kernel.Madvise(bo.handle, kernel.AdviceDontNeed)
		if err == nil && retained {
			break
		}

		bucket.remove(bo)
		m.destroyAndLog(bo)
	}
}

// cacheOrDestroy is the last step of a final release: the buffer object either joins its bucket's
// tail or goes back to the kernel
func (m *Manager) cacheOrDestroy(bo *BufferObject) {
	bucket := m.bucketForSize(bo.size)

	if m.reuseEnabled && bo.reusable && bucket != nil && bucket.size == bo.size && !m.destroyed {
		retained, err := m.kernel.Madvise(bo.handle, kernel.AdviceDontNeed)
		if err == nil && retained {
			bo.freeTime = m.now()
			bo.name = ""
			bo.execIndex = -1
			bucket.pushBack(bo)
			return
		}

		m.logger.Debug("Manager::Release kernel refused to retain a released buffer object",
			slog.Int("handle", int(bo.handle)),
			slog.Any("error", err),
		)
	}

	m.destroyAndLog(bo)
}

// sweepCache destroys entries that have idled longer than the grace period. It does nothing if it
// already ran within the last grace period.
func (m *Manager) sweepCache() {
	if m.unlimitedReuse {
		return
	}

	now := m.now()
	if !m.lastSweep.IsZero() && now.Sub(m.lastSweep) < m.gracePeriod {
		return
	}

	for _, bucket := range m.buckets {
		for bucket.head != nil {
			bo := bucket.head
			if now.Sub(bo.freeTime) <= m.gracePeriod {
				break
			}

			bucket.remove(bo)
			m.destroyAndLog(bo)
		}
	}

	m.lastSweep = now
}

// destroyBuffer tears down every CPU mapping, removes the buffer object from the identity maps and
// closes its kernel handle
func (m *Manager) destroyBuffer(bo *BufferObject) error {
	var err error
	m.mappings.forget(bo)
	if unmapErr := m.unmapViews(bo); unmapErr != nil {
		err = unmapErr
	}

	m.handles.Delete(bo.handle)
	if bo.globalName != 0 {
		if registered, ok := m.names.Get(bo.globalName); ok && registered == bo {
			m.names.Delete(bo.globalName)
		}
	}

	closeErr := m.kernel.Close(bo.handle)
	m.kernelCloses++
	if closeErr != nil {
		return errors.Wrapf(closeErr, "failed to close buffer object %d", bo.handle)
	}

	return err
}

func (m *Manager) destroyAndLog(bo *BufferObject) {
	err := m.destroyBuffer(bo)
	if err != nil {
		m.logger.Error("Manager::destroyBuffer failed",
			slog.Int("handle", int(bo.handle)),
			slog.Any("error", err),
		)
	}
}

// busyLocked asks the kernel whether the GPU still uses the buffer object. A reusable buffer
// object already known to be idle is not queried again; query failures count as idle.
func (m *Manager) busyLocked(bo *BufferObject) bool {
	if bo.reusable && bo.idle {
		return false
	}

	busy, err := m.kernel.Busy(bo.handle)
	if err != nil {
		m.logger.Debug("BufferObject::Busy query failed", slog.Any("error", err))
		return false
	}

	bo.idle = !busy
	return busy
}
