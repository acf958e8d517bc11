package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

// Retain adds a reference to the buffer object. The caller must already hold one.
func (bo *BufferObject) Retain() {
	bo.refCount.Add(1)
}

// Release drops a reference to the buffer object. Dropping the last reference releases every
// dependency target, closes any mappings left open and either returns the buffer object to the
// reuse cache or destroys it.
func (bo *BufferObject) Release() {
	for {
		count := bo.refCount.Load()
		if count <= 1 {
			break
		}

		if bo.refCount.CompareAndSwap(count, count-1) {
			return
		}
	}

	m := bo.manager
	m.logger.Debug("BufferObject::Release", slog.Int("handle", int(bo.handle)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.releaseLocked(bo) {
		m.sweepCache()
		memutils.DebugValidate(m)
	}
}

// releaseLocked drops a reference with the manager lock held and reports whether it was the last
func (m *Manager) releaseLocked(bo *BufferObject) bool {
	count := bo.refCount.Add(-1)
	if count < 0 {
		panic(errors.Newf("buffer object %d was released more times than it was retained", bo.handle))
	}
	if count > 0 {
		return false
	}

	m.finalRelease(bo)
	return true
}

// finalRelease tears down a buffer object whose last reference is gone. Dependency targets that
// lose their last reference as a result are torn down in turn, using an explicit worklist so that
// deep dependency chains do not grow the stack.
func (m *Manager) finalRelease(bo *BufferObject) {
	pending := []*BufferObject{bo}

	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		for i := range current.dependencies {
			target := current.dependencies[i].target
			current.dependencies[i] = dependency{}
			target.referrers--

			count := target.refCount.Add(-1)
			if count < 0 {
				panic(errors.Newf("dependency target %d was released more times than it was retained", target.handle))
			}
			if count == 0 {
				pending = append(pending, target)
			}
		}
		current.dependencies = current.dependencies[:0]

		current.referrers = 0
		current.execIndex = -1
		current.included = false
		current.err = nil
		current.subtreeSize = current.apertureSize

		m.forceUnmap(current)
		m.cacheOrDestroy(current)
	}
}
