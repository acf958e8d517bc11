package bufmgr

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

// addressWidth is the number of bytes a relocated GPU address occupies in a referencing buffer object
func (m *Manager) addressWidth() int {
	if m.caps.Has48BitAddress {
		return 8
	}
	return 4
}

// checkDependencyLocked runs the checks shared by every kind of dependency record
func (m *Manager) checkDependencyLocked(bo *BufferObject, target *BufferObject) error {
	if bo.err != nil {
		return bo.err
	}
	if target.err != nil {
		return bo.markErrored(errors.Wrapf(target.err, "dependency target %d is in an error state", target.handle))
	}
	if target == bo {
		return ErrSelfDependency
	}
	if target.manager != m {
		return errors.Newf("dependency target %d belongs to a different manager", target.handle)
	}
	if bo.referrers > 0 {
		return errors.Wrapf(ErrTargetConsumed, "buffer object %d", bo.handle)
	}
	if len(bo.dependencies) >= m.maxDependencies {
		return bo.markErrored(errors.Wrapf(ErrDependencyListFull, "buffer object %d already holds %d dependencies", bo.handle, m.maxDependencies))
	}

	return nil
}

// appendDependencyLocked records the dependency and takes a reference to its target. The target
// can not gain dependencies of its own while any record points at it.
func (m *Manager) appendDependencyLocked(bo *BufferObject, dep dependency) {
	if bo.dependencies == nil {
		capacity := m.maxDependencies
		if capacity > 16 {
			capacity = 16
		}
		bo.dependencies = make([]dependency, 0, capacity)
	}

	dep.target.refCount.Add(1)
	dep.target.referrers++
	dep.subtreeSize = dep.target.subtreeSize
	dep.presumedOffset = dep.target.offset

	bo.dependencies = append(bo.dependencies, dep)
	bo.subtreeSize += dep.subtreeSize
}

// AddDependency records that the GPU address of target, plus targetOffset, must be written into this
// buffer object at offset when it is submitted. The target is retained until the dependency is
// cleared or this buffer object is released. A target with a fixed address gets a fixed record and
// no relocation.
func (bo *BufferObject) AddDependency(offset int, target *BufferObject, targetOffset uint64, readDomains kernel.Domain, writeDomain kernel.Domain) error {
	m := bo.manager
	m.logger.Debug("BufferObject::AddDependency",
		slog.Int("offset", offset),
		slog.Int("target", int(target.handle)),
		slog.String("readDomains", readDomains.String()),
		slog.String("writeDomain", writeDomain.String()),
	)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkDependencyLocked(bo, target)
	if err != nil {
		return err
	}

	if bits.OnesCount32(uint32(writeDomain)) > 1 {
		return errors.Newf("write domain %s names more than one domain", writeDomain)
	}
	if offset < 0 || offset+m.addressWidth() > bo.size {
		return errors.Newf("dependency offset %d is outside buffer object %d of size %d", offset, bo.handle, bo.size)
	}

	m.appendDependencyLocked(bo, dependency{
		target:      target,
		fixed:       target.pinned,
		offset:      uint64(offset),
		delta:       targetOffset,
		readDomains: readDomains,
		writeDomain: writeDomain,
	})
	return nil
}

// AddFixedTarget adds a buffer object with a fixed address to this buffer object's execution list
// without recording a relocation
func (bo *BufferObject) AddFixedTarget(target *BufferObject) error {
	m := bo.manager
	m.logger.Debug("BufferObject::AddFixedTarget", slog.Int("target", int(target.handle)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkDependencyLocked(bo, target)
	if err != nil {
		return err
	}

	if !target.pinned {
		return errors.Wrapf(ErrNotPinned, "buffer object %d", target.handle)
	}

	m.appendDependencyLocked(bo, dependency{
		target: target,
		fixed:  true,
	})
	return nil
}

// ClearDependencies drops every dependency from index start onward, releasing their targets
func (bo *BufferObject) ClearDependencies(start int) error {
	m := bo.manager
	m.logger.Debug("BufferObject::ClearDependencies", slog.Int("start", start))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if start < 0 || start > len(bo.dependencies) {
		return errors.Newf("cannot clear dependencies from %d, buffer object %d holds %d", start, bo.handle, len(bo.dependencies))
	}

	released := m.dropDependenciesLocked(bo, start)

	if released {
		m.sweepCache()
		memutils.DebugValidate(m)
	}
	return nil
}

// dropDependenciesLocked releases every target from index start onward as if it had never been
// added, and reports whether any of them lost its last reference
func (m *Manager) dropDependenciesLocked(bo *BufferObject, start int) bool {
	released := false
	for i := start; i < len(bo.dependencies); i++ {
		target := bo.dependencies[i].target
		bo.dependencies[i] = dependency{}
		target.referrers--
		if m.releaseLocked(target) {
			released = true
		}
	}
	bo.dependencies = bo.dependencies[:start]
	bo.recomputeSubtreeSize()
	return released
}

// DependencyCount is the number of dependency records, including fixed targets
func (bo *BufferObject) DependencyCount() int {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return len(bo.dependencies)
}

// References reports whether target is reachable from this buffer object through its dependencies
func (bo *BufferObject) References(target *BufferObject) bool {
	m := bo.manager
	m.mutex.Lock()
	defer m.mutex.Unlock()

	visited := swiss.NewMap[kernel.Handle, struct{}](uint32(len(bo.dependencies) + 1))
	stack := []*BufferObject{bo}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, dep := range current.dependencies {
			if dep.target == target {
				return true
			}
			if visited.Has(dep.target.handle) {
				continue
			}
			visited.Put(dep.target.handle, struct{}{})
			stack = append(stack, dep.target)
		}
	}

	return false
}

// SetFixedAddress pins the buffer object at a GPU address chosen by the caller. Every later
// submission places it there and dependencies on it produce no relocations.
func (bo *BufferObject) SetFixedAddress(address uint64) error {
	m := bo.manager
	m.logger.Debug("BufferObject::SetFixedAddress", slog.Uint64("address", address))

	if !m.caps.HasSoftpin {
		return errors.Wrap(ErrNotSupported, "fixed addresses are not available")
	}
	if address%uint64(memutils.PageSize) != 0 {
		return errors.Newf("fixed address 0x%x is not page aligned", address)
	}
	if address+uint64(bo.size) > 1<<32 && !m.caps.Has48BitAddress {
		return errors.Wrapf(ErrNotSupported, "fixed address 0x%x requires 48 bit addressing", address)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	bo.pinned = true
	bo.offset = address
	return nil
}

// DisableImplicitSync opts the buffer object out of the kernel's implicit synchronization against
// earlier submissions. The caller becomes responsible for ordering GPU access to it.
func (bo *BufferObject) DisableImplicitSync() error {
	m := bo.manager
	m.logger.Debug("BufferObject::DisableImplicitSync")

	if !m.caps.HasExecAsync {
		return errors.Wrap(ErrNotSupported, "asynchronous execution is not available")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	bo.asyncExec = true
	return nil
}
