package bufmgr

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

func (bo *BufferObject) view(kind kernel.MapKind) *[]byte {
	switch kind {
	case kernel.MapCPU:
		return &bo.cpuView
	case kernel.MapGTT:
		return &bo.gttView
	case kernel.MapWC:
		return &bo.wcView
	default:
		panic(errors.Newf("unknown map kind %d", kind))
	}
}

// mapLocked opens a mapping of the requested kind, creating the OS mapping the first time
func (m *Manager) mapLocked(bo *BufferObject, kind kernel.MapKind) ([]byte, error) {
	if bo.mapCount == 0 {
		m.openMapping(bo)
	}
	bo.mapCount++

	view := bo.view(kind)
	if *view == nil {
		data, err := m.kernel.Mmap(bo.handle, kind, bo.size)
		if err != nil {
			bo.mapCount--
			if bo.mapCount == 0 {
				m.closeMapping(bo)
			}
			return nil, errors.Wrapf(err, "failed to create the %s view of buffer object %d", kind, bo.handle)
		}
		*view = data
	}

	bo.lastView = *view
	return *view, nil
}

// setDomain moves the buffer object into a CPU-visible domain, blocking until conflicting GPU work
// completes. The mapping is already usable, so failures are only logged.
func (m *Manager) setDomain(bo *BufferObject, method string, read kernel.Domain, write kernel.Domain) {
	err := m.kernel.SetDomain(context.Background(), bo.handle, read, write)
	if err != nil {
		m.logger.Error(method+" failed to set the domain",
			slog.Int("handle", int(bo.handle)),
			slog.String("readDomains", read.String()),
			slog.String("writeDomain", write.String()),
			slog.Any("error", err),
		)
	}
}

// Map opens a cached CPU mapping of the buffer object. It blocks until the GPU is done with the
// buffer object, and if write is set, until the GPU is done reading it as well.
func (bo *BufferObject) Map(write bool) ([]byte, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::Map", slog.Bool("write", write))

	m.mutex.Lock()
	data, err := m.mapLocked(bo, kernel.MapCPU)
	m.mutex.Unlock()

	if err != nil {
		return nil, err
	}

	var writeDomain kernel.Domain
	if write {
		writeDomain = kernel.DomainCPU
	}
	m.setDomain(bo, "BufferObject::Map", kernel.DomainCPU, writeDomain)

	return data, nil
}

// MapGTT opens a mapping through the GPU aperture, which sees the buffer object detiled
func (bo *BufferObject) MapGTT() ([]byte, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::MapGTT")

	m.mutex.Lock()
	data, err := m.mapLocked(bo, kernel.MapGTT)
	m.mutex.Unlock()

	if err != nil {
		return nil, err
	}

	m.setDomain(bo, "BufferObject::MapGTT", kernel.DomainGTT, kernel.DomainGTT)
	return data, nil
}

// MapWC opens a write-combined mapping of the buffer object
func (bo *BufferObject) MapWC() ([]byte, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::MapWC")

	if !m.caps.HasWCMmap {
		return nil, errors.Wrap(ErrNotSupported, "write-combined mappings are not available")
	}

	m.mutex.Lock()
	data, err := m.mapLocked(bo, kernel.MapWC)
	m.mutex.Unlock()

	if err != nil {
		return nil, err
	}

	if m.caps.HasWCDomain {
		m.setDomain(bo, "BufferObject::MapWC", kernel.DomainWC, kernel.DomainWC)
	} else {
		m.setDomain(bo, "BufferObject::MapWC", kernel.DomainGTT, kernel.DomainGTT)
	}
	return data, nil
}

// MapUnsynchronized opens an aperture mapping without waiting for the GPU. The caller must know
// that no GPU work touches the range it accesses. Without a shared last-level cache this falls
// back to MapGTT.
func (bo *BufferObject) MapUnsynchronized() ([]byte, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::MapUnsynchronized")

	if !m.caps.HasLLC {
		return bo.MapGTT()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.mapLocked(bo, kernel.MapGTT)
}

// Unmap closes one mapping. The OS mapping itself is kept in the mapping cache once the last
// mapping closes. Unmapping a buffer object that is not mapped does nothing.
func (bo *BufferObject) Unmap() error {
	m := bo.manager
	m.logger.Debug("BufferObject::Unmap")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if bo.mapCount <= 0 {
		m.logger.Debug("BufferObject::Unmap attempted to unmap a buffer object that is not mapped",
			slog.Int("handle", int(bo.handle)),
		)
		return nil
	}

	bo.mapCount--
	if bo.mapCount == 0 {
		m.closeMapping(bo)
		bo.lastView = nil
	}

	return nil
}

// MapCount is the number of open mappings
func (bo *BufferObject) MapCount() int {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.mapCount
}

// Mapped returns the most recently opened mapping, or nil if the buffer object is not mapped
func (bo *BufferObject) Mapped() []byte {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.lastView
}

// WaitRendering blocks until the GPU has finished all rendering to the buffer object
func (bo *BufferObject) WaitRendering() error {
	m := bo.manager
	m.logger.Debug("BufferObject::WaitRendering")

	err := m.kernel.SetDomain(context.Background(), bo.handle, kernel.DomainGTT, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to wait for rendering to buffer object %d", bo.handle)
	}
	return nil
}

// forceUnmap closes every open mapping of a buffer object whose last reference is gone
func (m *Manager) forceUnmap(bo *BufferObject) {
	if bo.mapCount == 0 {
		return
	}

	m.logger.Debug("BufferObject::Release buffer object released with open mappings",
		slog.Int("handle", int(bo.handle)),
		slog.Int("mapCount", bo.mapCount),
	)
	bo.mapCount = 0
	bo.lastView = nil
	m.closeMapping(bo)
}
