package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// Flink publishes the buffer object under a global name that other processes can open. Shared
// buffer objects are never returned to the reuse cache.
func (bo *BufferObject) Flink() (kernel.Name, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::Flink")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if bo.globalName != 0 {
		return bo.globalName, nil
	}

	name, err := m.kernel.Flink(bo.handle)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to name buffer object %d", bo.handle)
	}

	bo.globalName = name
	bo.reusable = false
	m.names.Put(name, bo)
	return name, nil
}

// ExportDescriptor returns a file descriptor other processes can import the buffer object from.
// Shared buffer objects are never returned to the reuse cache.
func (bo *BufferObject) ExportDescriptor() (int, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::ExportDescriptor")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	fd, err := m.kernel.ExportFD(bo.handle)
	if err != nil {
		return -1, errors.Wrapf(err, "failed to export buffer object %d", bo.handle)
	}

	bo.reusable = false
	return fd, nil
}

// OpenByName opens a buffer object another process published with Flink. Opening a name that
// already has a buffer object in this manager returns that buffer object with an extra reference.
func (m *Manager) OpenByName(name kernel.Name, debugName string) (*BufferObject, error) {
	m.logger.Debug("Manager::OpenByName", slog.Int("name", int(name)), slog.String("debugName", debugName))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}

	if bo, ok := m.names.Get(name); ok {
		m.retainSharedLocked(bo)
		return bo, nil
	}

	handle, size, err := m.kernel.OpenByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open buffer object by name %d", name)
	}

	bo, err := m.sharedBufferLocked(handle, size, debugName)
	if err != nil {
		return nil, err
	}

	if bo.globalName == 0 {
		bo.globalName = name
		m.names.Put(name, bo)
	}
	return bo, nil
}

// ImportDescriptor opens a buffer object from a file descriptor produced by ExportDescriptor.
// size is used only when the kernel cannot report the object's size.
func (m *Manager) ImportDescriptor(fd int, size int) (*BufferObject, error) {
	m.logger.Debug("Manager::ImportDescriptor", slog.Int("fd", fd), slog.Int("size", size))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil, ErrManagerDestroyed
	}

	handle, actualSize, err := m.kernel.ImportFD(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to import descriptor %d", fd)
	}
	if actualSize <= 0 {
		actualSize = size
	}

	return m.sharedBufferLocked(handle, actualSize, "prime")
}

// sharedBufferLocked returns the buffer object for a handle the kernel opened on our behalf,
// creating it if this is the first time the handle is seen
func (m *Manager) sharedBufferLocked(handle kernel.Handle, size int, debugName string) (*BufferObject, error) {
	if bo, ok := m.handles.Get(handle); ok {
		m.retainSharedLocked(bo)
		return bo, nil
	}

	tiling, err := m.kernel.GetTiling(handle)
	if err != nil {
		closeErr := m.kernel.Close(handle)
		if closeErr != nil {
			m.logger.Error("Manager::sharedBufferLocked failed to close a shared handle",
				slog.Int("handle", int(handle)),
				slog.Any("error", closeErr),
			)
		}
		return nil, errors.Wrapf(err, "failed to read the tiling of shared buffer object %d", handle)
	}

	bo := &BufferObject{
		manager:   m,
		handle:    handle,
		size:      size,
		tiling:    tiling.Mode,
		stride:    tiling.Stride,
		swizzle:   tiling.Swizzle,
		execIndex: execIndexNone,
	}
	m.handles.Put(handle, bo)

	bo.prepareForUse(debugName, 0)
	bo.reusable = false
	return bo, nil
}

// retainSharedLocked adds a reference to a buffer object found in one of the identity maps. A
// buffer object sitting in the reuse cache is pulled back out of it first.
func (m *Manager) retainSharedLocked(bo *BufferObject) {
	if bo.bucket != nil {
		bo.bucket.remove(bo)

		retained, err := m.kernel.Madvise(bo.handle, kernel.AdviceWillNeed)
		if err != nil || !retained {
			m.logger.Debug("Manager::retainSharedLocked shared buffer object contents were discarded",
				slog.Int("handle", int(bo.handle)),
				slog.Any("error", err),
			)
		}

		bo.prepareForUse(bo.name, bo.alignment)
		bo.reusable = false
		return
	}

	bo.refCount.Add(1)
	bo.reusable = false
}
