package bufmgr

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// Context is a kernel hardware context: submissions made through different contexts do not share
// GPU state
type Context struct {
	manager   *Manager
	id        kernel.ContextID
	destroyed bool
}

// CreateContext creates a new hardware context
func (m *Manager) CreateContext() (*Context, error) {
	m.logger.Debug("Manager::CreateContext")

	id, err := m.kernel.ContextCreate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a hardware context")
	}

	return &Context{manager: m, id: id}, nil
}

func (c *Context) ID() kernel.ContextID { return c.id }

// Destroy releases the hardware context. Destroying a context twice does nothing.
func (c *Context) Destroy() error {
	c.manager.logger.Debug("Context::Destroy", slog.Int("id", int(c.id)))

	if c.destroyed {
		return nil
	}

	err := c.manager.kernel.ContextDestroy(c.id)
	if err != nil {
		return errors.Wrapf(err, "failed to destroy hardware context %d", c.id)
	}

	c.destroyed = true
	return nil
}

// Submit submits batch through this context
func (c *Context) Submit(ctx context.Context, batch *BufferObject, info SubmitInfo) (*Fence, error) {
	info.Context = c
	return c.manager.Submit(ctx, batch, info)
}

// Fence signals when the submission that produced it completes
type Fence struct {
	manager *Manager
	fence   kernel.Fence
	closed  bool
}

func (f *Fence) ID() kernel.Fence { return f.fence }

// Wait blocks until the fence signals, ctx is done or timeout elapses. A negative timeout waits
// forever.
func (f *Fence) Wait(ctx context.Context, timeout time.Duration) error {
	f.manager.logger.Debug("Fence::Wait", slog.Int("fence", int(f.fence)), slog.Duration("timeout", timeout))

	err := f.manager.kernel.WaitFence(ctx, f.fence, timeout)
	return wrapWaitError(err, "fence %d", f.fence)
}

// Close releases the fence. Closing a fence twice does nothing.
func (f *Fence) Close() error {
	f.manager.logger.Debug("Fence::Close", slog.Int("fence", int(f.fence)))

	if f.closed {
		return nil
	}

	err := f.manager.kernel.CloseFence(f.fence)
	if err != nil {
		return errors.Wrapf(err, "failed to close fence %d", f.fence)
	}

	f.closed = true
	return nil
}

func wrapWaitError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	err = errors.Wrapf(err, "failed to wait for "+format, args...)
	if errors.Is(err, kernel.ETIME) {
		return errors.Mark(err, ErrTimeout)
	}
	return err
}

// Wait blocks until the GPU is done with the buffer object, ctx is done or timeout elapses. A
// negative timeout waits forever and a zero timeout only polls.
func (bo *BufferObject) Wait(ctx context.Context, timeout time.Duration) error {
	m := bo.manager
	m.logger.Debug("BufferObject::Wait", slog.Duration("timeout", timeout))

	err := m.kernel.Wait(ctx, bo.handle, timeout)
	if err != nil {
		return wrapWaitError(err, "buffer object %d", bo.handle)
	}

	m.mutex.Lock()
	bo.idle = true
	m.mutex.Unlock()

	return nil
}

// Busy reports whether the GPU may still be using the buffer object
func (bo *BufferObject) Busy() bool {
	m := bo.manager
	m.logger.Debug("BufferObject::Busy")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.busyLocked(bo)
}
