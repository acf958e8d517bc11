package bufmgr

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

// SubmitInfo describes a single submission
type SubmitInfo struct {
	// BatchStart is the byte offset of the first command in the batch
	BatchStart int
	// BatchLength is the number of command bytes, or 0 for everything after BatchStart
	BatchLength int
	// Context is the hardware context to run in, or nil for the default context
	Context *Context
	// InFence, if not nil, must signal before the batch runs
	InFence *Fence
	// WantFence requests a fence that signals when the batch completes
	WantFence bool
	// Flags are passed through to the kernel. Fence flags are managed through InFence and WantFence.
	Flags kernel.ExecFlags
	// KeepDependencies leaves the batch's dependency records and the references they hold in place
	// after a successful submission, so the same batch can be submitted again
	KeepDependencies bool
}

// Submit hands batch and every buffer object it depends on to the kernel for execution. The batch
// runs last, after every target has been placed and every stale address in the tree rewritten.
// When the kernel cannot fit the tree in the aperture, the error wraps ErrInsufficientCapacity.
// A successful submission consumes the batch's dependency records and releases their targets
// unless info.KeepDependencies is set.
func (m *Manager) Submit(ctx context.Context, batch *BufferObject, info SubmitInfo) (*Fence, error) {
	m.logger.Debug("Manager::Submit",
		slog.Int("batch", int(batch.handle)),
		slog.Int("batchStart", info.BatchStart),
		slog.Int("batchLength", info.BatchLength),
		slog.Bool("wantFence", info.WantFence),
	)

	contextID := kernel.DefaultContext
	if info.Context != nil {
		if info.Context.destroyed {
			return nil, errors.Newf("hardware context %d has been destroyed", info.Context.id)
		}
		contextID = info.Context.id
	}

	length := info.BatchLength
	if length == 0 {
		length = batch.size - info.BatchStart
	}
	if info.BatchStart < 0 || length < 0 || info.BatchStart+length > batch.size {
		return nil, errors.Newf("batch range %d+%d is outside buffer object %d of size %d", info.BatchStart, length, batch.handle, batch.size)
	}

	m.mutex.Lock()

	if m.destroyed {
		m.mutex.Unlock()
		return nil, ErrManagerDestroyed
	}

	list, err := m.buildExecListLocked(batch)
	if err != nil {
		m.mutex.Unlock()
		return nil, err
	}

	request := &kernel.ExecRequest{
		Objects:     list.objects,
		BatchStart:  info.BatchStart,
		BatchLength: length,
		Context:     contextID,
		Flags:       info.Flags &^ (kernel.ExecFenceIn | kernel.ExecFenceOut),
		InFence:     kernel.NoFence,
	}
	if info.InFence != nil {
		request.Flags |= kernel.ExecFenceIn
		request.InFence = info.InFence.fence
	}
	if info.WantFence {
		request.Flags |= kernel.ExecFenceOut
	}

	// The listed buffer objects must outlive the kernel call even if their owners release them
	for _, bo := range list.buffers {
		bo.refCount.Add(1)
	}
	m.mutex.Unlock()

	var result *kernel.ExecResult
	if m.noHardware {
		m.logger.Debug("Manager::Submit skipping dispatch on a manager without hardware",
			slog.Int("objects", len(request.Objects)),
		)
	} else {
		result, err = m.kernel.Execute(ctx, request)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	released := false
	if err == nil {
		if result != nil {
			m.updateOffsetsLocked(list, result)
		}
		if !info.KeepDependencies {
			released = m.dropDependenciesLocked(batch, 0)
		}
	}
	for _, bo := range list.buffers {
		if m.releaseLocked(bo) {
			released = true
		}
	}
	if released {
		m.sweepCache()
		memutils.DebugValidate(m)
	}

	if err != nil {
		err = errors.Wrapf(err, "failed to submit buffer object %d", batch.handle)
		if errors.Is(err, kernel.ENOSPC) {
			return nil, errors.Mark(err, ErrInsufficientCapacity)
		}
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	if !info.WantFence || result.Fence == kernel.NoFence {
		return nil, nil
	}

	return &Fence{manager: m, fence: result.Fence}, nil
}
