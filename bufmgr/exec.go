package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

const (
	execIndexNone       int = -1
	execIndexInProgress int = -2
)

// execList is the deduplicated list of buffer objects a submission hands to the kernel, with every
// target ahead of the buffer objects that reference it and the batch last
type execList struct {
	buffers []*BufferObject
	objects []kernel.ExecObject

	touched []*BufferObject
}

type execFrame struct {
	bo   *BufferObject
	next int
}

// buildExecListLocked walks the dependency graph below root in post order, adding each buffer object
// once. Exec indices are only meaningful during the walk and are cleared before returning.
func (m *Manager) buildExecListLocked(root *BufferObject) (*execList, error) {
	list := &execList{}
	defer list.clearIndices()

	stack := []execFrame{{bo: root}}
	root.execIndex = execIndexInProgress
	list.touched = append(list.touched, root)

	for len(stack) > 0 {
		frame := &stack[len(stack)-1]
		bo := frame.bo

		if bo.err != nil {
			return nil, errors.Wrapf(bo.err, "buffer object %d cannot be submitted", bo.handle)
		}

		if frame.next < len(bo.dependencies) {
			target := bo.dependencies[frame.next].target
			frame.next++

			switch target.execIndex {
			case execIndexNone:
				target.execIndex = execIndexInProgress
				list.touched = append(list.touched, target)
				stack = append(stack, execFrame{bo: target})
			case execIndexInProgress:
				return nil, errors.Newf("dependency cycle through buffer object %d", target.handle)
			}
			continue
		}

		stack = stack[:len(stack)-1]
		m.appendExecObject(list, bo)
	}

	return list, nil
}

func (m *Manager) appendExecObject(list *execList, bo *BufferObject) {
	entry := kernel.ExecObject{
		Handle:    bo.handle,
		Alignment: uint64(bo.alignment),
		Offset:    bo.offset,
	}

	if bo.pinned {
		entry.Flags |= kernel.ExecObjectPinned
	}
	if bo.asyncExec {
		entry.Flags |= kernel.ExecObjectAsync
	}
	if m.caps.Has48BitAddress {
		entry.Flags |= kernel.ExecObjectSupports48Bit
	}

	for _, dep := range bo.dependencies {
		if dep.writeDomain != 0 {
			list.objects[dep.target.execIndex].Flags |= kernel.ExecObjectWrite
		}
		if dep.fixed {
			continue
		}

		entry.Relocations = append(entry.Relocations, kernel.Relocation{
			Offset:         dep.offset,
			TargetHandle:   dep.target.handle,
			Delta:          dep.delta,
			ReadDomains:    dep.readDomains,
			WriteDomain:    dep.writeDomain,
			PresumedOffset: dep.presumedOffset,
		})
	}

	bo.execIndex = len(list.objects)
	list.buffers = append(list.buffers, bo)
	list.objects = append(list.objects, entry)
}

// clearIndices resets every exec index touched by the walk, including those of buffer objects
// still marked in progress when the walk failed
func (l *execList) clearIndices() {
	for _, bo := range l.touched {
		bo.execIndex = execIndexNone
	}
	l.touched = nil
}

// updateOffsetsLocked records the addresses the kernel placed each buffer object at. Every buffer
// object in the list is now in use by the GPU.
func (m *Manager) updateOffsetsLocked(list *execList, result *kernel.ExecResult) {
	for i, bo := range list.buffers {
		if i < len(result.Offsets) && result.Offsets[i] != bo.offset {
			m.logger.Debug("Manager::Submit buffer object moved",
				slog.Int("handle", int(bo.handle)),
				slog.Uint64("from", bo.offset),
				slog.Uint64("to", result.Offsets[i]),
			)
			bo.offset = result.Offsets[i]
		}
		bo.idle = false
	}

	// The kernel has rewritten every stale address, so the recorded presumed offsets are current
	for _, bo := range list.buffers {
		for i := range bo.dependencies {
			bo.dependencies[i].presumedOffset = bo.dependencies[i].target.offset
		}
	}
}
