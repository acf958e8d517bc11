package bufmgr

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// EstimateSize returns a cheap upper bound on the aperture space the dependency trees below roots
// occupy. A buffer object shared between subtrees is counted once per path that reaches it.
func (m *Manager) EstimateSize(roots ...*BufferObject) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.estimateSizeLocked(roots)
}

func (m *Manager) estimateSizeLocked(roots []*BufferObject) int {
	total := 0
	for _, root := range roots {
		total += root.subtreeSize
	}
	return total
}

// ComputeSize returns the exact aperture space the dependency trees below roots occupy, counting
// each buffer object once
func (m *Manager) ComputeSize(roots ...*BufferObject) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.computeSizeLocked(roots)
}

func (m *Manager) computeSizeLocked(roots []*BufferObject) int {
	var marked []*BufferObject
	total := 0

	for i, root := range roots {
		if !root.included {
			root.included = true
			marked = append(marked, root)
			total += root.apertureSize

			stack := []*BufferObject{root}
			for len(stack) > 0 {
				current := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				for _, dep := range current.dependencies {
					if dep.target.included {
						continue
					}
					dep.target.included = true
					marked = append(marked, dep.target)
					total += dep.target.apertureSize
					stack = append(stack, dep.target)
				}
			}
		}

		// Nothing was marked before the first root, so its total is exact and tighter than the
		// cheap estimate. Keep it so later estimates avoid the walk.
		if i == 0 {
			root.subtreeSize = total
		}
	}

	for _, bo := range marked {
		bo.included = false
	}

	return total
}

// CheckCapacity reports whether the dependency trees below roots fit in the share of the aperture
// a single submission may use. It returns an error wrapping ErrInsufficientCapacity when they do
// not, in which case the caller should submit what it has and start over.
func (m *Manager) CheckCapacity(roots ...*BufferObject) error {
	m.logger.Debug("Manager::CheckCapacity", slog.Int("roots", len(roots)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	threshold := int(float64(m.apertureSize) * m.apertureThreshold)

	total := m.estimateSizeLocked(roots)
	if total <= threshold {
		return nil
	}

	total = m.computeSizeLocked(roots)
	if total <= threshold {
		return nil
	}

	m.logger.Debug("Manager::CheckCapacity dependency trees exceed the aperture threshold",
		slog.Int("total", total),
		slog.Int("threshold", threshold),
	)
	return errors.Wrapf(ErrInsufficientCapacity, "%d bytes requested but only %d are available", total, threshold)
}
