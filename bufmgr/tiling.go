package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

const (
	// maxLegacyTiledPitch is the widest pitch pre-gen4 hardware can tile
	maxLegacyTiledPitch  int  = 8192
	linearPitchAlignment uint = 64
)

// TiledAcquireInfo describes a two-dimensional surface to acquire
type TiledAcquireInfo struct {
	Name          string
	Width         int
	Height        int
	BytesPerPixel int
	Tiling        kernel.TilingMode
	Flags         AcquireFlags
}

type tiledLayout struct {
	tiling kernel.TilingMode
	pitch  int
	size   int
}

func (m *Manager) tileWidth(tiling kernel.TilingMode) int {
	if tiling == kernel.TilingX {
		return 512
	}
	return 128
}

func (m *Manager) tileHeightAlignment(tiling kernel.TilingMode) int {
	switch {
	case tiling == kernel.TilingNone:
		return 2
	case m.caps.Gen == 2:
		return 16
	case tiling == kernel.TilingX:
		return 8
	default:
		return 32
	}
}

// tilePitch aligns a row pitch to the tiling's requirements. Pre-gen4 hardware needs power of two
// pitches and cannot tile anything wider than 8KiB, in which case the layout falls back to linear.
func (m *Manager) tilePitch(pitch int, tiling kernel.TilingMode) (int, kernel.TilingMode) {
	if tiling == kernel.TilingNone {
		return memutils.AlignUp(pitch, linearPitchAlignment), tiling
	}

	tileWidth := m.tileWidth(tiling)
	if m.caps.Gen >= 4 {
		return memutils.RoundUpTo(pitch, tileWidth), tiling
	}

	if pitch > maxLegacyTiledPitch {
		return memutils.AlignUp(pitch, linearPitchAlignment), kernel.TilingNone
	}

	return memutils.PowerOfTwoAtLeast(tileWidth, pitch), tiling
}

// tileSize rounds an object size up to what a fence register can cover. Only pre-gen4 hardware
// needs power of two fences, and objects too large to fence fall back to linear.
func (m *Manager) tileSize(size int, tiling kernel.TilingMode) (int, kernel.TilingMode) {
	if tiling == kernel.TilingNone {
		return size, tiling
	}

	if m.caps.Gen >= 4 {
		return memutils.RoundUpTo(size, memutils.PageSize), tiling
	}

	minSize, maxSize := 512*1024, 64*1024*1024
	if m.caps.Gen == 3 {
		minSize, maxSize = 1024*1024, 128*1024*1024
	}

	if size > maxSize {
		return size, kernel.TilingNone
	}

	if m.caps.HasRelaxedFencing {
		return memutils.RoundUpTo(size, memutils.PageSize), tiling
	}

	return memutils.PowerOfTwoAtLeast(minSize, size), tiling
}

// computeTiledLayout returns the pitch and size of a surface. The tiling mode it returns may be
// linear if the requested tiling cannot cover the surface.
func (m *Manager) computeTiledLayout(width, height, bytesPerPixel int, tiling kernel.TilingMode) tiledLayout {
	for {
		requested := tiling
		alignedHeight := memutils.RoundUpTo(height, m.tileHeightAlignment(tiling))

		var pitch, size int
		pitch, tiling = m.tilePitch(width*bytesPerPixel, tiling)
		size, tiling = m.tileSize(pitch*alignedHeight, tiling)

		if tiling == requested {
			return tiledLayout{tiling: tiling, pitch: pitch, size: size}
		}
	}
}

// AcquireTiled acquires a buffer object for a width x height surface. It returns the row pitch
// to use when addressing the surface. The tiling the kernel actually applied, which may be less
// than requested, can be read back from the buffer object.
func (m *Manager) AcquireTiled(info TiledAcquireInfo) (*BufferObject, int, error) {
	m.logger.Debug("Manager::AcquireTiled",
		slog.String("name", info.Name),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("bytesPerPixel", info.BytesPerPixel),
		slog.String("tiling", info.Tiling.String()),
	)

	if info.Width <= 0 || info.Height <= 0 || info.BytesPerPixel <= 0 {
		return nil, 0, errors.Wrapf(ErrInvalidTiling, "invalid surface %dx%d with %d bytes per pixel", info.Width, info.Height, info.BytesPerPixel)
	}

	tiling := info.Tiling
	// Each retry moves to a strictly simpler tiling, so this ends by the time linear is reached
	for attempt := 0; attempt <= int(kernel.TilingY); attempt++ {
		layout := m.computeTiledLayout(info.Width, info.Height, info.BytesPerPixel, tiling)

		stride := layout.pitch
		if layout.tiling == kernel.TilingNone {
			stride = 0
		}

		bo, err := m.Acquire(AcquireInfo{
			Name:   info.Name,
			Size:   layout.size,
			Tiling: layout.tiling,
			Stride: stride,
			Flags:  info.Flags,
		})
		if err != nil {
			return nil, 0, err
		}

		effective := bo.Tiling()
		if effective == layout.tiling {
			return bo, layout.pitch, nil
		}

		downgraded := m.computeTiledLayout(info.Width, info.Height, info.BytesPerPixel, effective)
		if downgraded.size <= bo.Size() && (effective == kernel.TilingNone || downgraded.pitch == bo.Stride()) {
			return bo, downgraded.pitch, nil
		}

		m.logger.Debug("Manager::AcquireTiled kernel downgraded the tiling, retrying",
			slog.String("requested", layout.tiling.String()),
			slog.String("effective", effective.String()),
		)
		bo.Release()
		tiling = effective
	}

	return nil, 0, errors.Wrapf(ErrInvalidTiling, "could not acquire a %dx%d surface with a stable tiling", info.Width, info.Height)
}

// setTilingLocked applies a tiling to a buffer object and refreshes every size derived from it.
// Linear layouts always have a stride of 0.
func (m *Manager) setTilingLocked(bo *BufferObject, tiling kernel.TilingMode, stride int) error {
	if tiling == kernel.TilingNone {
		stride = 0
	}

	if tiling == bo.tiling && stride == bo.stride {
		return nil
	}

	applied, err := m.kernel.SetTiling(bo.handle, tiling, stride)
	if err != nil {
		return errors.Wrapf(err, "failed to set %s with stride %d on buffer object %d", tiling, stride, bo.handle)
	}

	bo.tiling = applied.Mode
	bo.stride = applied.Stride
	bo.swizzle = applied.Swizzle
	m.updateApertureSize(bo)
	if bo.referrers > 0 {
		m.refreshReferrersLocked(bo)
	}
	return nil
}

// refreshReferrersLocked brings the subtree size snapshots held by every buffer object that
// depends on changed, directly or through other targets, back in line with its new size
func (m *Manager) refreshReferrersLocked(changed *BufferObject) {
	pending := []*BufferObject{changed}

	for len(pending) > 0 {
		target := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if target.referrers == 0 {
			continue
		}

		m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
			stale := false
			for i := range bo.dependencies {
				dep := &bo.dependencies[i]
				if dep.target == target && dep.subtreeSize != target.subtreeSize {
					dep.subtreeSize = target.subtreeSize
					stale = true
				}
			}
			if stale {
				bo.recomputeSubtreeSize()
				pending = append(pending, bo)
			}
			return false
		})
	}
}

// SetTiling re-tiles the buffer object and returns the tiling and stride the kernel applied,
// which may differ from what was requested
func (bo *BufferObject) SetTiling(tiling kernel.TilingMode, stride int) (kernel.TilingMode, int, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::SetTiling", slog.String("tiling", tiling.String()), slog.Int("stride", stride))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.setTilingLocked(bo, tiling, stride)
	return bo.tiling, bo.stride, err
}

// GetTiling returns the buffer object's current tiling, stride and swizzle
func (bo *BufferObject) GetTiling() (kernel.TilingMode, int, kernel.SwizzleMode) {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.tiling, bo.stride, bo.swizzle
}

// updateApertureSize recomputes how much of the aperture the buffer object occupies and resets
// its subtree size estimate accordingly. Pre-gen4 tiled objects must be placed at an offset
// aligned to their fence size, so the worst case hole is twice the fence size.
func (m *Manager) updateApertureSize(bo *BufferObject) {
	size := bo.size
	slack := 0

	if m.caps.Gen < 4 && bo.tiling != kernel.TilingNone {
		fenceSize := size
		if m.caps.HasRelaxedFencing {
			minSize := 512 * 1024
			if m.caps.Gen == 3 {
				minSize = 1024 * 1024
			}
			fenceSize = memutils.PowerOfTwoAtLeast(minSize, size)
			memutils.DebugCheckPow2(fenceSize, "fence size")
		}
		slack = fenceSize
		if int(bo.alignment) > slack {
			slack = int(bo.alignment)
		}
	}

	bo.apertureSize = size + slack
	bo.recomputeSubtreeSize()
}

func (bo *BufferObject) recomputeSubtreeSize() {
	bo.subtreeSize = bo.apertureSize
	for _, dep := range bo.dependencies {
		bo.subtreeSize += dep.subtreeSize
	}
}
