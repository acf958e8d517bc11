package bufmgr

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// mappingCache tracks buffer objects whose CPU mappings are cached but not open. Its only purpose
// is to bound the number of live OS mappings: evicting an entry tears down the mappings but never
// touches the buffer object's lifetime.
type mappingCache struct {
	// limit is the maximum number of cached mappings, or negative for no limit
	limit int
	// open is the number of buffer objects with at least one open mapping
	open int
	// cached is the number of mappings, across all kinds, held by buffer objects in lru
	cached int

	lru *simplelru.LRU[kernel.Handle, *BufferObject]
}

func (c *mappingCache) init(limit int) error {
	lru, err := simplelru.NewLRU[kernel.Handle, *BufferObject](math.MaxInt32, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create the mapping cache")
	}

	c.limit = limit
	c.lru = lru
	return nil
}

// forget removes a buffer object from the cache without touching its mappings
func (c *mappingCache) forget(bo *BufferObject) {
	if c.lru.Remove(bo.handle) {
		c.cached -= bo.viewCount()
	}
}

func (bo *BufferObject) viewCount() int {
	count := 0
	if bo.cpuView != nil {
		count++
	}
	if bo.gttView != nil {
		count++
	}
	if bo.wcView != nil {
		count++
	}
	return count
}

// openMapping is called when a buffer object's map count leaves zero
func (m *Manager) openMapping(bo *BufferObject) {
	m.mappings.open++
	m.mappings.forget(bo)
	m.purgeMappingCache()
}

// closeMapping is called when a buffer object's map count returns to zero
func (m *Manager) closeMapping(bo *BufferObject) {
	m.mappings.open--
	m.mappings.lru.Add(bo.handle, bo)
	m.mappings.cached += bo.viewCount()
	m.purgeMappingCache()
}

// purgeMappingCache evicts the least recently closed mappings until the cache is under its limit,
// leaving room for twice the currently open mappings
func (m *Manager) purgeMappingCache() {
	if m.mappings.limit < 0 {
		return
	}

	limit := m.mappings.limit - 2*m.mappings.open
	if limit < 0 {
		limit = 0
	}

	for m.mappings.cached > limit {
		_, bo, ok := m.mappings.lru.RemoveOldest()
		if !ok {
			break
		}

		m.mappings.cached -= bo.viewCount()
		err := m.unmapViews(bo)
		if err != nil {
			m.logger.Error("Manager::purgeMappingCache failed to unmap a buffer object",
				slog.Int("handle", int(bo.handle)),
				slog.Any("error", err),
			)
		}
	}
}

// unmapViews tears down every OS mapping of a buffer object
func (m *Manager) unmapViews(bo *BufferObject) error {
	var err error
	views := []struct {
		kind kernel.MapKind
		view *[]byte
	}{
		{kernel.MapCPU, &bo.cpuView},
		{kernel.MapGTT, &bo.gttView},
		{kernel.MapWC, &bo.wcView},
	}

	for _, entry := range views {
		if *entry.view == nil {
			continue
		}

		unmapErr := m.kernel.Munmap(bo.handle, entry.kind, *entry.view)
		if unmapErr != nil && err == nil {
			err = errors.Wrapf(unmapErr, "failed to unmap the %s view of buffer object %d", entry.kind, bo.handle)
		}
		*entry.view = nil
	}

	return err
}
