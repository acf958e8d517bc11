// Package bufmgr manages GPU buffer objects on top of a kernel memory manager. It caches released
// buffer objects in size-class buckets for reuse, maps them for CPU access, records the relocations
// between them, estimates whether a dependency tree fits in the GPU aperture and assembles the
// deduplicated execution list handed to the kernel at submission.
package bufmgr

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/bufmgr/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/kernel"
	"golang.org/x/exp/slog"
)

// Manager owns every buffer object created through one kernel connection, along with the reuse
// cache, the identity maps and the mapping cache. All of that state is guarded by one mutex.
// Multiple managers may coexist.
type Manager struct {
	useMutex    bool
	logger      *slog.Logger
	kernel      kernel.Kernel
	caps        Capabilities
	createFlags CreateFlags

	mutex utils.OptionalMutex

	buckets        []*cacheBucket
	reuseEnabled   bool
	unlimitedReuse bool
	gracePeriod    time.Duration
	renderPick     CachePick
	uploadPick     CachePick
	lastSweep      time.Time
	now            func() time.Time

	handles *swiss.Map[kernel.Handle, *BufferObject]
	names   *swiss.Map[kernel.Name, *BufferObject]

	mappings mappingCache

	maxDependencies   int
	apertureSize      uint64
	apertureThreshold float64
	noHardware        bool

	destroyed bool

	cacheHits     int
	cacheMisses   int
	kernelCreates int
	kernelCloses  int
}

func (m *Manager) Logger() *slog.Logger            { return m.logger }
func (m *Manager) Kernel() kernel.Kernel           { return m.kernel }
func (m *Manager) Capabilities() Capabilities      { return m.caps }
func (m *Manager) ApertureSize() uint64            { return m.apertureSize }
func (m *Manager) MaxDependencies() int            { return m.maxDependencies }
func (m *Manager) CreateFlags() CreateFlags        { return m.createFlags }
func (m *Manager) ApertureThreshold() float64      { return m.apertureThreshold }
func (m *Manager) CacheGracePeriod() time.Duration { return m.gracePeriod }

// SetReuseEnabled toggles whether released buffer objects are kept in the reuse cache. Objects
// already cached stay cached until swept.
func (m *Manager) SetReuseEnabled(enabled bool) {
	m.logger.Debug("Manager::SetReuseEnabled", slog.Bool("enabled", enabled))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.reuseEnabled = enabled
}

// SetMappingCacheSize changes the number of closed CPU mappings kept for reuse. A negative limit
// leaves the cache unbounded and zero tears every closed mapping down immediately.
func (m *Manager) SetMappingCacheSize(limit int) {
	m.logger.Debug("Manager::SetMappingCacheSize", slog.Int("limit", limit))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.mappings.limit = limit
	m.purgeMappingCache()
}

// ReadRegister reads a hardware register through the kernel
func (m *Manager) ReadRegister(offset uint32) (uint64, error) {
	m.logger.Debug("Manager::ReadRegister", slog.Int("offset", int(offset)))

	value, err := m.kernel.ReadRegister(offset)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read register 0x%x", offset)
	}
	return value, nil
}

// Destroy releases every cached buffer object back to the kernel. Buffer objects still held by
// clients are logged and reported in the returned error; they must not be used afterward.
func (m *Manager) Destroy() error {
	m.logger.Debug("Manager::Destroy")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil
	}

	var result *multierror.Error
	for _, bucket := range m.buckets {
		for bucket.head != nil {
			bo := bucket.head
			bucket.remove(bo)

			err := m.destroyBuffer(bo)
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	leaked := 0
	m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
		leaked++
		m.logUnreleasedBuffer(bo)
		return false
	})
	if leaked > 0 {
		result = multierror.Append(result, errors.Newf("%d buffer objects were not released before the destruction of this manager", leaked))
	}

	m.destroyed = true
	return result.ErrorOrNil()
}

func (m *Manager) logUnreleasedBuffer(bo *BufferObject) {
	name := bo.name
	if name == "" {
		name = "empty"
	}

	m.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED BUFFER] unreleased buffer object",
		slog.Int("handle", int(bo.handle)),
		slog.Int("size", bo.size),
		slog.Int("refCount", int(bo.refCount.Load())),
		slog.String("name", name),
	)
}

// Validate checks the internal consistency of the identity maps and the reuse cache
func (m *Manager) Validate() error {
	for _, bucket := range m.buckets {
		var previous *BufferObject
		count := 0
		for bo := bucket.head; bo != nil; bo = bo.nextCached {
			count++
			if bo.bucket != bucket {
				return errors.Newf("buffer object %d is listed in bucket %d but belongs to another bucket", bo.handle, bucket.size)
			}
			if bo.size != bucket.size {
				return errors.Newf("buffer object %d of size %d is cached in bucket %d", bo.handle, bo.size, bucket.size)
			}
			if bo.refCount.Load() != 0 {
				return errors.Newf("cached buffer object %d has %d references", bo.handle, bo.refCount.Load())
			}
			if bo.mapCount != 0 {
				return errors.Newf("cached buffer object %d has %d open mappings", bo.handle, bo.mapCount)
			}
			if previous != nil && bo.freeTime.Before(previous.freeTime) {
				return errors.Newf("bucket %d is not ordered by release time", bucket.size)
			}
			if registered, ok := m.handles.Get(bo.handle); !ok || registered != bo {
				return errors.Newf("cached buffer object %d is missing from the handle map", bo.handle)
			}
			previous = bo
		}

		if count != bucket.count {
			return errors.Newf("bucket %d declares %d entries but holds %d", bucket.size, bucket.count, count)
		}
		if previous != bucket.tail {
			return errors.Newf("bucket %d has a stale tail", bucket.size)
		}
	}

	records := swiss.NewMap[kernel.Handle, int](uint32(m.handles.Count()))
	m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
		for _, dep := range bo.dependencies {
			count, _ := records.Get(dep.target.handle)
			records.Put(dep.target.handle, count+1)
		}
		return false
	})

	var err error
	m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
		count, _ := records.Get(handle)
		if bo.referrers != count {
			err = errors.Newf("buffer object %d counts %d referrers but %d records point at it", handle, bo.referrers, count)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	m.names.Iter(func(name kernel.Name, bo *BufferObject) bool {
		if bo.globalName != name {
			err = errors.Newf("name %d maps to buffer object %d, which has name %d", name, bo.handle, bo.globalName)
			return true
		}
		if registered, ok := m.handles.Get(bo.handle); !ok || registered != bo {
			err = errors.Newf("named buffer object %d is missing from the handle map", bo.handle)
			return true
		}
		return false
	})

	return err
}
