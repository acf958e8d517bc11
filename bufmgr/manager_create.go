package bufmgr

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

const (
	// defaultBatchSize is the submission buffer size used to derive the dependency list cap
	// when none is provided via CreateOptions
	defaultBatchSize int = 16 * 1024
	// defaultMaxCacheSize is the largest bucket in the size class table, 64MiB
	defaultMaxCacheSize int = 64 * 1024 * 1024
	// defaultApertureSize is assumed when the kernel cannot report the aperture, 256MiB
	defaultApertureSize uint64 = 256 * 1024 * 1024

	defaultApertureThreshold float64       = 0.75
	defaultCacheGracePeriod  time.Duration = time.Second
)

// CreateOptions contains optional settings when creating a manager. It is valid to leave every
// field blank.
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags

	// BatchSize is the expected size of a submission buffer. Each buffer object's dependency list
	// is capped at one relocation per two dwords of the batch.
	BatchSize int
	// MaxCacheSize is the size of the largest cache bucket and must be a power of two. Larger buffer
	// objects are never cached.
	MaxCacheSize int

	// MappingCacheSize bounds how many closed CPU mappings are kept around for reuse. Zero leaves
	// the mapping cache unbounded.
	MappingCacheSize int
	// UnlimitedReuse keeps released buffer objects cached until the kernel reclaims them instead of
	// sweeping them out after CacheGracePeriod
	UnlimitedReuse bool
	// CacheGracePeriod is how long a released buffer object may idle in the cache. One second
	// by default.
	CacheGracePeriod time.Duration

	// RenderReuse selects the cache entry handed out to AcquireForRender acquisitions
	RenderReuse CachePick
	// UploadReuse selects the cache entry handed out to all other acquisitions
	UploadReuse CachePick

	// ApertureSize overrides the aperture size reported by the kernel
	ApertureSize uint64
	// ApertureThreshold is the fraction of the aperture a single submission may use before
	// CheckCapacity reports ErrInsufficientCapacity. 0.75 by default.
	ApertureThreshold float64
}

// New creates a new Manager
//
// logger - The logger that will receive debug and error output. slog.Default() is used if nil.
//
// k - The kernel memory manager that owns every buffer object
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, k kernel.Kernel, options CreateOptions) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if k == nil {
		return nil, errors.New("a buffer manager requires a kernel")
	}

	useMutex := options.Flags&CreateExternallySynchronized == 0

	manager := &Manager{
		useMutex: useMutex,
		logger:   logger,
		kernel:   k,
		mutex: utils.OptionalMutex{
			UseMutex: useMutex,
		},
		createFlags: options.Flags,

		reuseEnabled:   options.Flags&CreateDisableReuse == 0,
		unlimitedReuse: options.UnlimitedReuse,
		noHardware:     options.Flags&CreateNoHardware != 0,
		now:            time.Now,

		handles: swiss.NewMap[kernel.Handle, *BufferObject](64),
		names:   swiss.NewMap[kernel.Name, *BufferObject](8),
	}

	batchSize := options.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	manager.maxDependencies = batchSize/4/2 - 2
	if manager.maxDependencies < 1 {
		return nil, errors.Newf("batch size %d is too small to hold any relocations", batchSize)
	}

	maxCacheSize := options.MaxCacheSize
	if maxCacheSize == 0 {
		maxCacheSize = defaultMaxCacheSize
	}
	err := memutils.CheckPow2(maxCacheSize, "CreateOptions.MaxCacheSize")
	if err != nil {
		return nil, err
	}
	manager.buckets = buildBuckets(maxCacheSize)

	manager.gracePeriod = options.CacheGracePeriod
	if manager.gracePeriod == 0 {
		manager.gracePeriod = defaultCacheGracePeriod
	}

	manager.renderPick = options.RenderReuse
	if manager.renderPick == CachePickDefault {
		manager.renderPick = CachePickMostRecent
	}
	manager.uploadPick = options.UploadReuse
	if manager.uploadPick == CachePickDefault {
		manager.uploadPick = CachePickLeastRecentIdle
	}

	manager.apertureThreshold = options.ApertureThreshold
	if manager.apertureThreshold == 0 {
		manager.apertureThreshold = defaultApertureThreshold
	}
	if manager.apertureThreshold < 0 || manager.apertureThreshold > 1 {
		return nil, errors.Newf("aperture threshold %f must be between 0 and 1", manager.apertureThreshold)
	}

	manager.caps = probeCapabilities(logger, k)

	manager.apertureSize = options.ApertureSize
	if manager.apertureSize == 0 {
		manager.apertureSize, err = k.GetAperture()
		if err != nil || manager.apertureSize == 0 {
			logger.Warn("Manager::New could not query the aperture size, assuming the default",
				slog.Any("error", err),
				slog.Int("apertureSize", int(defaultApertureSize)),
			)
			manager.apertureSize = defaultApertureSize
		}
	}

	mappingLimit := options.MappingCacheSize
	if mappingLimit == 0 {
		mappingLimit = -1
	}
	err = manager.mappings.init(mappingLimit)
	if err != nil {
		return nil, err
	}

	return manager, nil
}
