package bufmgr

import "github.com/vkngwrapper/bufmgr/bufmgr/internal/utils"

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this manager and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// thread at a time or are synchronized by some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateDisableReuse destroys every buffer object as soon as its last reference is released
	// instead of keeping it in the reuse cache
	CreateDisableReuse
	// CreateNoHardware builds and validates every submission but never hands it to the kernel
	CreateNoHardware
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateDisableReuse.Register("CreateDisableReuse")
	CreateNoHardware.Register("CreateNoHardware")
}

// AcquireFlags modify a single acquisition
type AcquireFlags int32

var acquireFlagsMapping = utils.NewFlagStringMapping[AcquireFlags]()

func (f AcquireFlags) Register(str string) {
	acquireFlagsMapping.Register(f, str)
}
func (f AcquireFlags) String() string {
	return acquireFlagsMapping.FlagsToString(f)
}

const (
	// AcquireForRender indicates the buffer object will be written by the GPU soon, so a recently
	// released, possibly busy, cache entry is preferable to a cold one
	AcquireForRender AcquireFlags = 1 << iota
)

func init() {
	AcquireForRender.Register("AcquireForRender")
}

// CachePick selects which entry of a cache bucket an acquisition takes
type CachePick int32

const (
	// CachePickDefault uses CachePickMostRecent for render acquisitions and
	// CachePickLeastRecentIdle for everything else
	CachePickDefault CachePick = iota
	// CachePickMostRecent takes the most recently released entry without checking whether
	// the GPU is still using it
	CachePickMostRecent
	// CachePickLeastRecentIdle takes the least recently released entry, but only if the kernel
	// reports it idle. A busy entry is left in place and a new buffer object is created instead.
	CachePickLeastRecentIdle
)

var cachePickNames = map[CachePick]string{
	CachePickDefault:         "default",
	CachePickMostRecent:      "most-recent",
	CachePickLeastRecentIdle: "least-recent-idle",
}

func (p CachePick) String() string {
	return cachePickNames[p]
}
