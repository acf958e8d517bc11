package bufmgr

import (
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/memutils"
)

// cacheBucket is one size class of the reuse cache: an intrusive list of released buffer objects
// of exactly that size, ordered by release time with the oldest at the head
type cacheBucket struct {
	size  int
	count int

	head *BufferObject
	tail *BufferObject
}

// buildBuckets lays out the size classes: every page multiple up to 16KiB, then four evenly
// spaced classes per power of two up to maxCacheSize. The result is strictly increasing.
func buildBuckets(maxCacheSize int) []*cacheBucket {
	var buckets []*cacheBucket
	add := func(size int) {
		buckets = append(buckets, &cacheBucket{size: size})
	}

	add(memutils.PageSize)
	add(memutils.PageSize * 2)
	add(memutils.PageSize * 3)

	for size := memutils.PageSize * 4; size <= maxCacheSize; size *= 2 {
		memutils.DebugCheckPow2(size, "bucket class base")
		add(size)
		add(size + size/4)
		add(size + size*2/4)
		add(size + size*3/4)
	}

	return buckets
}

// bucketForSize returns the first bucket large enough to hold size, or nil if size is larger than
// every bucket
func (m *Manager) bucketForSize(size int) *cacheBucket {
	for _, bucket := range m.buckets {
		if bucket.size >= size {
			return bucket
		}
	}

	return nil
}

func (b *cacheBucket) empty() bool {
	return b.head == nil
}

func (b *cacheBucket) pushBack(bo *BufferObject) {
	if bo.bucket != nil {
		panic("attempted to cache a buffer object that is already cached")
	}

	bo.bucket = b
	bo.prevCached = b.tail
	bo.nextCached = nil
	if b.tail != nil {
		b.tail.nextCached = bo
	} else {
		b.head = bo
	}
	b.tail = bo
	b.count++
}

func (b *cacheBucket) remove(bo *BufferObject) {
	if bo.bucket != b {
		panic("attempted to remove a buffer object from a bucket it does not belong to")
	}

	if bo.prevCached != nil {
		bo.prevCached.nextCached = bo.nextCached
	} else {
		b.head = bo.nextCached
	}

	if bo.nextCached != nil {
		bo.nextCached.prevCached = bo.prevCached
	} else {
		b.tail = bo.prevCached
	}

	bo.prevCached = nil
	bo.nextCached = nil
	bo.bucket = nil
	b.count--
}

func (b *cacheBucket) addStatistics(stats *memutils.DetailedStatistics) {
	for bo := b.head; bo != nil; bo = bo.nextCached {
		stats.AddCached(bo.size)
	}
}

func (b *cacheBucket) printParameters(json *jwriter.ObjectState, detailed bool) {
	json.Name("Size").Int(b.size)
	json.Name("Count").Int(b.count)

	if !detailed {
		return
	}

	entries := json.Name("Entries").Array()
	defer entries.End()

	for bo := b.head; bo != nil; bo = bo.nextCached {
		entry := entries.Object()
		bo.printParameters(&entry)
		entry.Name("FreeTime").String(bo.freeTime.Format(time.RFC3339Nano))
		entry.End()
	}
}
