package memutils

import "math"

// Statistics is a point-in-time snapshot of how many kernel objects a buffer manager
// holds and how they are split between client ownership and the reuse cache
type Statistics struct {
	// ObjectCount is the number of kernel objects currently open, live or cached
	ObjectCount int
	// ObjectBytes is the total size of every open kernel object
	ObjectBytes int
	// CachedCount is the number of objects idling in the reuse cache
	CachedCount int
	// CachedBytes is the total size of the objects idling in the reuse cache
	CachedBytes int

	CacheHits     int
	CacheMisses   int
	KernelCreates int
	KernelCloses  int

	OpenMappings   int
	CachedMappings int
}

func (s *Statistics) Clear() {
	*s = Statistics{}
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ObjectCount += other.ObjectCount
	s.ObjectBytes += other.ObjectBytes
	s.CachedCount += other.CachedCount
	s.CachedBytes += other.CachedBytes
	s.CacheHits += other.CacheHits
	s.CacheMisses += other.CacheMisses
	s.KernelCreates += other.KernelCreates
	s.KernelCloses += other.KernelCloses
	s.OpenMappings += other.OpenMappings
	s.CachedMappings += other.CachedMappings
}

// LiveCount is the number of objects currently owned by clients
func (s *Statistics) LiveCount() int {
	return s.ObjectCount - s.CachedCount
}

// LiveBytes is the total size of the objects currently owned by clients
func (s *Statistics) LiveBytes() int {
	return s.ObjectBytes - s.CachedBytes
}

type DetailedStatistics struct {
	Statistics
	ObjectSizeMin int
	ObjectSizeMax int
	CachedSizeMin int
	CachedSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.ObjectSizeMin = math.MaxInt
	s.ObjectSizeMax = 0
	s.CachedSizeMin = math.MaxInt
	s.CachedSizeMax = 0
}

func (s *DetailedStatistics) AddObject(size int) {
	s.ObjectCount++
	s.ObjectBytes += size

	if size < s.ObjectSizeMin {
		s.ObjectSizeMin = size
	}

	if size > s.ObjectSizeMax {
		s.ObjectSizeMax = size
	}
}

func (s *DetailedStatistics) AddCached(size int) {
	s.CachedCount++
	s.CachedBytes += size

	if size < s.CachedSizeMin {
		s.CachedSizeMin = size
	}

	if size > s.CachedSizeMax {
		s.CachedSizeMax = size
	}
}
