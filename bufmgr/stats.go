package bufmgr

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/kernel"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slices"
)

// CalculateStatistics populates stats with a snapshot of the manager's kernel objects, reuse cache
// and mapping cache
func (m *Manager) CalculateStatistics(stats *memutils.Statistics) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	stats.Clear()
	m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
		stats.ObjectCount++
		stats.ObjectBytes += bo.size
		return false
	})

	for _, bucket := range m.buckets {
		for bo := bucket.head; bo != nil; bo = bo.nextCached {
			stats.CachedCount++
			stats.CachedBytes += bo.size
		}
	}

	m.addCountersLocked(stats)
}

// CalculateDetailedStatistics is CalculateStatistics with the size range of live and cached
// objects as well
func (m *Manager) CalculateDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.calculateDetailedStatisticsLocked(stats)
}

func (m *Manager) calculateDetailedStatisticsLocked(stats *memutils.DetailedStatistics) {
	stats.Clear()
	m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
		stats.AddObject(bo.size)
		return false
	})

	for _, bucket := range m.buckets {
		bucket.addStatistics(stats)
	}

	m.addCountersLocked(&stats.Statistics)
}

func (m *Manager) addCountersLocked(stats *memutils.Statistics) {
	stats.CacheHits = m.cacheHits
	stats.CacheMisses = m.cacheMisses
	stats.KernelCreates = m.kernelCreates
	stats.KernelCloses = m.kernelCloses
	stats.OpenMappings = m.mappings.open
	stats.CachedMappings = m.mappings.cached
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("ObjectCount").Int(stats.ObjectCount)
	json.Name("ObjectBytes").Int(stats.ObjectBytes)
	json.Name("CachedCount").Int(stats.CachedCount)
	json.Name("CachedBytes").Int(stats.CachedBytes)
	json.Name("CacheHits").Int(stats.CacheHits)
	json.Name("CacheMisses").Int(stats.CacheMisses)
	json.Name("KernelCreates").Int(stats.KernelCreates)
	json.Name("KernelCloses").Int(stats.KernelCloses)
	json.Name("OpenMappings").Int(stats.OpenMappings)
	json.Name("CachedMappings").Int(stats.CachedMappings)

	if stats.ObjectCount > 0 {
		json.Name("ObjectSizeMin").Int(stats.ObjectSizeMin)
		json.Name("ObjectSizeMax").Int(stats.ObjectSizeMax)
	}
	if stats.CachedCount > 0 {
		json.Name("CachedSizeMin").Int(stats.CachedSizeMin)
		json.Name("CachedSizeMax").Int(stats.CachedSizeMax)
	}
}

// BuildStatsString returns a JSON document describing the manager. If detailed is true, every
// cached and live buffer object is listed as well.
func (m *Manager) BuildStatsString(detailed bool) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	general.Name("Gen").Int(m.caps.Gen)
	general.Name("ApertureSize").Float64(float64(m.apertureSize))
	general.Name("ApertureThreshold").Float64(m.apertureThreshold)
	general.Name("MaxDependencies").Int(m.maxDependencies)
	general.Name("ReuseEnabled").Bool(m.reuseEnabled)
	general.Name("MappingCacheLimit").Int(m.mappings.limit)
	general.Name("HasLLC").Bool(m.caps.HasLLC)
	general.Name("HasWCMmap").Bool(m.caps.HasWCMmap)
	general.Name("HasSoftpin").Bool(m.caps.HasSoftpin)
	general.Name("Has48BitAddress").Bool(m.caps.Has48BitAddress)
	general.End()

	var stats memutils.DetailedStatistics
	m.calculateDetailedStatisticsLocked(&stats)

	total := root.Name("Total").Object()
	printStatistics(&total, &stats)
	total.End()

	buckets := root.Name("Buckets").Array()
	for _, bucket := range m.buckets {
		if bucket.count == 0 {
			continue
		}

		obj := buckets.Object()
		bucket.printParameters(&obj, detailed)
		obj.End()
	}
	buckets.End()

	if detailed {
		var live []*BufferObject
		m.handles.Iter(func(handle kernel.Handle, bo *BufferObject) bool {
			if bo.bucket == nil {
				live = append(live, bo)
			}
			return false
		})
		slices.SortFunc(live, func(left, right *BufferObject) bool {
			return left.handle < right.handle
		})

		liveArray := root.Name("LiveBuffers").Array()
		for _, bo := range live {
			obj := liveArray.Object()
			bo.printParameters(&obj)
			obj.Name("RefCount").Int(int(bo.refCount.Load()))
			obj.Name("MapCount").Int(bo.mapCount)
			obj.Name("Dependencies").Int(len(bo.dependencies))
			obj.End()
		}
		liveArray.End()
	}

	root.End()
	return string(writer.Bytes())
}
