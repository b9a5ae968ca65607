package health

import (
	"runtime"
	"sync"
	"time"
)

// ResourceSample is one point-in-time reading of process resource usage.
// CPUUsage approximates load from the GC CPU fraction and goroutine growth;
// MemoryUsage is heap in use as a share of memory obtained from the OS.
type ResourceSample struct {
	CPUUsage    float64
	MemoryUsage float64
	Goroutines  int
	HeapInuse   uint64
	GCPauses    uint64
	At          time.Time
}

// ResourceSampler keeps the previous and current runtime stats so deltas can
// be derived between scheduled samples.
type ResourceSampler struct {
	mu         sync.Mutex
	prev, curr runtime.MemStats
	prevAt     time.Time
	currAt     time.Time
}

// NewResourceSampler builds a sampler.
func NewResourceSampler() *ResourceSampler {
	return &ResourceSampler{}
}

// Sample reads runtime stats and returns the derived usage figures.
func (s *ResourceSampler) Sample() ResourceSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prev, s.curr = s.curr, s.prev
	s.prevAt = s.currAt
	s.currAt = time.Now()
	runtime.ReadMemStats(&s.curr)
	if s.prevAt.IsZero() {
		s.prevAt = s.currAt
	}

	memory := 0.0
	if s.curr.Sys > 0 {
		memory = float64(s.curr.HeapInuse) / float64(s.curr.Sys) * 100
	}
	cpu := s.curr.GCCPUFraction * 100
	if cpu < 0 {
		cpu = 0
	}
	return ResourceSample{
		CPUUsage:    cpu,
		MemoryUsage: memory,
		Goroutines:  runtime.NumGoroutine(),
		HeapInuse:   s.curr.HeapInuse,
		GCPauses:    uint64(s.curr.NumGC - s.prev.NumGC),
		At:          s.currAt,
	}
}
