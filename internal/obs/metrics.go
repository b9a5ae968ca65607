// Package obs collects lightweight counters and latency stats for the
// control core.
package obs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

// Metrics aggregates domain counters. All methods are nil-safe so wiring can
// omit observation in tests.
type Metrics struct {
	mu          sync.RWMutex
	messagesIn  map[string]uint64
	messagesOut map[string]uint64

	budgetSubmitted    uint64
	budgetAutoApproved uint64
	budgetApproved     uint64
	budgetRejected     uint64
	budgetCancelled    uint64
	budgetSwept        uint64

	allocationsCreated uint64
	allocationFailures uint64
	allocationsFrozen  uint64
	allocationsThawed  uint64

	emergencyStops   uint64
	emergencyResumes uint64

	alertsRaised  uint64
	alertsEvicted uint64
	alertsDrained uint64

	handlerLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metric values.
type Snapshot struct {
	MessagesIn  map[string]uint64
	MessagesOut map[string]uint64

	BudgetSubmitted    uint64
	BudgetAutoApproved uint64
	BudgetApproved     uint64
	BudgetRejected     uint64
	BudgetCancelled    uint64
	BudgetSwept        uint64

	AllocationsCreated uint64
	AllocationFailures uint64
	AllocationsFrozen  uint64
	AllocationsThawed  uint64

	EmergencyStops   uint64
	EmergencyResumes uint64

	AlertsRaised  uint64
	AlertsEvicted uint64
	AlertsDrained uint64

	HandlerLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{
		messagesIn:  make(map[string]uint64),
		messagesOut: make(map[string]uint64),
	}
}

// IncMessageIn counts a consumed message by type.
func (m *Metrics) IncMessageIn(msgType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.messagesIn[msgType]++
	m.mu.Unlock()
}

// IncMessageOut counts a published message by type.
func (m *Metrics) IncMessageOut(msgType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.messagesOut[msgType]++
	m.mu.Unlock()
}

func (m *Metrics) IncBudgetSubmitted() {
	if m != nil {
		atomic.AddUint64(&m.budgetSubmitted, 1)
	}
}

func (m *Metrics) IncBudgetAutoApproved() {
	if m != nil {
		atomic.AddUint64(&m.budgetAutoApproved, 1)
	}
}

func (m *Metrics) IncBudgetApproved() {
	if m != nil {
		atomic.AddUint64(&m.budgetApproved, 1)
	}
}

func (m *Metrics) IncBudgetRejected() {
	if m != nil {
		atomic.AddUint64(&m.budgetRejected, 1)
	}
}

func (m *Metrics) IncBudgetCancelled() {
	if m != nil {
		atomic.AddUint64(&m.budgetCancelled, 1)
	}
}

func (m *Metrics) IncBudgetSwept() {
	if m != nil {
		atomic.AddUint64(&m.budgetSwept, 1)
	}
}

func (m *Metrics) IncAllocationCreated() {
	if m != nil {
		atomic.AddUint64(&m.allocationsCreated, 1)
	}
}

func (m *Metrics) IncAllocationFailure() {
	if m != nil {
		atomic.AddUint64(&m.allocationFailures, 1)
	}
}

func (m *Metrics) IncAllocationFrozen() {
	if m != nil {
		atomic.AddUint64(&m.allocationsFrozen, 1)
	}
}

func (m *Metrics) IncAllocationThawed() {
	if m != nil {
		atomic.AddUint64(&m.allocationsThawed, 1)
	}
}

func (m *Metrics) IncEmergencyStop() {
	if m != nil {
		atomic.AddUint64(&m.emergencyStops, 1)
	}
}

func (m *Metrics) IncEmergencyResume() {
	if m != nil {
		atomic.AddUint64(&m.emergencyResumes, 1)
	}
}

func (m *Metrics) IncAlertRaised() {
	if m != nil {
		atomic.AddUint64(&m.alertsRaised, 1)
	}
}

func (m *Metrics) IncAlertEvicted() {
	if m != nil {
		atomic.AddUint64(&m.alertsEvicted, 1)
	}
}

func (m *Metrics) IncAlertDrained() {
	if m != nil {
		atomic.AddUint64(&m.alertsDrained, 1)
	}
}

// ObserveHandler tracks bus handler dispatch latency.
func (m *Metrics) ObserveHandler(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.handlerLatency.Observe(d)
}

// Observe records one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	v := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, v)
	for {
		old := atomic.LoadUint64(&s.min)
		if old != 0 && old <= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, old, v) {
			break
		}
	}
	for {
		old := atomic.LoadUint64(&s.max)
		if old >= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, old, v) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	sum := atomic.LoadUint64(&s.sum)
	out := LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		out.Avg = time.Duration(sum / count)
	}
	return out
}

// Snapshot captures the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	in := make(map[string]uint64, len(m.messagesIn))
	for k, v := range m.messagesIn {
		in[k] = v
	}
	out := make(map[string]uint64, len(m.messagesOut))
	for k, v := range m.messagesOut {
		out[k] = v
	}
	m.mu.RUnlock()

	return Snapshot{
		MessagesIn:  in,
		MessagesOut: out,

		BudgetSubmitted:    atomic.LoadUint64(&m.budgetSubmitted),
		BudgetAutoApproved: atomic.LoadUint64(&m.budgetAutoApproved),
		BudgetApproved:     atomic.LoadUint64(&m.budgetApproved),
		BudgetRejected:     atomic.LoadUint64(&m.budgetRejected),
		BudgetCancelled:    atomic.LoadUint64(&m.budgetCancelled),
		BudgetSwept:        atomic.LoadUint64(&m.budgetSwept),

		AllocationsCreated: atomic.LoadUint64(&m.allocationsCreated),
		AllocationFailures: atomic.LoadUint64(&m.allocationFailures),
		AllocationsFrozen:  atomic.LoadUint64(&m.allocationsFrozen),
		AllocationsThawed:  atomic.LoadUint64(&m.allocationsThawed),

		EmergencyStops:   atomic.LoadUint64(&m.emergencyStops),
		EmergencyResumes: atomic.LoadUint64(&m.emergencyResumes),

		AlertsRaised:  atomic.LoadUint64(&m.alertsRaised),
		AlertsEvicted: atomic.LoadUint64(&m.alertsEvicted),
		AlertsDrained: atomic.LoadUint64(&m.alertsDrained),

		HandlerLatency: m.handlerLatency.snapshot(),
	}
}

// LogSnapshot writes a one-line summary, called on a schedule.
func (m *Metrics) LogSnapshot() {
	if m == nil {
		return
	}
	s := m.Snapshot()
	logs.Infof("metrics: in=%v out=%v budget{sub=%d auto=%d ok=%d rej=%d swept=%d} alloc{ok=%d fail=%d frozen=%d thawed=%d} emergency{stop=%d resume=%d} alerts{raised=%d evicted=%d drained=%d} handler=%+v",
		s.MessagesIn, s.MessagesOut,
		s.BudgetSubmitted, s.BudgetAutoApproved, s.BudgetApproved, s.BudgetRejected, s.BudgetSwept,
		s.AllocationsCreated, s.AllocationFailures, s.AllocationsFrozen, s.AllocationsThawed,
		s.EmergencyStops, s.EmergencyResumes,
		s.AlertsRaised, s.AlertsEvicted, s.AlertsDrained,
		s.HandlerLatency)
}
