// Package health watches module heartbeats and process resources, raising
// alerts into a bounded queue drained to the event ledger.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fincontrol/internal/bus"
	"fincontrol/internal/ledger"
	"fincontrol/internal/model"
	"fincontrol/internal/model/enum"
	"fincontrol/internal/obs"
	"fincontrol/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config holds monitor thresholds and queue sizing.
type Config struct {
	// HeartbeatTimeout after which a silent module is inferred offline.
	HeartbeatTimeout time.Duration
	// CPU usage thresholds in percent.
	CPUWarning  float64
	CPUCritical float64
	// Memory usage thresholds in percent.
	MemoryWarning  float64
	MemoryCritical float64
	// AlertQueueSize bounds the in-memory alert queue.
	AlertQueueSize int
	// AlertingEnabled republishes drained alerts on the bus.
	AlertingEnabled bool
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.CPUWarning <= 0 {
		c.CPUWarning = 70
	}
	if c.CPUCritical <= 0 {
		c.CPUCritical = 90
	}
	if c.MemoryWarning <= 0 {
		c.MemoryWarning = 75
	}
	if c.MemoryCritical <= 0 {
		c.MemoryCritical = 90
	}
	if c.AlertQueueSize <= 0 {
		c.AlertQueueSize = 128
	}
	return c
}

// EmergencyStatus is the coordinator surface the monitor needs.
type EmergencyStatus interface {
	Stopped() bool
}

// AckSink receives emergency acknowledgements arriving on SYSTEM_STATUS.
type AckSink interface {
	HandleAck(m bus.Message, ack bus.EmergencyAck)
}

// Alert is a queued observation awaiting the drain cycle. The queue is a
// performance cache; the ledger row written at drain time is the durable copy.
type Alert struct {
	Type         string
	Category     string
	Severity     enum.Severity
	SourceModule string
	Title        string
	Description  string
	CreatedAt    time.Time
}

// Monitor owns the module status view and the alert queue.
type Monitor struct {
	store     *ledger.Store
	bus       *bus.Bus
	metrics   *obs.Metrics
	emergency EmergencyStatus
	acks      AckSink
	sampler   *ResourceSampler
	cfg       Config
	source    string

	mu      sync.Mutex
	queue   []Alert
	lastCPU float64
	lastMem float64
}

// NewMonitor builds the monitor.
func NewMonitor(store *ledger.Store, b *bus.Bus, metrics *obs.Metrics, emergency EmergencyStatus, acks AckSink, cfg Config, source string) *Monitor {
	return &Monitor{
		store:     store,
		bus:       b,
		metrics:   metrics,
		emergency: emergency,
		acks:      acks,
		sampler:   NewResourceSampler(),
		cfg:       cfg.withDefaults(),
		source:    source,
	}
}

// Raise appends an alert, evicting the oldest when the queue is full.
func (m *Monitor) Raise(alert Alert) {
	if m == nil {
		return
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	if len(m.queue) >= m.cfg.AlertQueueSize {
		evicted := m.queue[0]
		m.queue = m.queue[1:]
		m.metrics.IncAlertEvicted()
		logs.Warnf("alert queue full, evicted oldest %s from %s", evicted.Type, evicted.SourceModule)
	}
	m.queue = append(m.queue, alert)
	m.mu.Unlock()
	m.metrics.IncAlertRaised()
}

// QueueLen reports the current queue depth.
func (m *Monitor) QueueLen() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Drain persists every queued alert as a SystemEvent and, when alerting is
// enabled, republishes it. A failed persist keeps the alert for the next run.
func (m *Monitor) Drain(ctx context.Context) (int, error) {
	if m == nil {
		return 0, exception.ErrNilInstance
	}
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	drained := 0
	for i, alert := range pending {
		event := model.SystemEvent{
			ID:           uuid.NewString(),
			Type:         alert.Type,
			Category:     alert.Category,
			Severity:     alert.Severity,
			SourceModule: alert.SourceModule,
			Title:        alert.Title,
			Description:  alert.Description,
			CreatedAt:    alert.CreatedAt,
		}
		if err := m.store.Events.Create(ctx, &event); err != nil {
			m.mu.Lock()
			m.queue = append(pending[i:], m.queue...)
			m.mu.Unlock()
			return drained, errors.Wrap(err, "persist alert event")
		}
		drained++
		m.metrics.IncAlertDrained()
		if m.cfg.AlertingEnabled {
			m.publishAlert(alert, event.ID)
		}
	}
	return drained, nil
}

func (m *Monitor) publishAlert(alert Alert, eventID string) {
	if m.bus == nil {
		return
	}
	payload := bus.AlertNotice{
		SubType:      bus.SubTypeAlertCreated,
		AlertType:    alert.Type,
		Severity:     alert.Severity,
		SourceModule: alert.SourceModule,
		Title:        alert.Title,
		Description:  alert.Description,
		EventID:      eventID,
	}
	msg, err := bus.NewMessage(bus.TypeSystemStatus, m.source, payload)
	if err != nil {
		logs.Errorf("build alert notice: %v", err)
		return
	}
	m.metrics.IncMessageOut(string(msg.Type))
	if err := m.bus.Publish(msg); err != nil {
		logs.Warnf("publish alert notice: %v", err)
	}
}

// ScanHeartbeats flags modules whose last heartbeat is older than the
// timeout, marking them offline and raising a module_timeout alert.
func (m *Monitor) ScanHeartbeats(ctx context.Context) (int, error) {
	if m == nil {
		return 0, exception.ErrNilInstance
	}
	modules, err := m.store.Modules.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list module status")
	}
	now := time.Now().UTC()
	flagged := 0
	for _, module := range modules {
		if module.Status == enum.ModuleOffline || !module.HeartbeatStale(now, m.cfg.HeartbeatTimeout) {
			continue
		}
		module.Status = enum.ModuleOffline
		if err := m.store.Modules.Upsert(ctx, module); err != nil {
			logs.Errorf("mark module %s offline: %v", module.ModuleName, err)
			continue
		}
		flagged++
		m.Raise(Alert{
			Type:         "module_timeout",
			Category:     "module_health",
			Severity:     enum.SeverityCritical,
			SourceModule: module.ModuleName,
			Title:        "module heartbeat timeout",
			Description: fmt.Sprintf("no heartbeat from %s since %s (timeout %s)",
				module.ModuleName, module.LastHeartbeat.Format(time.RFC3339), m.cfg.HeartbeatTimeout),
		})
	}
	return flagged, nil
}

// SampleResources reads process usage and raises threshold alerts, with
// severity scaled to which threshold was crossed.
func (m *Monitor) SampleResources(_ context.Context) ResourceSample {
	if m == nil {
		return ResourceSample{}
	}
	sample := m.sampler.Sample()
	m.mu.Lock()
	m.lastCPU = sample.CPUUsage
	m.lastMem = sample.MemoryUsage
	m.mu.Unlock()

	m.thresholdAlert("high_cpu", sample.CPUUsage, m.cfg.CPUWarning, m.cfg.CPUCritical)
	m.thresholdAlert("high_memory", sample.MemoryUsage, m.cfg.MemoryWarning, m.cfg.MemoryCritical)
	return sample
}

func (m *Monitor) thresholdAlert(alertType string, value, warning, critical float64) {
	var severity enum.Severity
	switch {
	case value >= critical:
		severity = enum.SeverityCritical
	case value >= warning:
		severity = enum.SeverityWarning
	default:
		return
	}
	m.Raise(Alert{
		Type:         alertType,
		Category:     "resources",
		Severity:     severity,
		SourceModule: m.source,
		Title:        alertType + " threshold crossed",
		Description:  fmt.Sprintf("%s at %.1f%% (warning %.1f%%, critical %.1f%%)", alertType, value, warning, critical),
	})
}

// HealthScore is 100 minus weighted penalties, clamped to [0,100].
func (m *Monitor) HealthScore(ctx context.Context) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	cpu, mem := m.lastCPU, m.lastMem
	m.mu.Unlock()

	score := 100
	if cpu >= m.cfg.CPUWarning {
		score -= 20
	}
	if mem >= m.cfg.MemoryWarning {
		score -= 20
	}
	modules, err := m.store.Modules.List(ctx)
	if err != nil {
		logs.Errorf("list modules for health score: %v", err)
	}
	for _, module := range modules {
		if module.Status != enum.ModuleHealthy {
			score -= 10
		}
	}
	if m.emergency != nil && m.emergency.Stopped() {
		score -= 30
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func moduleHealth(hb bus.Heartbeat, cfg Config) enum.ModuleHealth {
	switch {
	case hb.CPUUsage >= cfg.CPUCritical || hb.MemoryUsage >= cfg.MemoryCritical:
		return enum.ModuleCritical
	case hb.CPUUsage >= cfg.CPUWarning || hb.MemoryUsage >= cfg.MemoryWarning:
		return enum.ModuleWarning
	default:
		return enum.ModuleHealthy
	}
}

// HandleStatus is the SYSTEM_STATUS bus handler. It routes heartbeats,
// emergency acks and status requests; response payloads from the engines
// arrive on the same topic and are ignored here.
func (m *Monitor) HandleStatus(ctx context.Context, msg bus.Message) {
	if m == nil || msg.Source == m.source {
		return
	}
	m.metrics.IncMessageIn(string(msg.Type))
	decoded, err := bus.DecodePayload(msg)
	if err != nil {
		logs.Warnf("decode status payload from %s: %v", msg.Source, err)
		return
	}
	switch payload := decoded.(type) {
	case bus.Heartbeat:
		m.handleHeartbeat(ctx, payload)
	case bus.EmergencyAck:
		if m.acks != nil {
			m.acks.HandleAck(msg, payload)
		}
	case bus.StatusRequest:
		m.replyStatus(ctx, msg)
	}
}

func (m *Monitor) handleHeartbeat(ctx context.Context, hb bus.Heartbeat) {
	if hb.ModuleName == "" {
		logs.Warnf("heartbeat without module name dropped")
		return
	}
	status := model.ModuleStatus{
		ModuleName:    hb.ModuleName,
		Status:        moduleHealth(hb, m.cfg),
		CPUUsage:      hb.CPUUsage,
		MemoryUsage:   hb.MemoryUsage,
		ErrorCount:    hb.ErrorCount,
		LastHeartbeat: time.Now().UTC(),
	}
	if err := m.store.Modules.Upsert(ctx, status); err != nil {
		logs.Errorf("upsert heartbeat for %s: %v", hb.ModuleName, err)
	}
}

func (m *Monitor) replyStatus(ctx context.Context, req bus.Message) {
	modules, err := m.store.Modules.List(ctx)
	if err != nil {
		logs.Errorf("list modules for status report: %v", err)
	}
	pending, err := m.store.Budgets.ListPending(ctx)
	if err != nil {
		logs.Errorf("list pending budgets for status report: %v", err)
	}
	report := bus.StatusReport{
		SubType:        bus.SubTypeStatusReport,
		HealthScore:    m.HealthScore(ctx),
		EmergencyStop:  m.emergency != nil && m.emergency.Stopped(),
		Modules:        modules,
		PendingBudgets: len(pending),
	}
	reply, err := req.Reply(m.source, report)
	if err != nil {
		logs.Errorf("build status report: %v", err)
		return
	}
	m.metrics.IncMessageOut(string(reply.Type))
	if err := m.bus.Publish(reply); err != nil {
		logs.Warnf("publish status report: %v", err)
	}
}
