package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// ModuleStatus is one row per module, overwritten on each heartbeat.
type ModuleStatus struct {
	ModuleName    string            `gorm:"column:module_name;primaryKey" json:"moduleName"`
	Status        enum.ModuleHealth `gorm:"column:status" json:"status"`
	CPUUsage      float64           `gorm:"column:cpu_usage" json:"cpuUsage"`
	MemoryUsage   float64           `gorm:"column:memory_usage" json:"memoryUsage"`
	ErrorCount    int64             `gorm:"column:error_count" json:"errorCount"`
	LastHeartbeat time.Time         `gorm:"column:last_heartbeat" json:"lastHeartbeat"`
	UpdatedAt     time.Time         `gorm:"column:updated_at" json:"updatedAt"`
}

func (ModuleStatus) TableName() string { return "module_status" }

// HeartbeatStale reports whether the module should be inferred offline.
func (m ModuleStatus) HeartbeatStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(m.LastHeartbeat) > timeout
}
