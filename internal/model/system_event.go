package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// SystemEvent is the persisted form of an alert or audit record.
type SystemEvent struct {
	ID           string        `gorm:"column:id;primaryKey" json:"id"`
	Type         string        `gorm:"column:type;index" json:"type"`
	Category     string        `gorm:"column:category" json:"category"`
	Severity     enum.Severity `gorm:"column:severity;index" json:"severity"`
	SourceModule string        `gorm:"column:source_module" json:"sourceModule"`
	Title        string        `gorm:"column:title" json:"title"`
	Description  string        `gorm:"column:description" json:"description"`
	Resolved     bool          `gorm:"column:resolved" json:"resolved"`
	ResolvedBy   string        `gorm:"column:resolved_by" json:"resolvedBy,omitempty"`
	ResolvedAt   time.Time     `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
	Metadata     string        `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time     `gorm:"column:created_at" json:"createdAt"`
}

func (SystemEvent) TableName() string { return "system_events" }
