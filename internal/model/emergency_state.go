package model

import (
	"time"

	"fincontrol/internal/model/enum"
)

// EmergencyStateID is the fixed primary key of the singleton row.
const EmergencyStateID = 1

// EmergencyState mirrors the coordinator's in-memory state so it survives a
// restart. The coordinator is the only writer.
type EmergencyState struct {
	ID          int                  `gorm:"column:id;primaryKey" json:"id"`
	Active      bool                 `gorm:"column:active" json:"active"`
	Reason      string               `gorm:"column:reason" json:"reason"`
	InitiatedBy string               `gorm:"column:initiated_by" json:"initiatedBy"`
	Scope       enum.EmergencyScope  `gorm:"column:scope" json:"scope"`
	TargetID    string               `gorm:"column:target_id" json:"targetId,omitempty"`
	Severity    enum.CommandSeverity `gorm:"column:severity" json:"severity"`
	StoppedAt   time.Time            `gorm:"column:stopped_at" json:"stoppedAt,omitempty"`
	ResumedAt   time.Time            `gorm:"column:resumed_at" json:"resumedAt,omitempty"`
	UpdatedAt   time.Time            `gorm:"column:updated_at" json:"updatedAt"`
}

func (EmergencyState) TableName() string { return "emergency_state" }
