package models

import (
	"time"

	"gorm.io/datatypes"
)

// EscalationManager is a directory entry for a policy provider. Config holds the
// kind-specific state (flags, whitelists, arbitration resolutions).
type EscalationManager struct {
	Account   string         `gorm:"type:varchar(128);primaryKey"`
	Kind      string         `gorm:"type:varchar(40);not null"`
	Owner     string         `gorm:"type:varchar(128);not null"`
	Config    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (EscalationManager) TableName() string {
	return "escalation_managers"
}
