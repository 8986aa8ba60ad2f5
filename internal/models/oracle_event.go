package models

import (
	"time"

	"gorm.io/datatypes"
)

// OracleEvent is the audit record emitted by every accepted state transition.
type OracleEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	EventID   string         `gorm:"type:varchar(36);not null;uniqueIndex"`
	Component string         `gorm:"type:varchar(20);not null;index"`
	Kind      string         `gorm:"type:varchar(60);not null;index"`
	Subject   string         `gorm:"type:varchar(66);index"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (OracleEvent) TableName() string {
	return "oracle_events"
}
