package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceRequest struct {
	RequestID     string    `gorm:"type:varchar(66);primaryKey"`
	Identifier    string    `gorm:"type:varchar(64);not null;index"`
	Timestamp     time.Time `gorm:"type:timestamptz;not null"`
	TimestampNs   int64     `gorm:"not null"`
	AncillaryData []byte    `gorm:"type:bytea"`
	Requester     string    `gorm:"type:varchar(128);not null"`
	Nonce         uint64    `gorm:"not null"`

	Status string `gorm:"type:varchar(16);not null;default:'Pending';index"`
	Phase  string `gorm:"type:varchar(16);not null;default:'Commit';index"`

	CommitStartTime time.Time  `gorm:"type:timestamptz;not null"`
	RevealStartTime *time.Time `gorm:"type:timestamptz"`

	ResolvedPrice       *decimal.Decimal `gorm:"type:numeric(40,0)"`
	TotalCommittedStake decimal.Decimal  `gorm:"type:numeric(78,0);not null;default:0"`
	RevealedStake       decimal.Decimal  `gorm:"type:numeric(78,0);not null;default:0"`
	VoterCount          int              `gorm:"not null;default:0"`

	LowParticipationExtensions int        `gorm:"not null;default:0"`
	EmergencyRequired          bool       `gorm:"not null;default:false;index"`
	ResolvedAt                 *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (PriceRequest) TableName() string {
	return "price_requests"
}
