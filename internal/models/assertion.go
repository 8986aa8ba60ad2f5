package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Assertion is a bonded claim. Rows are never deleted.
type Assertion struct {
	AssertionID string `gorm:"type:varchar(66);primaryKey"`
	DomainID    string `gorm:"type:varchar(66);not null"`
	Identifier  string `gorm:"type:varchar(66);not null;index"`
	Claim       string `gorm:"type:varchar(66);not null"`

	Asserter          string  `gorm:"type:varchar(128);not null;index"`
	Caller            string  `gorm:"type:varchar(128);not null"`
	Disputer          *string `gorm:"type:varchar(128);index"`
	CallbackRecipient *string `gorm:"type:varchar(128)"`
	EscalationManager *string `gorm:"type:varchar(128);index"`

	// Escalation manager policy captured at creation.
	ArbitrateViaEscalationManager bool `gorm:"not null;default:false"`
	DiscardOracle                 bool `gorm:"not null;default:false"`
	ValidateDisputers             bool `gorm:"not null;default:false"`

	Currency       string          `gorm:"type:varchar(128);not null;index"`
	Bond           decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	Liveness       time.Duration   `gorm:"not null"`
	AssertionTime  time.Time       `gorm:"type:timestamptz;not null"`
	ExpirationTime time.Time       `gorm:"type:timestamptz;not null;index"`

	DisputedAt       *time.Time `gorm:"type:timestamptz"`
	DisputeArbiter   string     `gorm:"type:varchar(128)"`
	DisputeRequestID *string    `gorm:"type:varchar(66);index"`

	Settled                     bool       `gorm:"not null;default:false;index"`
	SettlementResolution        bool       `gorm:"not null;default:false"`
	SettlementPending           bool       `gorm:"not null;default:false;index"`
	SettlementInFlight          bool       `gorm:"not null;default:false"`
	PendingSettlementResolution bool       `gorm:"not null;default:false"`
	PayoutTicket                string     `gorm:"type:varchar(36)"`
	PayoutAttempts              int        `gorm:"not null;default:0"`
	FeePaid                     bool       `gorm:"not null;default:false"`
	SettledAt                   *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Assertion) TableName() string {
	return "assertions"
}
