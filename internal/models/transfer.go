package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is an outbound custody transfer. Settlement payouts use the ID as the payout ticket.
type Transfer struct {
	ID        string `gorm:"type:varchar(36);primaryKey"`
	Component string `gorm:"type:varchar(20);not null;index"`
	Purpose   string `gorm:"type:varchar(40);not null;index"`
	Subject   string `gorm:"type:varchar(66);index"`

	Currency  string          `gorm:"type:varchar(128);not null"`
	Recipient string          `gorm:"type:varchar(128);not null;index"`
	Amount    decimal.Decimal `gorm:"type:numeric(78,0);not null"`

	Status    string `gorm:"type:varchar(20);not null;default:'pending';index"`
	Attempts  int    `gorm:"not null;default:0"`
	LastError string `gorm:"type:text"`

	CompletedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Transfer) TableName() string {
	return "transfers"
}
