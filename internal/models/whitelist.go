package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CurrencyWhitelist struct {
	Currency    string          `gorm:"type:varchar(128);primaryKey"`
	Whitelisted bool            `gorm:"not null;default:true"`
	FinalFee    decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0"`
	UpdatedAt   time.Time       `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CurrencyWhitelist) TableName() string {
	return "currency_whitelist"
}

type IdentifierWhitelist struct {
	Identifier  string    `gorm:"type:varchar(66);primaryKey"`
	Label       string    `gorm:"type:varchar(64)"`
	Whitelisted bool      `gorm:"not null;default:true"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (IdentifierWhitelist) TableName() string {
	return "identifier_whitelist"
}
