package db

import (
	"nestoracle/internal/models"
)

// AutoMigrate creates or updates every table the oracle, the voting engine
// and the keeper read.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}
	return db.Gorm.AutoMigrate(
		&models.Assertion{},
		&models.PriceRequest{},
		&models.VoteCommitment{},
		&models.Transfer{},
		&models.OracleEvent{},
		&models.CurrencyWhitelist{},
		&models.IdentifierWhitelist{},
		&models.EscalationManager{},
		&models.SystemSetting{},
	)
}
