package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nestoracle/internal/models"
)

func (s *Store) UpsertCurrencyWhitelist(ctx context.Context, item *models.CurrencyWhitelist) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Currency = strings.TrimSpace(item.Currency)
	if item.Currency == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"whitelisted", "final_fee", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetCurrencyWhitelist(ctx context.Context, currency string) (*models.CurrencyWhitelist, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CurrencyWhitelist
	err := s.db.WithContext(ctx).Model(&models.CurrencyWhitelist{}).Where("currency = ?", strings.TrimSpace(currency)).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListCurrencyWhitelist(ctx context.Context) ([]models.CurrencyWhitelist, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CurrencyWhitelist
	if err := s.db.WithContext(ctx).Model(&models.CurrencyWhitelist{}).Order("currency asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertIdentifierWhitelist(ctx context.Context, item *models.IdentifierWhitelist) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Identifier = strings.TrimSpace(item.Identifier)
	if item.Identifier == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "whitelisted", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetIdentifierWhitelist(ctx context.Context, identifier string) (*models.IdentifierWhitelist, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.IdentifierWhitelist
	err := s.db.WithContext(ctx).Model(&models.IdentifierWhitelist{}).Where("identifier = ?", strings.TrimSpace(identifier)).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListIdentifierWhitelist(ctx context.Context) ([]models.IdentifierWhitelist, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.IdentifierWhitelist
	if err := s.db.WithContext(ctx).Model(&models.IdentifierWhitelist{}).Order("identifier asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertEscalationManager(ctx context.Context, item *models.EscalationManager) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Account = strings.TrimSpace(item.Account)
	if item.Account == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "owner", "config", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetEscalationManager(ctx context.Context, account string) (*models.EscalationManager, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.EscalationManager
	err := s.readOne(ctx).Model(&models.EscalationManager{}).Where("account = ?", strings.TrimSpace(account)).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEscalationManagers(ctx context.Context) ([]models.EscalationManager, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EscalationManager
	if err := s.db.WithContext(ctx).Model(&models.EscalationManager{}).Order("account asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
