package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) CreateTransfer(ctx context.Context, item *models.Transfer) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateCreateErr(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Transfer
	err := s.readOne(ctx).Model(&models.Transfer{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveTransfer(ctx context.Context, item *models.Transfer) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListTransfers(ctx context.Context, params repository.ListTransfersParams) ([]models.Transfer, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Transfer{})
	if v, ok := trimmed(params.Component); ok {
		query = query.Where("component = ?", v)
	}
	if v, ok := trimmed(params.Purpose); ok {
		query = query.Where("purpose = ?", v)
	}
	if v, ok := trimmed(params.ExcludePurpose); ok {
		query = query.Where("purpose <> ?", v)
	}
	if v, ok := trimmed(params.Status); ok {
		query = query.Where("status = ?", v)
	}
	if v, ok := trimmed(params.Subject); ok {
		query = query.Where("subject = ?", v)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Transfer
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
