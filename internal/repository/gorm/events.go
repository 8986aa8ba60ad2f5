package gormrepository

import (
	"context"

	"gorm.io/gorm"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) InsertOracleEvent(ctx context.Context, item *models.OracleEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) eventQuery(ctx context.Context, params repository.ListOracleEventsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.OracleEvent{})
	if v, ok := trimmed(params.Component); ok {
		query = query.Where("component = ?", v)
	}
	if v, ok := trimmed(params.Kind); ok {
		query = query.Where("kind = ?", v)
	}
	if v, ok := trimmed(params.Subject); ok {
		query = query.Where("subject = ?", v)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListOracleEvents(ctx context.Context, params repository.ListOracleEventsParams) ([]models.OracleEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.eventQuery(ctx, params), params.OrderBy, params.Asc, "id")
	var items []models.OracleEvent
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOracleEvents(ctx context.Context, params repository.ListOracleEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.eventQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
