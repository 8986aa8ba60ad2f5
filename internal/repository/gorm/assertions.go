package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) CreateAssertion(ctx context.Context, item *models.Assertion) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateCreateErr(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetAssertion(ctx context.Context, assertionID string) (*models.Assertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	assertionID = strings.TrimSpace(assertionID)
	if assertionID == "" {
		return nil, nil
	}
	var item models.Assertion
	err := s.readOne(ctx).Model(&models.Assertion{}).Where("assertion_id = ?", assertionID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveAssertion(ctx context.Context, item *models.Assertion) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) assertionQuery(ctx context.Context, params repository.ListAssertionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Assertion{})
	if v, ok := trimmed(params.Asserter); ok {
		query = query.Where("asserter = ?", v)
	}
	if v, ok := trimmed(params.Currency); ok {
		query = query.Where("currency = ?", v)
	}
	if params.Disputed != nil {
		if *params.Disputed {
			query = query.Where("disputer IS NOT NULL")
		} else {
			query = query.Where("disputer IS NULL")
		}
	}
	if params.Settled != nil {
		query = query.Where("settled = ?", *params.Settled)
	}
	if params.Pending != nil {
		query = query.Where("settlement_pending = ?", *params.Pending)
	}
	if v, ok := trimmed(params.DisputeRequestID); ok {
		query = query.Where("dispute_request_id = ?", v)
	}
	return query
}

func (s *Store) ListAssertions(ctx context.Context, params repository.ListAssertionsParams) ([]models.Assertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.assertionQuery(ctx, params), params.OrderBy, params.Asc, "created_at")
	var items []models.Assertion
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAssertions(ctx context.Context, params repository.ListAssertionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.assertionQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListSettleableAssertions(ctx context.Context, now time.Time, limit int) ([]models.Assertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Assertion
	err := s.db.WithContext(ctx).
		Model(&models.Assertion{}).
		Where("disputer IS NULL").
		Where("settled = ?", false).
		Where("settlement_pending = ?", false).
		Where("expiration_time <= ?", now).
		Order("expiration_time asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStuckSettlements(ctx context.Context, limit int) ([]models.Assertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Assertion
	err := s.db.WithContext(ctx).
		Model(&models.Assertion{}).
		Where("settled = ?", false).
		Where("settlement_pending = ?", true).
		Where("settlement_in_flight = ?", false).
		Order("updated_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
