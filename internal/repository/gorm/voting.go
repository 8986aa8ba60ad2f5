package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) CreatePriceRequest(ctx context.Context, item *models.PriceRequest) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateCreateErr(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetPriceRequest(ctx context.Context, requestID string) (*models.PriceRequest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, nil
	}
	var item models.PriceRequest
	err := s.readOne(ctx).Model(&models.PriceRequest{}).Where("request_id = ?", requestID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePriceRequest(ctx context.Context, item *models.PriceRequest) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) priceRequestQuery(ctx context.Context, params repository.ListPriceRequestsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.PriceRequest{})
	if v, ok := trimmed(params.Phase); ok {
		query = query.Where("phase = ?", v)
	}
	if params.EmergencyRequired != nil {
		query = query.Where("emergency_required = ?", *params.EmergencyRequired)
	}
	if params.CommitStartedBefore != nil {
		query = query.Where("commit_start_time <= ?", *params.CommitStartedBefore)
	}
	if params.RevealStartedBefore != nil {
		query = query.Where("reveal_start_time IS NOT NULL").Where("reveal_start_time <= ?", *params.RevealStartedBefore)
	}
	return query
}

func (s *Store) ListPriceRequests(ctx context.Context, params repository.ListPriceRequestsParams) ([]models.PriceRequest, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrder(s.priceRequestQuery(ctx, params), params.OrderBy, params.Asc, "created_at")
	var items []models.PriceRequest
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPriceRequests(ctx context.Context, params repository.ListPriceRequestsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.priceRequestQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CreateVoteCommitment(ctx context.Context, item *models.VoteCommitment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translateCreateErr(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetVoteCommitment(ctx context.Context, requestID, voter string) (*models.VoteCommitment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.VoteCommitment
	err := s.readOne(ctx).
		Model(&models.VoteCommitment{}).
		Where("request_id = ?", strings.TrimSpace(requestID)).
		Where("voter = ?", strings.TrimSpace(voter)).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveVoteCommitment(ctx context.Context, item *models.VoteCommitment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) ListVoteCommitments(ctx context.Context, requestID string) ([]models.VoteCommitment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.VoteCommitment
	err := s.db.WithContext(ctx).
		Model(&models.VoteCommitment{}).
		Where("request_id = ?", strings.TrimSpace(requestID)).
		Order("seq asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
