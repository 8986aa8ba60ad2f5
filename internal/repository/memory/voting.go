package memory

import (
	"context"
	"strings"
	"time"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) CreatePriceRequest(ctx context.Context, item *models.PriceRequest) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[item.RequestID]; ok {
		return repository.ErrDuplicate
	}
	ts := now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = ts
	}
	item.UpdatedAt = ts
	stored := *item
	stored.AncillaryData = cloneBytes(item.AncillaryData)
	s.requests[item.RequestID] = stored
	return nil
}

func (s *Store) GetPriceRequest(ctx context.Context, requestID string) (*models.PriceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.requests[strings.TrimSpace(requestID)]
	if !ok {
		return nil, nil
	}
	item.AncillaryData = cloneBytes(item.AncillaryData)
	return &item, nil
}

func (s *Store) SavePriceRequest(ctx context.Context, item *models.PriceRequest) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.requests[item.RequestID]; ok && item.CreatedAt.IsZero() {
		item.CreatedAt = prev.CreatedAt
	}
	item.UpdatedAt = now()
	stored := *item
	stored.AncillaryData = cloneBytes(item.AncillaryData)
	s.requests[item.RequestID] = stored
	return nil
}

func (s *Store) filterPriceRequests(params repository.ListPriceRequestsParams) []models.PriceRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PriceRequest, 0, len(s.requests))
	for _, item := range s.requests {
		if !match(params.Phase, item.Phase) {
			continue
		}
		if params.EmergencyRequired != nil && *params.EmergencyRequired != item.EmergencyRequired {
			continue
		}
		if params.CommitStartedBefore != nil && item.CommitStartTime.After(*params.CommitStartedBefore) {
			continue
		}
		if params.RevealStartedBefore != nil && (item.RevealStartTime == nil || item.RevealStartTime.After(*params.RevealStartedBefore)) {
			continue
		}
		item.AncillaryData = cloneBytes(item.AncillaryData)
		out = append(out, item)
	}
	return out
}

func (s *Store) ListPriceRequests(ctx context.Context, params repository.ListPriceRequestsParams) ([]models.PriceRequest, error) {
	items := s.filterPriceRequests(params)
	at := func(r models.PriceRequest) time.Time { return r.CreatedAt }
	switch strings.TrimSpace(params.OrderBy) {
	case "commit_start_time":
		at = func(r models.PriceRequest) time.Time { return r.CommitStartTime }
	case "reveal_start_time":
		at = func(r models.PriceRequest) time.Time {
			if r.RevealStartTime == nil {
				return time.Time{}
			}
			return *r.RevealStartTime
		}
	}
	sortByTime(items, descending(params.Asc), at, func(r models.PriceRequest) string { return r.RequestID })
	return page(items, params.Limit, params.Offset, 100), nil
}

func (s *Store) CountPriceRequests(ctx context.Context, params repository.ListPriceRequestsParams) (int64, error) {
	return int64(len(s.filterPriceRequests(params))), nil
}

func (s *Store) CreateVoteCommitment(ctx context.Context, item *models.VoteCommitment) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.commitments[item.RequestID] {
		if existing.Voter == item.Voter || existing.Seq == item.Seq {
			return repository.ErrDuplicate
		}
	}
	s.nextCommitmentID++
	item.ID = s.nextCommitmentID
	item.UpdatedAt = now()
	s.commitments[item.RequestID] = append(s.commitments[item.RequestID], *item)
	return nil
}

func (s *Store) GetVoteCommitment(ctx context.Context, requestID, voter string) (*models.VoteCommitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.commitments[strings.TrimSpace(requestID)] {
		if item.Voter == strings.TrimSpace(voter) {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) SaveVoteCommitment(ctx context.Context, item *models.VoteCommitment) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.commitments[item.RequestID]
	for i := range list {
		if list[i].Voter == item.Voter {
			item.UpdatedAt = now()
			list[i] = *item
			return nil
		}
	}
	return nil
}

func (s *Store) ListVoteCommitments(ctx context.Context, requestID string) ([]models.VoteCommitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.commitments[strings.TrimSpace(requestID)]
	out := make([]models.VoteCommitment, len(list))
	copy(out, list)
	// Rows are appended in seq order, so the slice is already the commit order.
	return out, nil
}
