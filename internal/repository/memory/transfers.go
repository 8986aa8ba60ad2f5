package memory

import (
	"context"
	"strings"
	"time"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) CreateTransfer(ctx context.Context, item *models.Transfer) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[item.ID]; ok {
		return repository.ErrDuplicate
	}
	ts := now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = ts
	}
	item.UpdatedAt = ts
	s.transfers[item.ID] = *item
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.transfers[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) SaveTransfer(ctx context.Context, item *models.Transfer) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.transfers[item.ID]; ok && item.CreatedAt.IsZero() {
		item.CreatedAt = prev.CreatedAt
	}
	item.UpdatedAt = now()
	s.transfers[item.ID] = *item
	return nil
}

func (s *Store) ListTransfers(ctx context.Context, params repository.ListTransfersParams) ([]models.Transfer, error) {
	s.mu.RLock()
	out := make([]models.Transfer, 0, len(s.transfers))
	for _, item := range s.transfers {
		if !match(params.Component, item.Component) || !match(params.Purpose, item.Purpose) {
			continue
		}
		if !match(params.Status, item.Status) || !match(params.Subject, item.Subject) {
			continue
		}
		if params.ExcludePurpose != nil && strings.TrimSpace(*params.ExcludePurpose) == item.Purpose {
			continue
		}
		out = append(out, item)
	}
	s.mu.RUnlock()
	sortByTime(out, descending(params.Asc), func(t models.Transfer) time.Time { return t.CreatedAt }, func(t models.Transfer) string { return t.ID })
	return page(out, params.Limit, params.Offset, 100), nil
}
