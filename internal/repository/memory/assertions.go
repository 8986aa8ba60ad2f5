package memory

import (
	"context"
	"strings"
	"time"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) CreateAssertion(ctx context.Context, item *models.Assertion) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assertions[item.AssertionID]; ok {
		return repository.ErrDuplicate
	}
	ts := now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = ts
	}
	item.UpdatedAt = ts
	s.assertions[item.AssertionID] = *item
	return nil
}

func (s *Store) GetAssertion(ctx context.Context, assertionID string) (*models.Assertion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.assertions[strings.TrimSpace(assertionID)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) SaveAssertion(ctx context.Context, item *models.Assertion) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.assertions[item.AssertionID]; ok && item.CreatedAt.IsZero() {
		item.CreatedAt = prev.CreatedAt
	}
	item.UpdatedAt = now()
	s.assertions[item.AssertionID] = *item
	return nil
}

func (s *Store) filterAssertions(params repository.ListAssertionsParams) []models.Assertion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Assertion, 0, len(s.assertions))
	for _, item := range s.assertions {
		if !match(params.Asserter, item.Asserter) || !match(params.Currency, item.Currency) {
			continue
		}
		if params.Disputed != nil && *params.Disputed != (item.Disputer != nil) {
			continue
		}
		if params.Settled != nil && *params.Settled != item.Settled {
			continue
		}
		if params.Pending != nil && *params.Pending != item.SettlementPending {
			continue
		}
		if params.DisputeRequestID != nil && (item.DisputeRequestID == nil || *item.DisputeRequestID != strings.TrimSpace(*params.DisputeRequestID)) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) ListAssertions(ctx context.Context, params repository.ListAssertionsParams) ([]models.Assertion, error) {
	items := s.filterAssertions(params)
	at := func(a models.Assertion) time.Time { return a.CreatedAt }
	switch strings.TrimSpace(params.OrderBy) {
	case "expiration_time":
		at = func(a models.Assertion) time.Time { return a.ExpirationTime }
	case "updated_at":
		at = func(a models.Assertion) time.Time { return a.UpdatedAt }
	}
	sortByTime(items, descending(params.Asc), at, func(a models.Assertion) string { return a.AssertionID })
	return page(items, params.Limit, params.Offset, 100), nil
}

func (s *Store) CountAssertions(ctx context.Context, params repository.ListAssertionsParams) (int64, error) {
	return int64(len(s.filterAssertions(params))), nil
}

func (s *Store) ListSettleableAssertions(ctx context.Context, at time.Time, limit int) ([]models.Assertion, error) {
	s.mu.RLock()
	out := make([]models.Assertion, 0)
	for _, item := range s.assertions {
		if item.Disputer == nil && !item.Settled && !item.SettlementPending && !item.ExpirationTime.After(at) {
			out = append(out, item)
		}
	}
	s.mu.RUnlock()
	sortByTime(out, false, func(a models.Assertion) time.Time { return a.ExpirationTime }, func(a models.Assertion) string { return a.AssertionID })
	return page(out, limit, 0, 100), nil
}

func (s *Store) ListStuckSettlements(ctx context.Context, limit int) ([]models.Assertion, error) {
	s.mu.RLock()
	out := make([]models.Assertion, 0)
	for _, item := range s.assertions {
		if !item.Settled && item.SettlementPending && !item.SettlementInFlight {
			out = append(out, item)
		}
	}
	s.mu.RUnlock()
	sortByTime(out, false, func(a models.Assertion) time.Time { return a.UpdatedAt }, func(a models.Assertion) string { return a.AssertionID })
	return page(out, limit, 0, 100), nil
}
