package memory

import (
	"context"
	"sort"
	"strings"

	"nestoracle/internal/models"
)

func (s *Store) UpsertCurrencyWhitelist(ctx context.Context, item *models.CurrencyWhitelist) error {
	if item == nil || strings.TrimSpace(item.Currency) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Currency = strings.TrimSpace(item.Currency)
	item.UpdatedAt = now()
	s.currencies[item.Currency] = *item
	return nil
}

func (s *Store) GetCurrencyWhitelist(ctx context.Context, currency string) (*models.CurrencyWhitelist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.currencies[strings.TrimSpace(currency)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) ListCurrencyWhitelist(ctx context.Context) ([]models.CurrencyWhitelist, error) {
	s.mu.RLock()
	out := make([]models.CurrencyWhitelist, 0, len(s.currencies))
	for _, item := range s.currencies {
		out = append(out, item)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (s *Store) UpsertIdentifierWhitelist(ctx context.Context, item *models.IdentifierWhitelist) error {
	if item == nil || strings.TrimSpace(item.Identifier) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Identifier = strings.TrimSpace(item.Identifier)
	item.UpdatedAt = now()
	s.identifiers[item.Identifier] = *item
	return nil
}

func (s *Store) GetIdentifierWhitelist(ctx context.Context, identifier string) (*models.IdentifierWhitelist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.identifiers[strings.TrimSpace(identifier)]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) ListIdentifierWhitelist(ctx context.Context) ([]models.IdentifierWhitelist, error) {
	s.mu.RLock()
	out := make([]models.IdentifierWhitelist, 0, len(s.identifiers))
	for _, item := range s.identifiers {
		out = append(out, item)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (s *Store) UpsertEscalationManager(ctx context.Context, item *models.EscalationManager) error {
	if item == nil || strings.TrimSpace(item.Account) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Account = strings.TrimSpace(item.Account)
	ts := now()
	if prev, ok := s.managers[item.Account]; ok {
		item.CreatedAt = prev.CreatedAt
	} else if item.CreatedAt.IsZero() {
		item.CreatedAt = ts
	}
	item.UpdatedAt = ts
	stored := *item
	stored.Config = cloneBytes(item.Config)
	s.managers[item.Account] = stored
	return nil
}

func (s *Store) GetEscalationManager(ctx context.Context, account string) (*models.EscalationManager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.managers[strings.TrimSpace(account)]
	if !ok {
		return nil, nil
	}
	item.Config = cloneBytes(item.Config)
	return &item, nil
}

func (s *Store) ListEscalationManagers(ctx context.Context) ([]models.EscalationManager, error) {
	s.mu.RLock()
	out := make([]models.EscalationManager, 0, len(s.managers))
	for _, item := range s.managers {
		item.Config = cloneBytes(item.Config)
		out = append(out, item)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}
