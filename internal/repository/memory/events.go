package memory

import (
	"context"
	"sort"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) InsertOracleEvent(ctx context.Context, item *models.OracleEvent) error {
	if item == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	item.ID = s.nextEventID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now()
	}
	s.events = append(s.events, *item)
	return nil
}

func (s *Store) filterEvents(params repository.ListOracleEventsParams) []models.OracleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OracleEvent, 0)
	for _, item := range s.events {
		if !match(params.Component, item.Component) || !match(params.Kind, item.Kind) || !match(params.Subject, item.Subject) {
			continue
		}
		if params.Since != nil && item.CreatedAt.Before(*params.Since) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) ListOracleEvents(ctx context.Context, params repository.ListOracleEventsParams) ([]models.OracleEvent, error) {
	items := s.filterEvents(params)
	if descending(params.Asc) {
		sort.SliceStable(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	}
	return page(items, params.Limit, params.Offset, 200), nil
}

func (s *Store) CountOracleEvents(ctx context.Context, params repository.ListOracleEventsParams) (int64, error) {
	return int64(len(s.filterEvents(params))), nil
}
