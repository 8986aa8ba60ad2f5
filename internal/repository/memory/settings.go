package memory

import (
	"context"
	"sort"
	"strings"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if item == nil || strings.TrimSpace(item.Key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Key = strings.TrimSpace(item.Key)
	ts := now()
	if prev, ok := s.settings[item.Key]; ok {
		item.ID = prev.ID
		item.CreatedAt = prev.CreatedAt
	} else {
		s.nextSettingID++
		item.ID = s.nextSettingID
		item.CreatedAt = ts
	}
	item.UpdatedAt = ts
	stored := *item
	stored.Value = cloneBytes(item.Value)
	s.settings[item.Key] = stored
	return nil
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.settings[strings.TrimSpace(key)]
	if !ok {
		return nil, nil
	}
	item.Value = cloneBytes(item.Value)
	return &item, nil
}

func (s *Store) filterSettings(params repository.ListSystemSettingsParams) []models.SystemSetting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := ""
	if params.Prefix != nil {
		prefix = strings.TrimSpace(*params.Prefix)
	}
	out := make([]models.SystemSetting, 0, len(s.settings))
	for key, item := range s.settings {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		item.Value = cloneBytes(item.Value)
		out = append(out, item)
	}
	return out
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	items := s.filterSettings(params)
	asc := params.Asc == nil || *params.Asc
	sort.Slice(items, func(i, j int) bool {
		if asc {
			return items[i].Key < items[j].Key
		}
		return items[i].Key > items[j].Key
	})
	return page(items, params.Limit, params.Offset, 500), nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	return int64(len(s.filterSettings(params))), nil
}
