package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

const (
	FeatureAdvanceReveal    = "feature.keeper.advance_reveal"
	FeatureResolveRequests  = "feature.keeper.resolve_requests"
	FeatureSettleExpired    = "feature.keeper.settle_expired"
	FeatureRetrySettlements = "feature.keeper.retry_settlements"
	FeatureRetryTransfers   = "feature.keeper.retry_transfers"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureAdvanceReveal:    true,
		FeatureResolveRequests:  true,
		FeatureSettleExpired:    true,
		FeatureRetrySettlements: true,
		FeatureRetryTransfers:   true,
	}
}

type SystemSettingsService struct {
	Repo repository.SettingsRepository
}

// EnsureDefaultSwitches inserts missing switches. Existing values are left alone
// so an operator who turned a keeper off keeps it off across restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// LoadJSON decodes the setting stored under key into dst. It reports false when
// the key is absent.
func LoadJSON(ctx context.Context, repo repository.SettingsRepository, key string, dst any) (bool, error) {
	if repo == nil {
		return false, nil
	}
	item, err := repo.GetSystemSettingByKey(ctx, key)
	if err != nil {
		return false, err
	}
	if item == nil || len(item.Value) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(item.Value, dst); err != nil {
		return false, err
	}
	return true, nil
}

func StoreJSON(ctx context.Context, repo repository.SettingsRepository, key, description string, value any) error {
	if repo == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: description,
		UpdatedAt:   time.Now().UTC(),
	})
}
