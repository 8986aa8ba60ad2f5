package oracle

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nestoracle/internal/apperr"
	"nestoracle/internal/config"
	"nestoracle/internal/events"
	"nestoracle/internal/repository"
	"nestoracle/internal/service"
	"nestoracle/internal/units"
)

const (
	configKey     = "oracle.config"
	configLockKey = "oracle:config"

	DefaultLiveness = 2 * time.Hour
)

// DefaultBurnedBondPercentage is 50% in SCALE units.
var DefaultBurnedBondPercentage = decimal.New(5, 17)

type Config struct {
	Owner                string          `json:"owner"`
	DefaultCurrency      string          `json:"default_currency"`
	DefaultLiveness      time.Duration   `json:"default_liveness"`
	BurnedBondPercentage decimal.Decimal `json:"burned_bond_percentage"`
	VotingEnabled        bool            `json:"voting_enabled"`
}

func ConfigFromSettings(cfg config.OracleConfig) (Config, error) {
	out := Config{
		Owner:           strings.TrimSpace(cfg.Owner),
		DefaultCurrency: strings.TrimSpace(cfg.DefaultCurrency),
		DefaultLiveness: cfg.DefaultLiveness,
		VotingEnabled:   cfg.VotingEnabled,
	}
	if raw := strings.TrimSpace(cfg.BurnedBondPercentage); raw != "" {
		burn, err := units.ParseAmount(raw)
		if err != nil {
			return Config{}, err
		}
		if err := checkBurn(burn); err != nil {
			return Config{}, err
		}
		out.BurnedBondPercentage = burn
	}
	return out.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.DefaultLiveness <= 0 {
		c.DefaultLiveness = DefaultLiveness
	}
	if !c.BurnedBondPercentage.IsPositive() {
		c.BurnedBondPercentage = DefaultBurnedBondPercentage
	}
	return c
}

func checkBurn(burn decimal.Decimal) error {
	if !burn.IsPositive() {
		return apperr.Validation("burned bond percentage is 0")
	}
	if burn.GreaterThan(units.Scale) {
		return apperr.Validation("burned bond percentage > 100%")
	}
	return nil
}

// EnsureConfig stores the defaults on first start.
func (s *Service) EnsureConfig(ctx context.Context) (Config, error) {
	var cfg Config
	found, err := service.LoadJSON(ctx, s.Repo, configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if found {
		return cfg, nil
	}
	cfg = s.Defaults.withDefaults()
	if err := storeConfig(ctx, s.Repo, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *Service) loadConfig(ctx context.Context, repo repository.SettingsRepository) (Config, error) {
	var cfg Config
	found, err := service.LoadJSON(ctx, repo, configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return s.Defaults.withDefaults(), nil
	}
	return cfg, nil
}

func (s *Service) GetConfig(ctx context.Context) (Config, error) {
	return s.loadConfig(ctx, s.Repo)
}

func storeConfig(ctx context.Context, repo repository.SettingsRepository, cfg Config) error {
	return service.StoreJSON(ctx, repo, configKey, "optimistic oracle config", cfg)
}

// updateConfig runs an owner-gated change to the stored config and records one event.
func (s *Service) updateConfig(ctx context.Context, caller, kind string, fn func(cfg *Config) (map[string]any, error)) (Config, error) {
	var out Config
	var rec *events.Recorder
	err := s.withLock(ctx, configLockKey, func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			cfg, err := s.loadConfig(ctx, repo)
			if err != nil {
				return err
			}
			if caller != cfg.Owner {
				return ErrNotOwner
			}
			fields, err := fn(&cfg)
			if err != nil {
				return err
			}
			if err := storeConfig(ctx, repo, cfg); err != nil {
				return err
			}
			out = cfg
			rec = s.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentOracle, kind, "", fields)
		})
	})
	if err != nil {
		return Config{}, err
	}
	rec.Flush(ctx)
	return out, nil
}

// requireOwner checks caller against the stored owner outside the config lock.
func (s *Service) requireOwner(ctx context.Context, caller string) (Config, error) {
	cfg, err := s.loadConfig(ctx, s.Repo)
	if err != nil {
		return Config{}, err
	}
	if caller != cfg.Owner {
		return Config{}, ErrNotOwner
	}
	return cfg, nil
}
