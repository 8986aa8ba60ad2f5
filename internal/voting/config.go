package voting

import (
	"context"
	"strings"
	"time"

	"nestoracle/internal/apperr"
	"nestoracle/internal/config"
	"nestoracle/internal/events"
	"nestoracle/internal/repository"
	"nestoracle/internal/service"
)

const configKey = "voting.config"

const (
	DefaultCommitDuration      = 24 * time.Hour
	DefaultRevealDuration      = 24 * time.Hour
	DefaultMinParticipationBps = 500
	DefaultTreasuryBps         = 5000
	DefaultMaxExtensions       = 1
	maxExtensionsLimit         = 255
)

// Config is the engine's mutable configuration. It is persisted as a system
// setting together with the request nonce.
type Config struct {
	Owner                         string        `json:"owner"`
	CommitDuration                time.Duration `json:"commit_duration"`
	RevealDuration                time.Duration `json:"reveal_duration"`
	MinParticipationBps           int64         `json:"min_participation_bps"`
	TreasuryBps                   int64         `json:"slashing_treasury_bps"`
	MaxLowParticipationExtensions int           `json:"max_low_participation_extensions"`
	VotingToken                   string        `json:"voting_token,omitempty"`
	Treasury                      string        `json:"treasury,omitempty"`
	Nonce                         uint64        `json:"nonce"`
}

func ConfigFromSettings(cfg config.VotingConfig) Config {
	out := Config{
		Owner:                         strings.TrimSpace(cfg.Owner),
		CommitDuration:                cfg.CommitDuration,
		RevealDuration:                cfg.RevealDuration,
		MinParticipationBps:           cfg.MinParticipationBps,
		TreasuryBps:                   cfg.TreasuryBps,
		MaxLowParticipationExtensions: cfg.MaxLowParticipationExtensions,
		VotingToken:                   strings.TrimSpace(cfg.VotingToken),
		Treasury:                      strings.TrimSpace(cfg.Treasury),
	}
	return out.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.CommitDuration <= 0 {
		c.CommitDuration = DefaultCommitDuration
	}
	if c.RevealDuration <= 0 {
		c.RevealDuration = DefaultRevealDuration
	}
	if c.MinParticipationBps <= 0 || c.MinParticipationBps > 10000 {
		c.MinParticipationBps = DefaultMinParticipationBps
	}
	if c.TreasuryBps < 0 || c.TreasuryBps > 10000 {
		c.TreasuryBps = DefaultTreasuryBps
	}
	if c.MaxLowParticipationExtensions < 0 || c.MaxLowParticipationExtensions > maxExtensionsLimit {
		c.MaxLowParticipationExtensions = DefaultMaxExtensions
	}
	return c
}

// distributes reports whether resolution pays voters out of custody.
func (c Config) distributes() bool {
	return c.VotingToken != "" && c.Treasury != ""
}

// EnsureConfig stores the defaults on first start. A stored config always wins.
func (e *Engine) EnsureConfig(ctx context.Context) (Config, error) {
	var cfg Config
	found, err := service.LoadJSON(ctx, e.Repo, configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if found {
		return cfg, nil
	}
	cfg = e.Defaults.withDefaults()
	if err := storeConfig(ctx, e.Repo, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (e *Engine) loadConfig(ctx context.Context, repo repository.SettingsRepository) (Config, error) {
	var cfg Config
	found, err := service.LoadJSON(ctx, repo, configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return e.Defaults.withDefaults(), nil
	}
	return cfg, nil
}

func (e *Engine) GetConfig(ctx context.Context) (Config, error) {
	return e.loadConfig(ctx, e.Repo)
}

// ConfigPatch carries the owner setters. Nil fields are left unchanged.
type ConfigPatch struct {
	CommitDuration                *time.Duration `json:"commit_duration,omitempty"`
	RevealDuration                *time.Duration `json:"reveal_duration,omitempty"`
	MinParticipationBps           *int64         `json:"min_participation_bps,omitempty"`
	TreasuryBps                   *int64         `json:"slashing_treasury_bps,omitempty"`
	MaxLowParticipationExtensions *int           `json:"max_low_participation_extensions,omitempty"`
	VotingToken                   *string        `json:"voting_token,omitempty"`
	Treasury                      *string        `json:"treasury,omitempty"`
	Owner                         *string        `json:"owner,omitempty"`
}

func (p ConfigPatch) apply(cfg *Config) (map[string]any, error) {
	changed := map[string]any{}
	if p.CommitDuration != nil {
		if *p.CommitDuration <= 0 {
			return nil, apperr.Validation("commit duration must be positive")
		}
		cfg.CommitDuration = *p.CommitDuration
		changed["commit_duration"] = cfg.CommitDuration
	}
	if p.RevealDuration != nil {
		if *p.RevealDuration <= 0 {
			return nil, apperr.Validation("reveal duration must be positive")
		}
		cfg.RevealDuration = *p.RevealDuration
		changed["reveal_duration"] = cfg.RevealDuration
	}
	if p.MinParticipationBps != nil {
		if *p.MinParticipationBps < 0 || *p.MinParticipationBps > 10000 {
			return nil, apperr.Validation("rate cannot exceed 100%")
		}
		cfg.MinParticipationBps = *p.MinParticipationBps
		changed["min_participation_bps"] = cfg.MinParticipationBps
	}
	if p.TreasuryBps != nil {
		if *p.TreasuryBps < 0 || *p.TreasuryBps > 10000 {
			return nil, apperr.Validation("bps cannot exceed 100%")
		}
		cfg.TreasuryBps = *p.TreasuryBps
		changed["slashing_treasury_bps"] = cfg.TreasuryBps
	}
	if p.MaxLowParticipationExtensions != nil {
		if *p.MaxLowParticipationExtensions < 0 || *p.MaxLowParticipationExtensions > maxExtensionsLimit {
			return nil, apperr.Validation("max extensions must be between 0 and 255")
		}
		cfg.MaxLowParticipationExtensions = *p.MaxLowParticipationExtensions
		changed["max_low_participation_extensions"] = cfg.MaxLowParticipationExtensions
	}
	if p.VotingToken != nil {
		cfg.VotingToken = strings.TrimSpace(*p.VotingToken)
		changed["voting_token"] = cfg.VotingToken
	}
	if p.Treasury != nil {
		cfg.Treasury = strings.TrimSpace(*p.Treasury)
		changed["treasury"] = cfg.Treasury
	}
	if p.Owner != nil {
		owner := strings.TrimSpace(*p.Owner)
		if owner == "" {
			return nil, apperr.Validation("owner is required")
		}
		cfg.Owner = owner
		changed["owner"] = owner
	}
	if len(changed) == 0 {
		return nil, apperr.Validation("no config change requested")
	}
	return changed, nil
}

// UpdateConfig applies the owner setters in p atomically.
func (e *Engine) UpdateConfig(ctx context.Context, caller string, p ConfigPatch) (cfg Config, err error) {
	unlock, err := e.Locker.Lock(ctx, configLockKey)
	if err != nil {
		return Config{}, err
	}
	defer unlock()

	var rec *events.Recorder
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		current, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		if caller != current.Owner {
			return ErrNotOwner
		}
		changed, err := p.apply(&current)
		if err != nil {
			return err
		}
		if err := storeConfig(ctx, repo, current); err != nil {
			return err
		}
		cfg = current
		rec = e.Events.Recorder(repo)
		return rec.Emit(ctx, events.ComponentVoting, events.VotingConfigUpdated, "", changed)
	})
	if err != nil {
		return Config{}, err
	}
	rec.Flush(ctx)
	return cfg, nil
}

const configLockKey = "voting:config"
