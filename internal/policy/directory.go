package policy

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/lock"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

// Directory is the finder for escalation managers and the owner-gated surface
// that configures them.
type Directory struct {
	Repo   repository.Repository
	Locker lock.Locker
	Events *events.Emitter
	Logger *zap.Logger
}

func (d *Directory) Find(ctx context.Context, account string) (EscalationManager, error) {
	m, err := d.Get(ctx, account)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

func (d *Directory) Get(ctx context.Context, account string) (*Manager, error) {
	if d == nil || d.Repo == nil {
		return nil, nil
	}
	item, err := d.Repo.GetEscalationManager(ctx, account)
	if err != nil || item == nil {
		return nil, err
	}
	return managerFromModel(item)
}

func (d *Directory) List(ctx context.Context) ([]*Manager, error) {
	items, err := d.Repo.ListEscalationManagers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Manager, 0, len(items))
	for i := range items {
		m, err := managerFromModel(&items[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Register creates a manager owned by caller.
func (d *Directory) Register(ctx context.Context, caller, account, kind string) (*Manager, error) {
	account = strings.TrimSpace(account)
	caller = strings.TrimSpace(caller)
	if account == "" || caller == "" {
		return nil, apperr.Validation("account and caller are required")
	}
	if !ValidKind(kind) {
		return nil, apperr.Validation("unknown escalation manager kind " + kind)
	}
	var out *Manager
	err := d.mutate(ctx, account, func(repo repository.Repository, existing *models.EscalationManager) (*models.EscalationManager, error) {
		if existing != nil {
			return nil, apperr.Conflict("escalation manager already registered")
		}
		raw, err := Config{}.encode()
		if err != nil {
			return nil, err
		}
		item := &models.EscalationManager{Account: account, Kind: kind, Owner: caller, Config: raw}
		out = &Manager{account: account, kind: kind, owner: caller}
		return item, nil
	}, map[string]any{"action": "register", "kind": kind, "owner": caller})
	return out, err
}

type ConfigureParams struct {
	BlockByAssertingCaller        bool `json:"block_by_asserting_caller"`
	BlockByAsserter               bool `json:"block_by_asserter"`
	ValidateDisputers             bool `json:"validate_disputers"`
	ArbitrateViaEscalationManager bool `json:"arbitrate_via_escalation_manager"`
	DiscardOracle                 bool `json:"discard_oracle"`
}

func (d *Directory) Configure(ctx context.Context, caller, account string, p ConfigureParams) error {
	if p.BlockByAsserter && !p.BlockByAssertingCaller {
		return apperr.Validation("cannot block only by asserter")
	}
	return d.update(ctx, caller, account, func(kind string, cfg *Config) error {
		if kind != KindFullPolicy {
			return apperr.Validation("configure is only supported by full_policy managers")
		}
		cfg.BlockByAssertingCaller = p.BlockByAssertingCaller
		cfg.BlockByAsserter = p.BlockByAsserter
		cfg.ValidateDisputers = p.ValidateDisputers
		cfg.ArbitrateViaEscalationManager = p.ArbitrateViaEscalationManager
		cfg.DiscardOracle = p.DiscardOracle
		return nil
	}, map[string]any{"action": "configure", "config": p})
}

func (d *Directory) SetWhitelisted(ctx context.Context, caller, account, list, member string, whitelisted bool) error {
	member = strings.TrimSpace(member)
	if member == "" {
		return apperr.Validation("member is required")
	}
	return d.update(ctx, caller, account, func(kind string, cfg *Config) error {
		switch {
		case list == ListDisputeCallers && (kind == KindWhitelistDisputer || kind == KindFullPolicy):
			cfg.DisputeCallers = setMember(cfg.DisputeCallers, member, whitelisted)
		case list == ListAssertingCallers && kind == KindFullPolicy:
			cfg.AssertingCallers = setMember(cfg.AssertingCallers, member, whitelisted)
		case list == ListAsserters && kind == KindFullPolicy:
			cfg.Asserters = setMember(cfg.Asserters, member, whitelisted)
		default:
			return apperr.Validation("whitelist " + list + " is not supported by " + kind + " managers")
		}
		return nil
	}, map[string]any{"action": "whitelist", "list": list, "member": member, "whitelisted": whitelisted})
}

// SetArbitrationResolution records the owner's verdict. A key can be resolved once.
func (d *Directory) SetArbitrationResolution(ctx context.Context, caller, account string, req ResolutionRequest, resolution bool) (string, error) {
	key := ArbitrationKey(req.Identifier, req.TimeNs, req.Ancillary)
	err := d.update(ctx, caller, account, func(kind string, cfg *Config) error {
		if kind != KindFullPolicy {
			return ErrUnsupported
		}
		if _, ok := cfg.Resolutions[key]; ok {
			return apperr.Conflict("arbitration already resolved")
		}
		if cfg.Resolutions == nil {
			cfg.Resolutions = map[string]bool{}
		}
		cfg.Resolutions[key] = resolution
		return nil
	}, map[string]any{"action": "arbitration_resolution", "key": key, "resolution": resolution})
	return key, err
}

func (d *Directory) SetOwner(ctx context.Context, caller, account, newOwner string) error {
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return apperr.Validation("new owner is required")
	}
	return d.mutate(ctx, account, func(repo repository.Repository, existing *models.EscalationManager) (*models.EscalationManager, error) {
		if existing == nil {
			return nil, apperr.NotFound("escalation manager " + account)
		}
		if existing.Owner != caller {
			return nil, apperr.Unauthorized("only the manager owner may transfer ownership")
		}
		existing.Owner = newOwner
		return existing, nil
	}, map[string]any{"action": "set_owner", "owner": newOwner})
}

func (d *Directory) update(ctx context.Context, caller, account string, fn func(kind string, cfg *Config) error, fields map[string]any) error {
	return d.mutate(ctx, account, func(repo repository.Repository, existing *models.EscalationManager) (*models.EscalationManager, error) {
		if existing == nil {
			return nil, apperr.NotFound("escalation manager " + account)
		}
		if existing.Owner != caller {
			return nil, apperr.Unauthorized("only the manager owner may change it")
		}
		cfg, err := decodeConfig(existing.Config)
		if err != nil {
			return nil, err
		}
		if err := fn(existing.Kind, &cfg); err != nil {
			return nil, err
		}
		raw, err := cfg.encode()
		if err != nil {
			return nil, err
		}
		existing.Config = raw
		return existing, nil
	}, fields)
}

func (d *Directory) mutate(ctx context.Context, account string, fn func(repo repository.Repository, existing *models.EscalationManager) (*models.EscalationManager, error), fields map[string]any) error {
	if d == nil || d.Repo == nil {
		return apperr.Validation("escalation manager directory unavailable")
	}
	if d.Locker != nil {
		unlock, err := d.Locker.Lock(ctx, "policy:"+account)
		if err != nil {
			return err
		}
		defer unlock()
	}
	var rec *events.Recorder
	err := d.Repo.InTx(ctx, func(repo repository.Repository) error {
		existing, err := repo.GetEscalationManager(ctx, account)
		if err != nil {
			return err
		}
		item, err := fn(repo, existing)
		if err != nil {
			return err
		}
		if err := repo.UpsertEscalationManager(ctx, item); err != nil {
			return err
		}
		if d.Events != nil {
			rec = d.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentPolicy, events.PolicyUpdated, account, fields)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}
