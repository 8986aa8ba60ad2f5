package oracle

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/ids"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
	"nestoracle/internal/transfer"
	"nestoracle/internal/units"
)

const registryLockKey = "oracle:registry"

type AdminProperties struct {
	DefaultCurrency      string
	DefaultLiveness      time.Duration
	BurnedBondPercentage decimal.Decimal
}

func (s *Service) SetAdminProperties(ctx context.Context, caller string, p AdminProperties) (Config, error) {
	if err := checkBurn(p.BurnedBondPercentage); err != nil {
		return Config{}, err
	}
	if p.DefaultLiveness <= 0 {
		return Config{}, apperr.Validation("default liveness must be positive")
	}
	return s.updateConfig(ctx, caller, events.AdminPropertiesSet, func(cfg *Config) (map[string]any, error) {
		cfg.DefaultCurrency = strings.TrimSpace(p.DefaultCurrency)
		cfg.DefaultLiveness = p.DefaultLiveness
		cfg.BurnedBondPercentage = p.BurnedBondPercentage
		return map[string]any{
			"default_currency":       cfg.DefaultCurrency,
			"default_liveness":       cfg.DefaultLiveness,
			"burned_bond_percentage": cfg.BurnedBondPercentage,
		}, nil
	})
}

// SetVotingEnabled switches escalation of new disputes to the voting engine.
func (s *Service) SetVotingEnabled(ctx context.Context, caller string, enabled bool) (Config, error) {
	return s.updateConfig(ctx, caller, events.VotingContractSet, func(cfg *Config) (map[string]any, error) {
		if enabled && s.Voting == nil {
			return nil, apperr.Validation("voting engine is not configured")
		}
		cfg.VotingEnabled = enabled
		return map[string]any{"enabled": enabled}, nil
	})
}

func (s *Service) SetOwner(ctx context.Context, caller, newOwner string) (Config, error) {
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return Config{}, apperr.Validation("new owner is required")
	}
	return s.updateConfig(ctx, caller, events.OwnerTransferred, func(cfg *Config) (map[string]any, error) {
		previous := cfg.Owner
		cfg.Owner = newOwner
		return map[string]any{"previous_owner": previous, "new_owner": newOwner}, nil
	})
}

func (s *Service) WhitelistCurrency(ctx context.Context, caller, currency string, finalFee decimal.Decimal, whitelisted bool) error {
	currency = strings.TrimSpace(currency)
	if currency == "" {
		return apperr.Validation("currency is required")
	}
	if err := units.CheckAmount(finalFee); err != nil {
		return apperr.Validation("final fee: " + err.Error())
	}
	item := &models.CurrencyWhitelist{Currency: currency, Whitelisted: whitelisted, FinalFee: finalFee}
	return s.registryWrite(ctx, caller, events.CurrencyWhitelisted, currency, map[string]any{
		"whitelisted": whitelisted,
		"final_fee":   finalFee,
	}, func(repo repository.Repository) error {
		return repo.UpsertCurrencyWhitelist(ctx, item)
	})
}

func (s *Service) WhitelistIdentifier(ctx context.Context, caller string, identifier common.Hash, whitelisted bool) error {
	item := &models.IdentifierWhitelist{
		Identifier:  identifier.Hex(),
		Label:       ids.IdentifierString(identifier),
		Whitelisted: whitelisted,
	}
	return s.registryWrite(ctx, caller, events.IdentifierWhitelisted, item.Identifier, map[string]any{
		"label":       item.Label,
		"whitelisted": whitelisted,
	}, func(repo repository.Repository) error {
		return repo.UpsertIdentifierWhitelist(ctx, item)
	})
}

func (s *Service) registryWrite(ctx context.Context, caller, kind, subject string, fields map[string]any, fn func(repo repository.Repository) error) error {
	if _, err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	var rec *events.Recorder
	err := s.withLock(ctx, registryLockKey, func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			if err := fn(repo); err != nil {
				return err
			}
			rec = s.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentOracle, kind, subject, fields)
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}

// EmergencyWithdraw moves funds out of the oracle's escrow. It bypasses every
// assertion, so bonds withdrawn this way can no longer be paid out.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller, currency, receiver string, amount decimal.Decimal) (*models.Transfer, error) {
	if s.Outbox == nil {
		return nil, errOutboxMissing
	}
	currency = strings.TrimSpace(currency)
	receiver = strings.TrimSpace(receiver)
	if currency == "" || receiver == "" {
		return nil, apperr.Validation("currency and receiver are required")
	}
	if err := units.CheckAmount(amount); err != nil || !amount.IsPositive() {
		return nil, apperr.Validation("amount must be > 0")
	}
	if _, err := s.requireOwner(ctx, caller); err != nil {
		return nil, err
	}
	var (
		item *models.Transfer
		rec  *events.Recorder
	)
	err := s.Repo.InTx(ctx, func(repo repository.Repository) error {
		var err error
		item, err = s.Outbox.Enqueue(ctx, repo, transfer.PurposeEmergencyWithdraw, "", currency, receiver, amount)
		if err != nil {
			return err
		}
		rec = s.Events.Recorder(repo)
		return rec.Emit(ctx, events.ComponentOracle, events.EmergencyWithdrawal, "", map[string]any{
			"currency":    currency,
			"receiver":    receiver,
			"amount":      amount,
			"transfer_id": item.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	rec.Flush(ctx)
	s.logger().Warn("emergency withdrawal",
		zap.String("caller", caller),
		zap.String("currency", currency),
		zap.String("receiver", receiver),
		zap.String("amount", amount.String()),
	)
	s.Outbox.Dispatch(ctx, *item, nil)
	return item, nil
}
