package oracle

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nestoracle/internal/ids"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

func (s *Service) GetAssertion(ctx context.Context, assertionID string) (*models.Assertion, error) {
	a, err := s.Repo.GetAssertion(ctx, assertionID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAssertionNotFound
	}
	return a, nil
}

func (s *Service) ListAssertions(ctx context.Context, params repository.ListAssertionsParams) ([]models.Assertion, int64, error) {
	items, err := s.Repo.ListAssertions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountAssertions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// MinimumBond is zero for a currency that is not whitelisted.
func (s *Service) MinimumBond(ctx context.Context, currency string) (decimal.Decimal, error) {
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	item, err := s.Repo.GetCurrencyWhitelist(ctx, strings.TrimSpace(currency))
	if err != nil {
		return decimal.Zero, err
	}
	return minimumBond(item, cfg.BurnedBondPercentage), nil
}

func (s *Service) IsIdentifierSupported(ctx context.Context, identifier common.Hash) (bool, error) {
	return isIdentifierSupported(ctx, s.Repo, identifier)
}

func (s *Service) IsCurrencyWhitelisted(ctx context.Context, currency string) (bool, error) {
	item, err := s.Repo.GetCurrencyWhitelist(ctx, strings.TrimSpace(currency))
	if err != nil {
		return false, err
	}
	return item != nil && item.Whitelisted, nil
}

// GetDisputeRequest returns the arbiter request key of an escalated assertion.
func (s *Service) GetDisputeRequest(ctx context.Context, assertionID string) (*string, error) {
	a, err := s.GetAssertion(ctx, assertionID)
	if err != nil {
		return nil, err
	}
	return a.DisputeRequestID, nil
}

// AssertionForRequest maps an arbiter request key back to its assertion.
func (s *Service) AssertionForRequest(ctx context.Context, requestID string) (*models.Assertion, error) {
	key := strings.TrimSpace(requestID)
	items, err := s.Repo.ListAssertions(ctx, repository.ListAssertionsParams{Limit: 1, DisputeRequestID: &key})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrAssertionNotFound
	}
	return &items[0], nil
}

type DefaultValues struct {
	Identifier common.Hash
	Currency   string
	Liveness   time.Duration
}

func (s *Service) GetDefaults(ctx context.Context) (DefaultValues, error) {
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return DefaultValues{}, err
	}
	return DefaultValues{Identifier: ids.DefaultIdentifier, Currency: cfg.DefaultCurrency, Liveness: cfg.DefaultLiveness}, nil
}

// SettleExpired settles undisputed assertions whose liveness has passed. It
// returns how many payouts were started.
func (s *Service) SettleExpired(ctx context.Context, limit int) (int, error) {
	items, err := s.Repo.ListSettleableAssertions(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range items {
		if err := s.Settle(ctx, a.AssertionID); err != nil {
			s.logger().Warn("settle expired assertion failed", zap.String("assertion_id", a.AssertionID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// RetryStuckSettlements retries every pending payout whose last attempt failed.
func (s *Service) RetryStuckSettlements(ctx context.Context, limit int) (int, error) {
	items, err := s.Repo.ListStuckSettlements(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range items {
		if err := s.RetrySettlementPayout(ctx, a.AssertionID); err != nil {
			s.logger().Warn("retry settlement payout failed", zap.String("assertion_id", a.AssertionID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}
