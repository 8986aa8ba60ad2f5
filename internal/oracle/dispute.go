package oracle

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/models"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
	"nestoracle/internal/telemetry"
)

const arbiterVoting = "voting"

type DisputeParams struct {
	AssertionID string
	Disputer    string
	Currency    string
	Bond        decimal.Decimal
	// Caller sent the dispute bond; escalation managers validate it, not Disputer.
	Caller string
}

// Dispute challenges an assertion before it expires. The bond must equal the
// assertion's bond exactly. Escalation to the arbiter runs as a dispatched
// message after the dispute has been recorded.
func (s *Service) Dispute(ctx context.Context, p DisputeParams) (err error) {
	ctx, span := telemetry.Start(ctx, "oracle", "Dispute", attribute.String("assertion_id", p.AssertionID))
	defer func() { telemetry.End(span, err) }()

	p.Disputer = strings.TrimSpace(p.Disputer)
	p.Caller = strings.TrimSpace(p.Caller)
	if p.Disputer == "" || p.Caller == "" {
		return apperr.Validation("disputer and caller are required")
	}
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return err
	}

	var (
		disputed models.Assertion
		arbiter  policy.Arbiter
		manager  policy.EscalationManager
		rec      *events.Recorder
	)
	err = s.withLock(ctx, assertionLockKey(p.AssertionID), func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			a, err := repo.GetAssertion(ctx, p.AssertionID)
			if err != nil {
				return err
			}
			if a == nil {
				return ErrAssertionNotFound
			}
			if a.Disputer != nil {
				return ErrAlreadyDisputed
			}
			now := s.now()
			if !a.ExpirationTime.After(now) {
				return ErrExpired
			}
			if a.Currency != p.Currency {
				return ErrWrongCurrency
			}
			if !a.Bond.Equal(p.Bond) {
				return ErrBondMismatch
			}
			if a.EscalationManager != nil {
				manager, err = s.findManager(ctx, *a.EscalationManager)
				if err != nil {
					return err
				}
				if a.ValidateDisputers {
					allowed, err := manager.IsDisputeAllowed(ctx, a.AssertionID, p.Caller)
					if err != nil {
						return err
					}
					if !allowed {
						return ErrDisputeNotAllowed
					}
				}
			}

			var arbiterName string
			arbiter, arbiterName = s.arbiterFor(cfg, a, manager)
			a.Disputer = &p.Disputer
			a.DisputedAt = &now
			a.DisputeArbiter = arbiterName
			if err := repo.SaveAssertion(ctx, a); err != nil {
				return err
			}
			disputed = *a
			rec = s.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentOracle, events.AssertionDisputed, a.AssertionID, map[string]any{
				"caller":   p.Caller,
				"disputer": p.Disputer,
				"arbiter":  arbiterName,
			})
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)

	if disputed.CallbackRecipient != nil && s.Callbacks != nil {
		recipient := *disputed.CallbackRecipient
		s.bestEffort(ctx, "oracle.disputed_callback", disputed.AssertionID, func(ctx context.Context) error {
			return s.Callbacks.AssertionDisputed(ctx, recipient, disputed.AssertionID)
		})
	}
	if manager != nil {
		s.bestEffort(ctx, "oracle.manager_disputed", disputed.AssertionID, func(ctx context.Context) error {
			return manager.AssertionDisputed(ctx, disputed.AssertionID)
		})
	}
	if arbiter == nil {
		s.logger().Warn("disputed assertion has no arbiter, needs manual resolution",
			zap.String("assertion_id", disputed.AssertionID))
		return nil
	}
	s.escalate(ctx, disputed, arbiter)
	return nil
}

// arbiterFor picks who resolves a dispute: the escalation manager when the
// assertion opted into custom arbitration, otherwise the voting engine if enabled.
func (s *Service) arbiterFor(cfg Config, a *models.Assertion, manager policy.EscalationManager) (policy.Arbiter, string) {
	if a.ArbitrateViaEscalationManager && manager != nil {
		return manager, manager.Account()
	}
	if cfg.VotingEnabled && s.Voting != nil {
		return s.Voting, arbiterVoting
	}
	return nil, ""
}

// resolveArbiter finds the arbiter recorded on a disputed assertion.
func (s *Service) resolveArbiter(ctx context.Context, a *models.Assertion) (policy.Arbiter, error) {
	switch a.DisputeArbiter {
	case "":
		return nil, ErrNotEscalated
	case arbiterVoting:
		if s.Voting == nil {
			return nil, apperr.Validation("voting engine is not configured")
		}
		return s.Voting, nil
	default:
		return s.findManager(ctx, a.DisputeArbiter)
	}
}

func escalationRequest(a models.Assertion, timeNs uint64) policy.ResolutionRequest {
	id := common.HexToHash(a.AssertionID)
	return policy.ResolutionRequest{
		Identifier: common.HexToHash(a.Identifier),
		TimeNs:     timeNs,
		Ancillary:  id.Bytes(),
	}
}

// escalate asks the arbiter for a resolution. The continuation stores the
// request key on the assertion; a failure leaves the assertion disputed
// without a mapping, which only an owner can resolve.
func (s *Service) escalate(ctx context.Context, a models.Assertion, arbiter policy.Arbiter) {
	req := escalationRequest(a, uint64(s.now().UnixNano()))
	var key string
	s.dispatcher().Go(ctx, "oracle.escalate",
		func(ctx context.Context) error {
			var err error
			key, err = arbiter.RequestResolution(ctx, s.Account, req)
			return err
		},
		func(ctx context.Context, result error) {
			if result != nil {
				s.escalationFailed(ctx, a.AssertionID, result)
				return
			}
			if err := s.storeEscalation(ctx, a.AssertionID, key); err != nil {
				s.escalationFailed(ctx, a.AssertionID, err)
			}
		},
	)
}

func (s *Service) storeEscalation(ctx context.Context, assertionID, key string) error {
	var rec *events.Recorder
	err := s.withLock(ctx, assertionLockKey(assertionID), func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			a, err := repo.GetAssertion(ctx, assertionID)
			if err != nil {
				return err
			}
			if a == nil {
				return ErrAssertionNotFound
			}
			if a.Settled || a.SettlementPending {
				s.logger().Warn("escalation returned after settlement started",
					zap.String("assertion_id", assertionID), zap.String("request_id", key))
			}
			a.DisputeRequestID = &key
			if err := repo.SaveAssertion(ctx, a); err != nil {
				return err
			}
			rec = s.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentOracle, events.AssertionEscalated, assertionID, map[string]any{
				"request_id": key,
				"arbiter":    a.DisputeArbiter,
			})
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}

func (s *Service) escalationFailed(ctx context.Context, assertionID string, cause error) {
	s.logger().Error("dispute escalation failed, needs manual resolution",
		zap.String("assertion_id", assertionID), zap.Error(cause))
	if err := s.Events.Emit(ctx, events.ComponentOracle, events.AssertionEscalationFailed, assertionID, map[string]any{
		"error": cause.Error(),
	}); err != nil {
		s.logger().Warn("record escalation failure", zap.String("assertion_id", assertionID), zap.Error(err))
	}
}

// bestEffort dispatches a notification whose failure is only logged.
func (s *Service) bestEffort(ctx context.Context, name, assertionID string, fn func(ctx context.Context) error) {
	s.dispatcher().Go(ctx, name, fn, func(_ context.Context, result error) {
		if result != nil {
			s.logger().Warn("notification failed",
				zap.String("name", name),
				zap.String("assertion_id", assertionID),
				zap.Error(result),
			)
		}
	})
}
