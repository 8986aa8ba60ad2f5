package oracle

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
	"nestoracle/internal/telemetry"
	"nestoracle/internal/transfer"
	"nestoracle/internal/units"
)

var (
	errOutboxMissing        = apperr.Validation("settlement outbox not configured")
	errPayoutOutcomeUnknown = errors.New("payout outcome unknown, reconciled by owner")
)

// payout is what beginPayout committed and what has to be dispatched once the
// assertion lock is released.
type payout struct {
	transfer models.Transfer
	fee      *models.Transfer
	attempt  int
}

// Settle resolves an assertion and starts its payout. Undisputed assertions
// settle true once expired; disputed ones need their arbiter's answer.
func (s *Service) Settle(ctx context.Context, assertionID string) (err error) {
	ctx, span := telemetry.Start(ctx, "oracle", "Settle", attribute.String("assertion_id", assertionID))
	defer func() { telemetry.End(span, err) }()

	if s.Outbox == nil {
		return errOutboxMissing
	}
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return err
	}
	var (
		started payout
		rec     *events.Recorder
	)
	err = s.withLock(ctx, assertionLockKey(assertionID), func() error {
		a, err := s.Repo.GetAssertion(ctx, assertionID)
		if err != nil {
			return err
		}
		if err := checkSettleable(a); err != nil {
			return err
		}
		resolution, err := s.resolution(ctx, a)
		if err != nil {
			return err
		}
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			a, err := repo.GetAssertion(ctx, assertionID)
			if err != nil {
				return err
			}
			if err := checkSettleable(a); err != nil {
				return err
			}
			rec = s.Events.Recorder(repo)
			started, err = s.beginPayout(ctx, repo, rec, cfg, a, resolution)
			return err
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	s.dispatchPayout(ctx, started)
	return nil
}

func checkSettleable(a *models.Assertion) error {
	if a == nil {
		return ErrAssertionNotFound
	}
	if a.Settled {
		return ErrAlreadySettled
	}
	if a.SettlementPending {
		return ErrSettlementPending
	}
	return nil
}

// resolution is true for an expired undisputed assertion, and for a disputed
// one when its arbiter answered at least NumericalTrue.
func (s *Service) resolution(ctx context.Context, a *models.Assertion) (bool, error) {
	if a.Disputer == nil {
		if s.now().Before(a.ExpirationTime) {
			return false, ErrNotExpired
		}
		return true, nil
	}
	if a.DisputeRequestID == nil {
		return false, ErrNotEscalated
	}
	arbiter, err := s.resolveArbiter(ctx, a)
	if err != nil {
		return false, err
	}
	price, err := arbiter.Resolution(ctx, *a.DisputeRequestID)
	if err != nil {
		return false, err
	}
	if price == nil {
		return false, ErrNotResolvedYet
	}
	return price.GreaterThanOrEqual(units.NumericalTrue), nil
}

// ResolveDisputed lets the owner settle a dispute that could not be escalated.
func (s *Service) ResolveDisputed(ctx context.Context, caller, assertionID string, resolution bool) (err error) {
	ctx, span := telemetry.Start(ctx, "oracle", "ResolveDisputed", attribute.String("assertion_id", assertionID))
	defer func() { telemetry.End(span, err) }()

	if s.Outbox == nil {
		return errOutboxMissing
	}
	cfg, err := s.requireOwner(ctx, caller)
	if err != nil {
		return err
	}
	var (
		started payout
		rec     *events.Recorder
	)
	err = s.withLock(ctx, assertionLockKey(assertionID), func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			a, err := repo.GetAssertion(ctx, assertionID)
			if err != nil {
				return err
			}
			if err := checkSettleable(a); err != nil {
				return err
			}
			if a.Disputer == nil {
				return ErrNotDisputed
			}
			if a.DisputeRequestID != nil {
				s.logger().Warn("manual resolution overrides an escalated dispute",
					zap.String("assertion_id", assertionID),
					zap.String("request_id", *a.DisputeRequestID),
				)
			}
			rec = s.Events.Recorder(repo)
			started, err = s.beginPayout(ctx, repo, rec, cfg, a, resolution)
			return err
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	s.dispatchPayout(ctx, started)
	return nil
}

// OracleFee is the part of a disputed bond kept by the oracle.
func OracleFee(bond, burn decimal.Decimal) decimal.Decimal {
	return units.MulDiv(burn, bond, units.Scale)
}

// payoutOf returns who is paid and how much once resolution is known.
func payoutOf(a *models.Assertion, resolution bool, burn decimal.Decimal) (recipient string, amount, fee decimal.Decimal) {
	if a.Disputer == nil {
		return a.Asserter, a.Bond, decimal.Zero
	}
	fee = OracleFee(a.Bond, burn)
	amount = a.Bond.Mul(decimal.NewFromInt(2)).Sub(fee)
	if resolution {
		return a.Asserter, amount, fee
	}
	return *a.Disputer, amount, fee
}

// beginPayout records the payout transfer and marks the settlement pending and
// in flight. The transfer row id is the payout ticket.
func (s *Service) beginPayout(ctx context.Context, repo repository.Repository, rec *events.Recorder, cfg Config, a *models.Assertion, resolution bool) (payout, error) {
	recipient, amount, fee := payoutOf(a, resolution, cfg.BurnedBondPercentage)
	item, err := s.Outbox.Enqueue(ctx, repo, transfer.PurposeSettlementPayout, a.AssertionID, a.Currency, recipient, amount)
	if err != nil {
		return payout{}, err
	}
	out := payout{transfer: *item, attempt: 1}
	if fee.IsPositive() && !a.FeePaid {
		if cfg.Owner == "" {
			s.logger().Warn("oracle fee kept in escrow, no owner configured",
				zap.String("assertion_id", a.AssertionID), zap.String("fee", fee.String()))
		} else {
			feeItem, err := s.Outbox.Enqueue(ctx, repo, transfer.PurposeOracleFee, a.AssertionID, a.Currency, cfg.Owner, fee)
			if err != nil {
				return payout{}, err
			}
			out.fee = feeItem
		}
		a.FeePaid = true
	}

	a.SettlementPending = true
	a.SettlementInFlight = true
	a.PendingSettlementResolution = resolution
	a.PayoutTicket = item.ID
	a.PayoutAttempts = out.attempt
	if err := repo.SaveAssertion(ctx, a); err != nil {
		return payout{}, err
	}
	err = rec.Emit(ctx, events.ComponentOracle, events.AssertionSettlementPending, a.AssertionID, map[string]any{
		"ticket":     item.ID,
		"attempt":    a.PayoutAttempts,
		"recipient":  recipient,
		"amount":     amount,
		"oracle_fee": fee,
		"resolution": resolution,
	})
	return out, err
}

func (s *Service) dispatchPayout(ctx context.Context, p payout) {
	if p.fee != nil {
		s.Outbox.Dispatch(ctx, *p.fee, nil)
	}
	s.Outbox.Dispatch(ctx, p.transfer, s.payoutDone(p.attempt))
}

// payoutDone binds a completion to the attempt that was dispatched.
func (s *Service) payoutDone(attempt int) transfer.Done {
	return func(ctx context.Context, item models.Transfer, result error) {
		s.completePayout(ctx, item, attempt, result)
	}
}

// completePayout is the continuation of a payout transfer. Results for a ticket
// or attempt that is no longer the one in flight are ignored, so a late or
// repeated completion can never settle twice or release a newer attempt.
func (s *Service) completePayout(ctx context.Context, item models.Transfer, attempt int, result error) {
	var (
		settled models.Assertion
		rec     *events.Recorder
	)
	err := s.withLock(ctx, assertionLockKey(item.Subject), func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			a, err := repo.GetAssertion(ctx, item.Subject)
			if err != nil {
				return err
			}
			if a == nil || a.PayoutTicket != item.ID || a.PayoutAttempts != attempt || !a.SettlementPending || !a.SettlementInFlight {
				s.logger().Info("stale payout completion ignored",
					zap.String("assertion_id", item.Subject), zap.String("ticket", item.ID), zap.Int("attempt", attempt))
				return nil
			}
			rec = s.Events.Recorder(repo)
			if result != nil {
				a.SettlementInFlight = false
				if err := repo.SaveAssertion(ctx, a); err != nil {
					return err
				}
				return rec.Emit(ctx, events.ComponentOracle, events.AssertionSettlementPayoutFailed, a.AssertionID, map[string]any{
					"ticket":  item.ID,
					"attempt": a.PayoutAttempts,
					"error":   result.Error(),
				})
			}
			now := s.now()
			a.SettlementPending = false
			a.SettlementInFlight = false
			a.Settled = true
			a.SettlementResolution = a.PendingSettlementResolution
			a.SettledAt = &now
			if err := repo.SaveAssertion(ctx, a); err != nil {
				return err
			}
			settled = *a
			return rec.Emit(ctx, events.ComponentOracle, events.AssertionSettled, a.AssertionID, map[string]any{
				"bond_recipient":  item.Recipient,
				"amount":          item.Amount,
				"disputed":        a.Disputer != nil,
				"resolution":      a.SettlementResolution,
				"payout_attempts": a.PayoutAttempts,
			})
		})
	})
	if err != nil {
		s.logger().Error("payout completion failed",
			zap.String("assertion_id", item.Subject), zap.String("ticket", item.ID), zap.Error(err))
		return
	}
	rec.Flush(ctx)
	if settled.Settled {
		s.notifyResolved(ctx, settled)
	}
}

func (s *Service) notifyResolved(ctx context.Context, a models.Assertion) {
	if a.CallbackRecipient != nil && s.Callbacks != nil && !a.DiscardOracle {
		recipient := *a.CallbackRecipient
		s.bestEffort(ctx, "oracle.resolved_callback", a.AssertionID, func(ctx context.Context) error {
			return s.Callbacks.AssertionResolved(ctx, recipient, a.AssertionID, a.SettlementResolution)
		})
	}
	if a.EscalationManager != nil {
		manager, err := s.findManager(ctx, *a.EscalationManager)
		if err != nil {
			s.logger().Warn("escalation manager lookup failed", zap.String("assertion_id", a.AssertionID), zap.Error(err))
			return
		}
		s.bestEffort(ctx, "oracle.manager_resolved", a.AssertionID, func(ctx context.Context) error {
			return manager.AssertionResolved(ctx, a.AssertionID, a.SettlementResolution)
		})
	}
}

// RetrySettlementPayout redispatches the payout of a pending settlement whose
// last attempt failed. The same transfer row is sent again.
func (s *Service) RetrySettlementPayout(ctx context.Context, assertionID string) (err error) {
	ctx, span := telemetry.Start(ctx, "oracle", "RetrySettlementPayout", attribute.String("assertion_id", assertionID))
	defer func() { telemetry.End(span, err) }()

	if s.Outbox == nil {
		return errOutboxMissing
	}
	var (
		item    models.Transfer
		attempt int
		rec     *events.Recorder
	)
	err = s.withLock(ctx, assertionLockKey(assertionID), func() error {
		return s.Repo.InTx(ctx, func(repo repository.Repository) error {
			a, err := repo.GetAssertion(ctx, assertionID)
			if err != nil {
				return err
			}
			if a == nil {
				return ErrAssertionNotFound
			}
			if a.Settled {
				return ErrAlreadySettled
			}
			if !a.SettlementPending {
				return ErrNotPending
			}
			if a.SettlementInFlight {
				return ErrPayoutInFlight
			}
			row, err := repo.GetTransfer(ctx, a.PayoutTicket)
			if err != nil {
				return err
			}
			if row == nil {
				return apperr.NotFound("payout transfer " + a.PayoutTicket)
			}
			a.SettlementInFlight = true
			a.PayoutAttempts++
			if err := repo.SaveAssertion(ctx, a); err != nil {
				return err
			}
			item = *row
			attempt = a.PayoutAttempts
			rec = s.Events.Recorder(repo)
			return rec.Emit(ctx, events.ComponentOracle, events.AssertionSettlementRetryRequested, assertionID, map[string]any{
				"ticket":  a.PayoutTicket,
				"attempt": a.PayoutAttempts,
			})
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	s.Outbox.Dispatch(ctx, item, s.payoutDone(attempt))
	return nil
}

// Reconcile closes a payout left in flight by a crash, using the outcome stored
// on its transfer row. A row that never recorded an outcome is treated as
// failed; the retry that follows reuses the row id as idempotency key.
func (s *Service) Reconcile(ctx context.Context, caller, assertionID string) (err error) {
	ctx, span := telemetry.Start(ctx, "oracle", "Reconcile", attribute.String("assertion_id", assertionID))
	defer func() { telemetry.End(span, err) }()

	if _, err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	var (
		item    models.Transfer
		attempt int
	)
	err = s.withLock(ctx, assertionLockKey(assertionID), func() error {
		a, err := s.Repo.GetAssertion(ctx, assertionID)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrAssertionNotFound
		}
		if a.Settled {
			return ErrAlreadySettled
		}
		if !a.SettlementPending || !a.SettlementInFlight {
			return ErrNotInFlight
		}
		row, err := s.Repo.GetTransfer(ctx, a.PayoutTicket)
		if err != nil {
			return err
		}
		if row == nil {
			return apperr.NotFound("payout transfer " + a.PayoutTicket)
		}
		item = *row
		attempt = a.PayoutAttempts
		return nil
	})
	if err != nil {
		return err
	}
	var result error
	switch item.Status {
	case transfer.StatusSent:
	case transfer.StatusFailed:
		result = errors.New(item.LastError)
	default:
		result = errPayoutOutcomeUnknown
	}
	s.logger().Warn("reconciling in-flight payout",
		zap.String("assertion_id", assertionID),
		zap.String("ticket", item.ID),
		zap.String("transfer_status", item.Status),
	)
	s.completePayout(ctx, item, attempt, result)
	return nil
}

// SettleAndGetResult settles the assertion if nothing has started yet, then
// returns its result.
func (s *Service) SettleAndGetResult(ctx context.Context, assertionID string) (bool, error) {
	a, err := s.Repo.GetAssertion(ctx, assertionID)
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, ErrAssertionNotFound
	}
	if !a.Settled && !a.SettlementPending {
		if err := s.Settle(ctx, assertionID); err != nil {
			return false, err
		}
	}
	return s.GetResult(ctx, assertionID)
}

// GetResult is false for a disputed assertion whose policy discards the
// oracle's answer; otherwise the assertion must be settled.
func (s *Service) GetResult(ctx context.Context, assertionID string) (bool, error) {
	a, err := s.Repo.GetAssertion(ctx, assertionID)
	if err != nil {
		return false, err
	}
	if a == nil {
		return false, ErrAssertionNotFound
	}
	if a.Disputer != nil && a.DiscardOracle {
		return false, nil
	}
	if !a.Settled {
		return false, ErrNotSettled
	}
	return a.SettlementResolution, nil
}
