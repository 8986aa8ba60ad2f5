// Package oracle is the optimistic assertion registry. Assertions are bonded
// claims that become true once their liveness expires unchallenged. A dispute
// escalates the claim to an arbiter (the voting engine or the assertion's
// escalation manager) and settlement pays the bonds out through a two-phase
// payout saga that can be retried without ever paying twice.
package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/dispatch"
	"nestoracle/internal/events"
	"nestoracle/internal/lock"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
	"nestoracle/internal/transfer"
)

var (
	ErrAssertionNotFound     = apperr.NotFound("assertion does not exist")
	ErrAssertionExists       = apperr.Conflict("assertion already exists")
	ErrAssertionBlocked      = apperr.Validation("assertion not allowed by escalation manager")
	ErrUnknownManager        = apperr.Validation("escalation manager is not registered")
	ErrUnsupportedIdentifier = apperr.Validation("unsupported identifier")
	ErrUnsupportedCurrency   = apperr.Validation("unsupported currency")
	ErrBondTooLow            = apperr.Validation("bond amount too low")
	ErrAlreadyDisputed       = apperr.Conflict("assertion already disputed")
	ErrExpired               = apperr.Validation("assertion is expired")
	ErrWrongCurrency         = apperr.Validation("wrong currency for dispute")
	ErrBondMismatch          = apperr.Validation("dispute bond must match assertion bond")
	ErrDisputeNotAllowed     = apperr.Unauthorized("dispute not allowed by escalation manager")
	ErrAlreadySettled        = apperr.Conflict("assertion already settled")
	ErrSettlementPending     = apperr.Conflict("settlement already pending payout")
	ErrNotExpired            = apperr.TooEarly("assertion not expired")
	ErrNotEscalated          = apperr.Validation("dispute not escalated, use manual resolution")
	ErrNotResolvedYet        = apperr.TooEarly("dispute not resolved yet")
	ErrNotDisputed           = apperr.Validation("assertion not disputed")
	ErrNotPending            = apperr.Validation("settlement is not pending")
	ErrPayoutInFlight        = apperr.Conflict("settlement payout attempt already in flight")
	ErrNotInFlight           = apperr.Validation("settlement payout not in flight")
	ErrNotSettled            = apperr.Validation("assertion not settled")
	ErrNotOwner              = apperr.Unauthorized("only the oracle owner may do this")
)

// Notifier delivers resolution callbacks to the application that made an assertion.
type Notifier interface {
	AssertionResolved(ctx context.Context, recipient, assertionID string, truthful bool) error
	AssertionDisputed(ctx context.Context, recipient, assertionID string) error
}

type Service struct {
	Repo       repository.Repository
	Locker     lock.Locker
	Events     *events.Emitter
	Outbox     *transfer.Outbox
	Dispatcher dispatch.Dispatcher
	Policies   policy.Finder
	// Voting is the default arbiter for disputes. Nil disables escalation to a vote.
	Voting    policy.Arbiter
	Callbacks Notifier
	// Account is the oracle's escrow account and its identity towards arbiters.
	Account  string
	Logger   *zap.Logger
	Defaults Config

	Now func() time.Time
}

func (s *Service) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func assertionLockKey(id string) string {
	return "oracle:assertion:" + id
}

// withLock runs fn while holding key. Anything that may re-enter the same key,
// such as an inline dispatch continuation, must run after withLock returns.
func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	if s.Locker == nil {
		return fn()
	}
	unlock, err := s.Locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *Service) dispatcher() dispatch.Dispatcher {
	if s.Dispatcher == nil {
		return dispatch.Inline{}
	}
	return s.Dispatcher
}
