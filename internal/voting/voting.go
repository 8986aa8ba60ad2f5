// Package voting resolves disputes by a stake-weighted commit-reveal vote.
//
// A request moves Commit -> Reveal -> Resolved. Voters stake by transferring the
// voting token with a CommitVote message, reveal (price, salt) once the commit
// window has closed, and Resolve takes the stake-weighted median of the revealed
// prices. Stake of every voter that did not reveal the winning price is slashed:
// part goes to the treasury, the rest is shared pro rata among the winners.
package voting

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/lock"
	"nestoracle/internal/repository"
	"nestoracle/internal/transfer"
)

const (
	PhaseCommit   = "Commit"
	PhaseReveal   = "Reveal"
	PhaseResolved = "Resolved"

	StatusPending  = "Pending"
	StatusActive   = "Active"
	StatusResolved = "Resolved"
)

// Outcome is what a Resolve call achieved.
type Outcome string

const (
	OutcomeResolved          Outcome = "Resolved"
	OutcomeRevealExtended    Outcome = "RevealExtended"
	OutcomeEmergencyRequired Outcome = "EmergencyRequired"
)

type ResolveResult struct {
	Outcome Outcome          `json:"outcome"`
	Price   *decimal.Decimal `json:"price,omitempty"`
}

var (
	ErrRequestNotFound     = apperr.NotFound("price request not found")
	ErrRequestExists       = apperr.Conflict("price request already exists")
	ErrNotCommitPhase      = apperr.Validation("not in commit phase")
	ErrCommitEnded         = apperr.Validation("commit phase has ended")
	ErrAlreadyCommitted    = apperr.Conflict("already committed a vote")
	ErrNotRevealPhase      = apperr.Validation("not in reveal phase")
	ErrRevealEnded         = apperr.Validation("reveal phase has ended")
	ErrNoCommitment        = apperr.Validation("no commitment found")
	ErrAlreadyRevealed     = apperr.Conflict("already revealed")
	ErrHashMismatch        = apperr.Validation("hash mismatch")
	ErrNoCommittedStake    = apperr.Validation("no committed stake")
	ErrNoRevealedVotes     = apperr.Validation("no revealed votes")
	ErrEmergencyNotEnabled = apperr.Validation("emergency resolution not enabled for this request")
	ErrNotVotingToken      = apperr.Unauthorized("only the voting token can stake")
	ErrNotOwner            = apperr.Unauthorized("only the voting owner may do this")
)

// Engine owns price requests and vote commitments.
type Engine struct {
	Repo     repository.Repository
	Locker   lock.Locker
	Events   *events.Emitter
	Outbox   *transfer.Outbox
	Logger   *zap.Logger
	Defaults Config

	// Now is the clock read once per entry point. Defaults to time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func requestLockKey(requestID string) string {
	return "voting:request:" + requestID
}
