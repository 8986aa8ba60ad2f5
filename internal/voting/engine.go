package voting

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"nestoracle/internal/apperr"
	"nestoracle/internal/events"
	"nestoracle/internal/ids"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
	"nestoracle/internal/service"
	"nestoracle/internal/telemetry"
	"nestoracle/internal/transfer"
	"nestoracle/internal/units"
)

// RequestPrice opens a vote. Identical inputs still get distinct ids because
// the engine nonce is part of the digest.
func (e *Engine) RequestPrice(ctx context.Context, requester, identifier string, timestampNs uint64, ancillary []byte) (requestID string, err error) {
	ctx, span := telemetry.Start(ctx, "voting", "RequestPrice", attribute.String("identifier", identifier))
	defer func() { telemetry.End(span, err) }()

	requester = strings.TrimSpace(requester)
	if requester == "" {
		return "", apperr.Validation("requester is required")
	}
	if err := units.CheckTimestampNs(timestampNs); err != nil {
		return "", apperr.Validation(err.Error())
	}

	unlock, err := e.Locker.Lock(ctx, configLockKey)
	if err != nil {
		return "", err
	}
	defer unlock()

	now := e.now()
	var rec *events.Recorder
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		cfg, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		id := ids.RequestID(identifier, timestampNs, ancillary, cfg.Nonce).Hex()
		existing, err := repo.GetPriceRequest(ctx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrRequestExists
		}
		item := &models.PriceRequest{
			RequestID:           id,
			Identifier:          identifier,
			Timestamp:           time.Unix(0, int64(timestampNs)).UTC(),
			TimestampNs:         int64(timestampNs),
			AncillaryData:       append([]byte(nil), ancillary...),
			Requester:           requester,
			Nonce:               cfg.Nonce,
			Status:              StatusActive,
			Phase:               PhaseCommit,
			CommitStartTime:     now,
			TotalCommittedStake: decimal.Zero,
			RevealedStake:       decimal.Zero,
		}
		if err := repo.CreatePriceRequest(ctx, item); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrRequestExists
			}
			return err
		}
		cfg.Nonce++
		if err := storeConfig(ctx, repo, cfg); err != nil {
			return err
		}
		requestID = id
		rec = e.Events.Recorder(repo)
		return rec.Emit(ctx, events.ComponentVoting, events.PriceRequested, id, map[string]any{
			"identifier":     identifier,
			"timestamp_ns":   timestampNs,
			"ancillary_data": ancillaryHex(ancillary),
			"requester":      requester,
		})
	})
	if err != nil {
		return "", err
	}
	rec.Flush(ctx)
	return requestID, nil
}

// IncomingMessage is the JSON payload attached to a voting-token transfer.
type IncomingMessage struct {
	CommitVote *CommitVoteMessage `json:"CommitVote,omitempty"`
}

type CommitVoteMessage struct {
	RequestID  string `json:"request_id"`
	CommitHash string `json:"commit_hash"`
}

// OnIncomingTransfer handles stake arriving from sender. The only accepted
// message is CommitVote; any error means the transfer must be refunded.
func (e *Engine) OnIncomingTransfer(ctx context.Context, sender, currency string, amount decimal.Decimal, message string) error {
	cfg, err := e.loadConfig(ctx, e.Repo)
	if err != nil {
		return err
	}
	if cfg.VotingToken == "" || currency != cfg.VotingToken {
		return ErrNotVotingToken
	}
	if !amount.IsPositive() {
		return apperr.Validation("stake amount must be positive")
	}
	if err := units.CheckAmount(amount); err != nil {
		return apperr.Validation(err.Error())
	}
	var msg IncomingMessage
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		return apperr.Validation("invalid transfer message format")
	}
	if msg.CommitVote == nil {
		return apperr.Validation("unsupported transfer message")
	}
	requestID, err := ids.ParseHash(msg.CommitVote.RequestID)
	if err != nil {
		return apperr.Validation("invalid request_id: " + err.Error())
	}
	commitHash, err := ids.ParseHash(msg.CommitVote.CommitHash)
	if err != nil {
		return apperr.Validation("invalid commit_hash: " + err.Error())
	}
	return e.commit(ctx, requestID.Hex(), strings.TrimSpace(sender), commitHash.Hex(), amount)
}

func (e *Engine) commit(ctx context.Context, requestID, voter, commitHash string, stake decimal.Decimal) (err error) {
	ctx, span := telemetry.Start(ctx, "voting", "Commit", attribute.String("request_id", requestID))
	defer func() { telemetry.End(span, err) }()

	if voter == "" {
		return apperr.Validation("voter is required")
	}
	unlock, err := e.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()
	var rec *events.Recorder
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		cfg, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		req, err := repo.GetPriceRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrRequestNotFound
		}
		if req.Phase != PhaseCommit {
			return ErrNotCommitPhase
		}
		if !now.Before(req.CommitStartTime.Add(cfg.CommitDuration)) {
			return ErrCommitEnded
		}
		existing, err := repo.GetVoteCommitment(ctx, requestID, voter)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyCommitted
		}
		item := &models.VoteCommitment{
			RequestID:    requestID,
			Voter:        voter,
			Seq:          req.VoterCount,
			CommitHash:   commitHash,
			StakedAmount: stake,
			CommittedAt:  now,
		}
		if err := repo.CreateVoteCommitment(ctx, item); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyCommitted
			}
			return err
		}
		req.VoterCount++
		req.TotalCommittedStake = req.TotalCommittedStake.Add(stake)
		if err := repo.SavePriceRequest(ctx, req); err != nil {
			return err
		}
		rec = e.Events.Recorder(repo)
		return rec.Emit(ctx, events.ComponentVoting, events.VoteCommitted, requestID, map[string]any{
			"voter": voter,
			"stake": stake,
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}

// AdvanceToReveal is permissionless once the commit window has closed.
func (e *Engine) AdvanceToReveal(ctx context.Context, requestID string) (err error) {
	ctx, span := telemetry.Start(ctx, "voting", "AdvanceToReveal", attribute.String("request_id", requestID))
	defer func() { telemetry.End(span, err) }()

	unlock, err := e.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()
	var rec *events.Recorder
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		cfg, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		req, err := repo.GetPriceRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrRequestNotFound
		}
		if req.Phase != PhaseCommit {
			return ErrNotCommitPhase
		}
		if now.Before(req.CommitStartTime.Add(cfg.CommitDuration)) {
			return apperr.TooEarly("commit phase not yet ended")
		}
		req.Phase = PhaseReveal
		req.RevealStartTime = &now
		if err := repo.SavePriceRequest(ctx, req); err != nil {
			return err
		}
		rec = e.Events.Recorder(repo)
		return rec.Emit(ctx, events.ComponentVoting, events.RevealPhaseStarted, requestID, map[string]any{
			"reveal_start_time": now,
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}

// Reveal discloses the voter's committed price. The salt must be the one used
// to build the commitment hash.
func (e *Engine) Reveal(ctx context.Context, requestID, voter string, price decimal.Decimal, salt common.Hash) (err error) {
	ctx, span := telemetry.Start(ctx, "voting", "Reveal", attribute.String("request_id", requestID))
	defer func() { telemetry.End(span, err) }()

	voter = strings.TrimSpace(voter)
	if err := units.CheckPrice(price); err != nil {
		return apperr.Validation(err.Error())
	}
	unlock, err := e.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()
	var rec *events.Recorder
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		cfg, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		req, err := repo.GetPriceRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrRequestNotFound
		}
		if req.Phase != PhaseReveal || req.RevealStartTime == nil {
			return ErrNotRevealPhase
		}
		if !now.Before(req.RevealStartTime.Add(cfg.RevealDuration)) {
			return ErrRevealEnded
		}
		c, err := repo.GetVoteCommitment(ctx, requestID, voter)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrNoCommitment
		}
		if c.Revealed {
			return ErrAlreadyRevealed
		}
		hash, err := ids.VoteHash(price, salt)
		if err != nil {
			return apperr.Validation(err.Error())
		}
		if !strings.EqualFold(hash.Hex(), c.CommitHash) {
			return ErrHashMismatch
		}
		revealed := price
		c.Revealed = true
		c.RevealedPrice = &revealed
		c.RevealedAt = &now
		if err := repo.SaveVoteCommitment(ctx, c); err != nil {
			return err
		}
		req.RevealedStake = req.RevealedStake.Add(c.StakedAmount)
		if err := repo.SavePriceRequest(ctx, req); err != nil {
			return err
		}
		rec = e.Events.Recorder(repo)
		return rec.Emit(ctx, events.ComponentVoting, events.VoteRevealed, requestID, map[string]any{
			"voter": voter,
			"price": price,
			"stake": c.StakedAmount,
		})
	})
	if err != nil {
		return err
	}
	rec.Flush(ctx)
	return nil
}

// Resolve closes the reveal phase. Low participation either grants a fresh
// reveal window or flags the request for emergency resolution; both are
// reported through the result, not as errors.
func (e *Engine) Resolve(ctx context.Context, requestID string) (result ResolveResult, err error) {
	ctx, span := telemetry.Start(ctx, "voting", "Resolve", attribute.String("request_id", requestID))
	defer func() { telemetry.End(span, err) }()

	unlock, err := e.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return ResolveResult{}, err
	}
	defer unlock()

	now := e.now()
	var rec *events.Recorder
	var queued []models.Transfer
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		cfg, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		req, err := repo.GetPriceRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrRequestNotFound
		}
		if req.Phase != PhaseReveal || req.RevealStartTime == nil {
			return ErrNotRevealPhase
		}
		if now.Before(req.RevealStartTime.Add(cfg.RevealDuration)) {
			return apperr.TooEarly("reveal phase not yet ended")
		}
		total := req.TotalCommittedStake
		if !total.IsPositive() {
			return ErrNoCommittedStake
		}
		rec = e.Events.Recorder(repo)

		required := units.Bps(total, cfg.MinParticipationBps)
		if req.RevealedStake.LessThan(required) {
			if req.LowParticipationExtensions < cfg.MaxLowParticipationExtensions {
				req.LowParticipationExtensions++
				req.RevealStartTime = &now
				result = ResolveResult{Outcome: OutcomeRevealExtended}
			} else {
				req.EmergencyRequired = true
				result = ResolveResult{Outcome: OutcomeEmergencyRequired}
			}
			if err := repo.SavePriceRequest(ctx, req); err != nil {
				return err
			}
			return rec.Emit(ctx, events.ComponentVoting, events.LowParticipationTriggered, requestID, map[string]any{
				"revealed_stake":     req.RevealedStake,
				"required_stake":     required,
				"extensions":         req.LowParticipationExtensions,
				"emergency_required": req.EmergencyRequired,
			})
		}

		commitments, err := repo.ListVoteCommitments(ctx, requestID)
		if err != nil {
			return err
		}
		votes := make([]Vote, 0, len(commitments))
		stakes := make([]Commitment, 0, len(commitments))
		for _, c := range commitments {
			stakes = append(stakes, Commitment{Voter: c.Voter, Stake: c.StakedAmount, Revealed: c.Revealed, Price: c.RevealedPrice})
			if c.Revealed && c.RevealedPrice != nil {
				votes = append(votes, Vote{Price: *c.RevealedPrice, Stake: c.StakedAmount})
			}
		}
		price, ok := StakeWeightedMedian(votes)
		if !ok {
			return ErrNoRevealedVotes
		}

		if cfg.distributes() {
			if e.Outbox == nil {
				return errOutboxMissing
			}
			dist := Distribute(stakes, price, cfg.TreasuryBps)
			if dist.TreasuryCut.IsPositive() {
				item, err := e.Outbox.Enqueue(ctx, repo, transfer.PurposeTreasuryCut, requestID, cfg.VotingToken, cfg.Treasury, dist.TreasuryCut)
				if err != nil {
					return err
				}
				queued = append(queued, *item)
			}
			for _, p := range dist.Payouts {
				if !p.Amount.IsPositive() {
					continue
				}
				item, err := e.Outbox.Enqueue(ctx, repo, transfer.PurposeVoterReward, requestID, cfg.VotingToken, p.Recipient, p.Amount)
				if err != nil {
					return err
				}
				queued = append(queued, *item)
			}
			if dist.Dust.IsPositive() {
				e.logger().Info("reward pool dust left undistributed",
					zap.String("request_id", requestID),
					zap.String("dust", dist.Dust.String()),
				)
			}
		}

		resolved := price
		req.Phase = PhaseResolved
		req.Status = StatusResolved
		req.ResolvedPrice = &resolved
		req.EmergencyRequired = false
		req.ResolvedAt = &now
		if err := repo.SavePriceRequest(ctx, req); err != nil {
			return err
		}
		result = ResolveResult{Outcome: OutcomeResolved, Price: &resolved}
		return rec.Emit(ctx, events.ComponentVoting, events.PriceResolved, requestID, map[string]any{
			"resolved_price": resolved,
			"total_stake":    total,
		})
	})
	if err != nil {
		return ResolveResult{}, err
	}
	rec.Flush(ctx)
	for _, item := range queued {
		e.Outbox.Dispatch(ctx, item, nil)
	}
	return result, nil
}

// EmergencyResolve force-resolves a request stuck on low participation. No
// stake is redistributed.
func (e *Engine) EmergencyResolve(ctx context.Context, caller, requestID string, price decimal.Decimal, reason string) (err error) {
	ctx, span := telemetry.Start(ctx, "voting", "EmergencyResolve", attribute.String("request_id", requestID))
	defer func() { telemetry.End(span, err) }()

	if err := units.CheckPrice(price); err != nil {
		return apperr.Validation(err.Error())
	}
	unlock, err := e.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return err
	}
	defer unlock()

	now := e.now()
	var rec *events.Recorder
	err = e.Repo.InTx(ctx, func(repo repository.Repository) error {
		cfg, err := e.loadConfig(ctx, repo)
		if err != nil {
			return err
		}
		if caller != cfg.Owner {
			return ErrNotOwner
		}
		req, err := repo.GetPriceRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return ErrRequestNotFound
		}
		if req.Phase != PhaseReveal {
			return apperr.Validation("emergency resolve only from reveal phase")
		}
		if !req.EmergencyRequired {
			return ErrEmergencyNotEnabled
		}
		resolved := price
		req.Phase = PhaseResolved
		req.Status = StatusResolved
		req.ResolvedPrice = &resolved
		req.EmergencyRequired = false
		req.ResolvedAt = &now
		if err := repo.SavePriceRequest(ctx, req); err != nil {
			return err
		}
		rec = e.Events.Recorder(repo)
		if err := rec.Emit(ctx, events.ComponentVoting, events.PriceResolved, requestID, map[string]any{
			"resolved_price": resolved,
			"total_stake":    req.TotalCommittedStake,
		}); err != nil {
			return err
		}
		return rec.Emit(ctx, events.ComponentVoting, events.EmergencyPriceResolved, requestID, map[string]any{
			"resolved_price": resolved,
			"reason":         reason,
		})
	})
	if err != nil {
		return err
	}
	e.logger().Warn("emergency resolution",
		zap.String("request_id", requestID),
		zap.String("resolved_price", price.String()),
		zap.String("reason", reason),
		zap.String("caller", caller),
	)
	rec.Flush(ctx)
	return nil
}

var errOutboxMissing = errors.New("voting: transfer outbox not configured")

func storeConfig(ctx context.Context, repo repository.SettingsRepository, cfg Config) error {
	return service.StoreJSON(ctx, repo, configKey, "voting engine config", cfg)
}
