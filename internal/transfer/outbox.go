// Package transfer persists outbound custody transfers before they are sent,
// so every payout has a durable row that records its outcome.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nestoracle/internal/custody"
	"nestoracle/internal/dispatch"
	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

const (
	PurposeSettlementPayout  = "settlement_payout"
	PurposeOracleFee         = "oracle_fee"
	PurposeTreasuryCut       = "treasury_cut"
	PurposeVoterReward       = "voter_reward"
	PurposeEmergencyWithdraw = "emergency_withdraw"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrNotFound = errors.New("transfer not found")

// Done is called after the transfer row has been updated with the outcome.
type Done func(ctx context.Context, item models.Transfer, result error)

type Outbox struct {
	Component  string
	Repo       repository.TransferRepository
	Custody    custody.Custody
	Dispatcher dispatch.Dispatcher
	Logger     *zap.Logger
}

// Enqueue writes a pending row through repo, which may be transaction-bound.
func (o *Outbox) Enqueue(ctx context.Context, repo repository.TransferRepository, purpose, subject, currency, recipient string, amount decimal.Decimal) (*models.Transfer, error) {
	if repo == nil {
		repo = o.Repo
	}
	item := &models.Transfer{
		ID:        uuid.NewString(),
		Component: o.Component,
		Purpose:   purpose,
		Subject:   subject,
		Currency:  currency,
		Recipient: recipient,
		Amount:    amount,
		Status:    StatusPending,
	}
	if err := repo.CreateTransfer(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Dispatch sends the transfer asynchronously. Rows already marked sent are not resent.
func (o *Outbox) Dispatch(ctx context.Context, item models.Transfer, done Done) {
	id := item.ID
	o.Dispatcher.Go(ctx, o.Component+"."+item.Purpose,
		func(ctx context.Context) error {
			current, err := o.Repo.GetTransfer(ctx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return ErrNotFound
			}
			if current.Status == StatusSent {
				return nil
			}
			return o.Custody.Transfer(custody.WithIdempotencyKey(ctx, id), current.Currency, current.Recipient, current.Amount)
		},
		func(ctx context.Context, result error) {
			updated := o.record(ctx, id, result)
			if updated == nil {
				updated = &item
			}
			if done != nil {
				done(ctx, *updated, result)
			}
		},
	)
}

func (o *Outbox) record(ctx context.Context, id string, result error) *models.Transfer {
	current, err := o.Repo.GetTransfer(ctx, id)
	if err != nil || current == nil {
		o.logWarn("transfer reload failed", zap.String("transfer_id", id), zap.Error(err))
		return nil
	}
	if current.Status == StatusSent {
		return current
	}
	current.Attempts++
	if result == nil {
		now := time.Now().UTC()
		current.Status = StatusSent
		current.LastError = ""
		current.CompletedAt = &now
	} else {
		current.Status = StatusFailed
		current.LastError = result.Error()
		o.logWarn("transfer failed",
			zap.String("transfer_id", id),
			zap.String("purpose", current.Purpose),
			zap.String("recipient", current.Recipient),
			zap.String("amount", current.Amount.String()),
			zap.Error(result),
		)
	}
	if err := o.Repo.SaveTransfer(ctx, current); err != nil {
		o.logWarn("transfer save failed", zap.String("transfer_id", id), zap.Error(err))
	}
	return current
}

// RetryFailed redispatches failed transfers of this component. Settlement payouts
// are excluded; the oracle retries those through its own saga.
func (o *Outbox) RetryFailed(ctx context.Context, limit int) (int, error) {
	status := StatusFailed
	component := o.Component
	exclude := PurposeSettlementPayout
	items, err := o.Repo.ListTransfers(ctx, repository.ListTransfersParams{
		Limit:          limit,
		Component:      &component,
		Status:         &status,
		ExcludePurpose: &exclude,
	})
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		o.Dispatch(ctx, item, nil)
	}
	return len(items), nil
}

func (o *Outbox) logWarn(msg string, fields ...zap.Field) {
	if o.Logger == nil {
		return
	}
	o.Logger.Warn(msg, fields...)
}
