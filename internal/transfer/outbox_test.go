package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"nestoracle/internal/custody"
	"nestoracle/internal/dispatch"
	"nestoracle/internal/models"
	"nestoracle/internal/repository/memory"
)

type flakyCustody struct {
	failures int
	inner    custody.Custody
}

func (f *flakyCustody) Transfer(ctx context.Context, currency, recipient string, amount decimal.Decimal) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("ledger unavailable")
	}
	return f.inner.Transfer(ctx, currency, recipient, amount)
}

func newOutbox(failures int) (*Outbox, *custody.Ledger, *memory.Store) {
	ledger := custody.NewLedger()
	ledger.Mint("tok", "voting", decimal.NewFromInt(100))
	repo := memory.New()
	return &Outbox{
		Component:  "voting",
		Repo:       repo,
		Custody:    &flakyCustody{failures: failures, inner: ledger.Account("voting")},
		Dispatcher: dispatch.Inline{},
	}, ledger, repo
}

func TestDispatchMarksSent(t *testing.T) {
	o, ledger, repo := newOutbox(0)
	ctx := context.Background()
	item, err := o.Enqueue(ctx, nil, PurposeVoterReward, "req", "tok", "alice", decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("enqueue err=%v", err)
	}
	var got models.Transfer
	o.Dispatch(ctx, *item, func(_ context.Context, item models.Transfer, result error) {
		got = item
	})
	if got.Status != StatusSent || got.Attempts != 1 {
		t.Fatalf("status=%s attempts=%d", got.Status, got.Attempts)
	}
	if bal := ledger.Balance("tok", "alice"); !bal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("alice=%s want=10", bal)
	}
	stored, _ := repo.GetTransfer(ctx, item.ID)
	if stored.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
}

func TestRetryFailedConverges(t *testing.T) {
	o, ledger, repo := newOutbox(1)
	ctx := context.Background()
	item, _ := o.Enqueue(ctx, nil, PurposeTreasuryCut, "req", "tok", "treasury", decimal.NewFromInt(30))
	o.Dispatch(ctx, *item, nil)
	stored, _ := repo.GetTransfer(ctx, item.ID)
	if stored.Status != StatusFailed || stored.LastError == "" {
		t.Fatalf("status=%s err=%q", stored.Status, stored.LastError)
	}

	n, err := o.RetryFailed(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	stored, _ = repo.GetTransfer(ctx, item.ID)
	if stored.Status != StatusSent || stored.Attempts != 2 {
		t.Fatalf("status=%s attempts=%d", stored.Status, stored.Attempts)
	}
	n, _ = o.RetryFailed(ctx, 10)
	if n != 0 {
		t.Fatalf("second retry picked %d rows", n)
	}
	if bal := ledger.Balance("tok", "treasury"); !bal.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("treasury=%s want=30", bal)
	}
}

func TestRetryFailedSkipsSettlementPayouts(t *testing.T) {
	o, _, _ := newOutbox(1)
	o.Component = "voting"
	ctx := context.Background()
	item, _ := o.Enqueue(ctx, nil, PurposeSettlementPayout, "a", "tok", "alice", decimal.NewFromInt(1))
	o.Dispatch(ctx, *item, nil)
	n, _ := o.RetryFailed(ctx, 10)
	if n != 0 {
		t.Fatalf("retried %d settlement payouts", n)
	}
}
