package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

var _ repository.Repository = (*Store)(nil)

func TestCreateAssertionRejectsDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := &models.Assertion{AssertionID: "0x01", Bond: decimal.NewFromInt(5)}
	if err := s.CreateAssertion(ctx, item); err != nil {
		t.Fatalf("create err=%v", err)
	}
	if err := s.CreateAssertion(ctx, &models.Assertion{AssertionID: "0x01"}); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("err=%v want=%v", err, repository.ErrDuplicate)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateAssertion(ctx, &models.Assertion{AssertionID: "0x02"})
	got, _ := s.GetAssertion(ctx, "0x02")
	got.Settled = true
	again, _ := s.GetAssertion(ctx, "0x02")
	if again.Settled {
		t.Fatalf("stored row mutated through returned pointer")
	}
}

func TestVoteCommitmentOrderAndUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, voter := range []string{"carol", "alice", "bob"} {
		err := s.CreateVoteCommitment(ctx, &models.VoteCommitment{RequestID: "r", Voter: voter, Seq: i})
		if err != nil {
			t.Fatalf("create %s err=%v", voter, err)
		}
	}
	if err := s.CreateVoteCommitment(ctx, &models.VoteCommitment{RequestID: "r", Voter: "alice", Seq: 9}); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("err=%v want duplicate", err)
	}
	items, _ := s.ListVoteCommitments(ctx, "r")
	if len(items) != 3 || items[0].Voter != "carol" || items[2].Voter != "bob" {
		t.Fatalf("order=%v", items)
	}
}

func TestListSettleableAssertions(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	disputer := "d"
	_ = s.CreateAssertion(ctx, &models.Assertion{AssertionID: "due", ExpirationTime: base})
	_ = s.CreateAssertion(ctx, &models.Assertion{AssertionID: "later", ExpirationTime: base.Add(time.Hour)})
	_ = s.CreateAssertion(ctx, &models.Assertion{AssertionID: "disputed", ExpirationTime: base, Disputer: &disputer})
	_ = s.CreateAssertion(ctx, &models.Assertion{AssertionID: "pending", ExpirationTime: base, SettlementPending: true})

	items, err := s.ListSettleableAssertions(ctx, base, 10)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(items) != 1 || items[0].AssertionID != "due" {
		t.Fatalf("items=%v want=[due]", items)
	}
}
