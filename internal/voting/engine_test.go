package voting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"nestoracle/internal/apperr"
	"nestoracle/internal/custody"
	"nestoracle/internal/dispatch"
	"nestoracle/internal/events"
	"nestoracle/internal/ids"
	"nestoracle/internal/lock"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
	"nestoracle/internal/repository/memory"
	"nestoracle/internal/transfer"
)

const token = "vote.tok"

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	engine *Engine
	ledger *custody.Ledger
	repo   *memory.Store
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.New()
	ledger := custody.NewLedger()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := &Engine{
		Repo:   repo,
		Locker: lock.NewLocal(),
		Events: &events.Emitter{Repo: repo, Hub: events.NewHub()},
		Outbox: &transfer.Outbox{
			Component:  events.ComponentVoting,
			Repo:       repo,
			Custody:    ledger.Account("voting"),
			Dispatcher: dispatch.Inline{},
		},
		Now: clk.now,
		Defaults: Config{
			Owner:                         "admin",
			CommitDuration:                time.Hour,
			RevealDuration:                time.Hour,
			MinParticipationBps:           500,
			TreasuryBps:                   5000,
			MaxLowParticipationExtensions: 1,
			VotingToken:                   token,
			Treasury:                      "treasury",
		},
	}
	if _, err := e.EnsureConfig(context.Background()); err != nil {
		t.Fatalf("ensure config err=%v", err)
	}
	return &harness{engine: e, ledger: ledger, repo: repo, clock: clk}
}

func salt(b byte) common.Hash {
	var h common.Hash
	h[0] = b
	return h
}

func commitMessage(t *testing.T, requestID string, price int64, s common.Hash) string {
	t.Helper()
	hash, err := ids.VoteHash(decimal.NewFromInt(price), s)
	if err != nil {
		t.Fatalf("vote hash err=%v", err)
	}
	raw, _ := json.Marshal(IncomingMessage{CommitVote: &CommitVoteMessage{RequestID: requestID, CommitHash: hash.Hex()}})
	return string(raw)
}

// stake mimics a token transfer call: deposit into escrow, notify, refund on rejection.
func (h *harness) stake(t *testing.T, voter, requestID string, amount, price int64, s common.Hash) error {
	t.Helper()
	ctx := context.Background()
	amt := decimal.NewFromInt(amount)
	h.ledger.Mint(token, voter, amt)
	refund, err := h.ledger.Deposit(ctx, token, voter, "voting", amt)
	if err != nil {
		t.Fatalf("deposit err=%v", err)
	}
	if err := h.engine.OnIncomingTransfer(ctx, voter, token, amt, commitMessage(t, requestID, price, s)); err != nil {
		if rerr := refund(); rerr != nil {
			t.Fatalf("refund err=%v", rerr)
		}
		return err
	}
	return nil
}

func (h *harness) request(t *testing.T) string {
	t.Helper()
	id, err := h.engine.RequestPrice(context.Background(), "oracle", "ASSERT_TRUTH", 1_000, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("request price err=%v", err)
	}
	return id
}

func (h *harness) toReveal(t *testing.T, requestID string) {
	t.Helper()
	h.clock.advance(time.Hour)
	if err := h.engine.AdvanceToReveal(context.Background(), requestID); err != nil {
		t.Fatalf("advance err=%v", err)
	}
}

func TestFullRoundResolvesMedianAndDistributes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.request(t)

	votes := []struct {
		voter        string
		stake, price int64
	}{{"a", 100, 0}, {"b", 400, 1}, {"c", 500, 1}}
	for i, v := range votes {
		if err := h.stake(t, v.voter, id, v.stake, v.price, salt(byte(i+1))); err != nil {
			t.Fatalf("commit %s err=%v", v.voter, err)
		}
	}
	h.toReveal(t, id)
	for i, v := range votes {
		if err := h.engine.Reveal(ctx, id, v.voter, decimal.NewFromInt(v.price), salt(byte(i+1))); err != nil {
			t.Fatalf("reveal %s err=%v", v.voter, err)
		}
	}
	if _, err := h.engine.Resolve(ctx, id); !errors.Is(err, apperr.ErrTooEarly) {
		t.Fatalf("err=%v want too early", err)
	}
	h.clock.advance(time.Hour)
	res, err := h.engine.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve err=%v", err)
	}
	if res.Outcome != OutcomeResolved || res.Price == nil || !res.Price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("result=%+v want resolved at 1", res)
	}

	want := map[string]int64{"a": 0, "b": 422, "c": 527, "treasury": 50, "voting": 1}
	for account, amount := range want {
		if got := h.ledger.Balance(token, account); !got.Equal(decimal.NewFromInt(amount)) {
			t.Fatalf("%s balance=%s want=%d", account, got, amount)
		}
	}

	price, err := h.engine.GetPrice(ctx, id)
	if err != nil || price == nil || !price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("price=%v err=%v", price, err)
	}
	req, _ := h.engine.GetRequest(ctx, id)
	if req.Phase != PhaseResolved || req.Status != StatusResolved || req.ResolvedAt == nil {
		t.Fatalf("request=%+v", req)
	}
	if _, err := h.engine.Resolve(ctx, id); !errors.Is(err, ErrNotRevealPhase) {
		t.Fatalf("second resolve err=%v want=%v", err, ErrNotRevealPhase)
	}

	kind := events.PriceResolved
	evs, _ := h.repo.ListOracleEvents(ctx, repository.ListOracleEventsParams{Kind: &kind})
	if len(evs) != 1 {
		t.Fatalf("price resolved events=%d want=1", len(evs))
	}
}

func TestRequestPriceNonceSaltsIdenticalInputs(t *testing.T) {
	h := newHarness(t)
	first := h.request(t)
	second := h.request(t)
	if first == second {
		t.Fatalf("identical requests share id %s", first)
	}
	cfg, _ := h.engine.GetConfig(context.Background())
	if cfg.Nonce != 2 {
		t.Fatalf("nonce=%d want=2", cfg.Nonce)
	}
	req, _ := h.engine.GetRequest(context.Background(), first)
	if req.Status != StatusActive || req.Phase != PhaseCommit || !req.CommitStartTime.Equal(h.clock.t) {
		t.Fatalf("request=%+v", req)
	}
}

func TestCommitGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.request(t)

	msg := commitMessage(t, id, 1, salt(1))
	if err := h.engine.OnIncomingTransfer(ctx, "a", "other.tok", decimal.NewFromInt(5), msg); !errors.Is(err, ErrNotVotingToken) {
		t.Fatalf("err=%v want=%v", err, ErrNotVotingToken)
	}
	if err := h.engine.OnIncomingTransfer(ctx, "a", token, decimal.Zero, msg); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("zero stake err=%v", err)
	}
	if err := h.engine.OnIncomingTransfer(ctx, "a", token, decimal.NewFromInt(5), `{"Other":{}}`); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown message err=%v", err)
	}
	if err := h.stake(t, "z", common.Hash{9}.Hex(), 5, 1, salt(1)); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("err=%v want=%v", err, ErrRequestNotFound)
	}

	if err := h.stake(t, "a", id, 5, 1, salt(1)); err != nil {
		t.Fatalf("commit err=%v", err)
	}
	if err := h.stake(t, "a", id, 7, 1, salt(2)); !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("err=%v want=%v", err, ErrAlreadyCommitted)
	}
	if got := h.ledger.Balance(token, "a"); !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("rejected stake not refunded: a=%s", got)
	}

	h.clock.advance(time.Hour)
	if err := h.stake(t, "b", id, 5, 1, salt(3)); !errors.Is(err, ErrCommitEnded) {
		t.Fatalf("err=%v want=%v", err, ErrCommitEnded)
	}

	req, _ := h.engine.GetRequest(ctx, id)
	if !req.TotalCommittedStake.Equal(decimal.NewFromInt(5)) || req.VoterCount != 1 {
		t.Fatalf("total=%s voters=%d", req.TotalCommittedStake, req.VoterCount)
	}
}

func TestAdvanceToRevealTooEarly(t *testing.T) {
	h := newHarness(t)
	id := h.request(t)
	h.clock.advance(59 * time.Minute)
	if err := h.engine.AdvanceToReveal(context.Background(), id); !errors.Is(err, apperr.ErrTooEarly) {
		t.Fatalf("err=%v want too early", err)
	}
	h.clock.advance(time.Minute)
	if err := h.engine.AdvanceToReveal(context.Background(), id); err != nil {
		t.Fatalf("advance err=%v", err)
	}
	if err := h.engine.AdvanceToReveal(context.Background(), id); !errors.Is(err, ErrNotCommitPhase) {
		t.Fatalf("err=%v want=%v", err, ErrNotCommitPhase)
	}
}

func TestRevealGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.request(t)
	if err := h.stake(t, "a", id, 10, 1, salt(1)); err != nil {
		t.Fatalf("commit err=%v", err)
	}
	if err := h.engine.Reveal(ctx, id, "a", decimal.NewFromInt(1), salt(1)); !errors.Is(err, ErrNotRevealPhase) {
		t.Fatalf("err=%v want=%v", err, ErrNotRevealPhase)
	}
	h.toReveal(t, id)
	if err := h.engine.Reveal(ctx, id, "nobody", decimal.NewFromInt(1), salt(1)); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("err=%v want=%v", err, ErrNoCommitment)
	}
	if err := h.engine.Reveal(ctx, id, "a", decimal.NewFromInt(2), salt(1)); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("err=%v want=%v", err, ErrHashMismatch)
	}
	c, _ := h.repo.GetVoteCommitment(ctx, id, "a")
	if c.Revealed || c.RevealedPrice != nil {
		t.Fatalf("failed reveal mutated commitment: %+v", c)
	}
	if err := h.engine.Reveal(ctx, id, "a", decimal.NewFromInt(1), salt(1)); err != nil {
		t.Fatalf("reveal err=%v", err)
	}
	if err := h.engine.Reveal(ctx, id, "a", decimal.NewFromInt(1), salt(1)); !errors.Is(err, ErrAlreadyRevealed) {
		t.Fatalf("err=%v want=%v", err, ErrAlreadyRevealed)
	}
	h.clock.advance(time.Hour)
	if err := h.engine.Reveal(ctx, id, "a", decimal.NewFromInt(1), salt(1)); !errors.Is(err, ErrRevealEnded) {
		t.Fatalf("err=%v want=%v", err, ErrRevealEnded)
	}
}

func TestLowParticipationExtendsThenRequiresEmergency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.request(t)
	if err := h.stake(t, "a", id, 1000, 1, salt(1)); err != nil {
		t.Fatalf("commit err=%v", err)
	}
	h.toReveal(t, id)

	h.clock.advance(time.Hour)
	res, err := h.engine.Resolve(ctx, id)
	if err != nil || res.Outcome != OutcomeRevealExtended {
		t.Fatalf("first resolve=%+v err=%v want extended", res, err)
	}
	req, _ := h.engine.GetRequest(ctx, id)
	if req.LowParticipationExtensions != 1 || !req.RevealStartTime.Equal(h.clock.t) || req.Phase != PhaseReveal {
		t.Fatalf("request=%+v", req)
	}

	h.clock.advance(time.Hour)
	res, err = h.engine.Resolve(ctx, id)
	if err != nil || res.Outcome != OutcomeEmergencyRequired {
		t.Fatalf("second resolve=%+v err=%v want emergency", res, err)
	}
	if has, _ := h.engine.HasPrice(ctx, id); has {
		t.Fatalf("request auto-resolved")
	}
	due, _ := h.engine.DueForResolve(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("emergency request still due for resolve")
	}

	if err := h.engine.EmergencyResolve(ctx, "mallory", id, decimal.NewFromInt(1), "manual"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err=%v want unauthorized", err)
	}
	if err := h.engine.EmergencyResolve(ctx, "admin", id, decimal.NewFromInt(1), "no quorum"); err != nil {
		t.Fatalf("emergency resolve err=%v", err)
	}
	price, _ := h.engine.GetPrice(ctx, id)
	if price == nil || !price.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("price=%v want=1", price)
	}
	req, _ = h.engine.GetRequest(ctx, id)
	if req.EmergencyRequired || req.Phase != PhaseResolved {
		t.Fatalf("request=%+v", req)
	}
	if got := h.ledger.Balance(token, "voting"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("emergency resolution moved stake: escrow=%s", got)
	}
}

func TestEmergencyResolveRequiresFlag(t *testing.T) {
	h := newHarness(t)
	id := h.request(t)
	h.toReveal(t, id)
	if err := h.engine.EmergencyResolve(context.Background(), "admin", id, decimal.NewFromInt(1), "x"); !errors.Is(err, ErrEmergencyNotEnabled) {
		t.Fatalf("err=%v want=%v", err, ErrEmergencyNotEnabled)
	}
}

func TestResolveWithoutStake(t *testing.T) {
	h := newHarness(t)
	id := h.request(t)
	h.toReveal(t, id)
	h.clock.advance(time.Hour)
	if _, err := h.engine.Resolve(context.Background(), id); !errors.Is(err, ErrNoCommittedStake) {
		t.Fatalf("err=%v want=%v", err, ErrNoCommittedStake)
	}
}

func TestResolveWithoutDistributionConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.request(t)
	if err := h.stake(t, "a", id, 10, 3, salt(1)); err != nil {
		t.Fatalf("commit err=%v", err)
	}
	empty := ""
	if _, err := h.engine.UpdateConfig(ctx, "admin", ConfigPatch{Treasury: &empty}); err != nil {
		t.Fatalf("update err=%v", err)
	}
	h.toReveal(t, id)
	if err := h.engine.Reveal(ctx, id, "a", decimal.NewFromInt(3), salt(1)); err != nil {
		t.Fatalf("reveal err=%v", err)
	}
	h.clock.advance(time.Hour)
	if _, err := h.engine.Resolve(ctx, id); err != nil {
		t.Fatalf("resolve err=%v", err)
	}
	items, _ := h.repo.ListTransfers(ctx, repository.ListTransfersParams{})
	if len(items) != 0 {
		t.Fatalf("transfers=%d want=0 without treasury", len(items))
	}
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bps := int64(10001)
	if _, err := h.engine.UpdateConfig(ctx, "admin", ConfigPatch{MinParticipationBps: &bps}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v want validation", err)
	}
	bps = 2500
	if _, err := h.engine.UpdateConfig(ctx, "mallory", ConfigPatch{MinParticipationBps: &bps}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err=%v want=%v", err, ErrNotOwner)
	}
	cfg, err := h.engine.UpdateConfig(ctx, "admin", ConfigPatch{MinParticipationBps: &bps, TreasuryBps: &bps})
	if err != nil {
		t.Fatalf("update err=%v", err)
	}
	if cfg.MinParticipationBps != 2500 || cfg.TreasuryBps != 2500 {
		t.Fatalf("cfg=%+v", cfg)
	}
	kind := events.VotingConfigUpdated
	evs, _ := h.repo.ListOracleEvents(ctx, repository.ListOracleEventsParams{Kind: &kind})
	if len(evs) != 1 {
		t.Fatalf("config events=%d want=1", len(evs))
	}
}

func TestDueForReveal(t *testing.T) {
	h := newHarness(t)
	id := h.request(t)
	due, _ := h.engine.DueForReveal(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("due=%d want=0 before window closes", len(due))
	}
	h.clock.advance(time.Hour)
	due, _ = h.engine.DueForReveal(context.Background(), 10)
	if len(due) != 1 || due[0].RequestID != id {
		t.Fatalf("due=%v", due)
	}
}

func TestArbiterAdapter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key, err := h.engine.RequestResolution(ctx, "oracle", policy.ResolutionRequest{
		Identifier: ids.DefaultIdentifier,
		TimeNs:     5,
		Ancillary:  common.Hash{7}.Bytes(),
	})
	if err != nil {
		t.Fatalf("request resolution err=%v", err)
	}
	req, _ := h.engine.GetRequest(ctx, key)
	if req == nil || req.Identifier != "ASSERT_TRUTH" {
		t.Fatalf("request=%+v", req)
	}
	price, err := h.engine.Resolution(ctx, key)
	if err != nil || price != nil {
		t.Fatalf("price=%v err=%v want unresolved", price, err)
	}
}
