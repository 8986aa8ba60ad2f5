package custody

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestWalletTransfer(t *testing.T) {
	l := NewLedger()
	l.Mint("usdc", "oracle", decimal.NewFromInt(10))
	w := l.Account("oracle")
	if err := w.Transfer(context.Background(), "usdc", "alice", decimal.NewFromInt(4)); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := l.Balance("usdc", "alice"); !got.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("alice=%s want=4", got)
	}
	if got := l.Balance("usdc", "oracle"); !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("oracle=%s want=6", got)
	}
}

func TestWalletInsufficientFunds(t *testing.T) {
	l := NewLedger()
	err := l.Account("oracle").Transfer(context.Background(), "usdc", "alice", decimal.NewFromInt(1))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err=%v want=%v", err, ErrInsufficientFunds)
	}
}

func TestWalletIdempotencyKey(t *testing.T) {
	l := NewLedger()
	l.Mint("usdc", "oracle", decimal.NewFromInt(10))
	ctx := WithIdempotencyKey(context.Background(), "t-1")
	w := l.Account("oracle")
	_ = w.Transfer(ctx, "usdc", "alice", decimal.NewFromInt(3))
	_ = w.Transfer(ctx, "usdc", "alice", decimal.NewFromInt(3))
	if got := l.Balance("usdc", "alice"); !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("alice=%s want=3", got)
	}
}

func TestHTTPClientTransfer(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transfers" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, Account: "oracle"}
	ctx := WithIdempotencyKey(context.Background(), "k")
	if err := c.Transfer(ctx, "usdc", "bob", decimal.RequireFromString("2000000000000000000")); err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.From != "oracle" || got.Recipient != "bob" || got.IdempotencyKey != "k" {
		t.Fatalf("request=%+v", got)
	}
	if got.Amount.String() != "2000000000000000000" {
		t.Fatalf("amount=%s", got.Amount)
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()
	c := &HTTPClient{BaseURL: srv.URL, Account: "oracle"}
	if err := c.Transfer(context.Background(), "usdc", "bob", decimal.NewFromInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err=%v want=%v", err, ErrInsufficientFunds)
	}
}

func TestLedgerDepositRefund(t *testing.T) {
	l := NewLedger()
	l.Mint("usdc", "alice", decimal.NewFromInt(5))
	refund, err := l.Deposit(context.Background(), "usdc", "alice", "oracle", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("deposit err=%v", err)
	}
	if got := l.Balance("usdc", "oracle"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("escrow=%s want=5", got)
	}
	if err := refund(); err != nil {
		t.Fatalf("refund err=%v", err)
	}
	if got := l.Balance("usdc", "alice"); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("alice=%s want=5 after refund", got)
	}
	if _, err := l.Deposit(context.Background(), "usdc", "bob", "oracle", decimal.NewFromInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err=%v want=%v", err, ErrInsufficientFunds)
	}
}

func TestLedgerRefundReportsDrainedEscrow(t *testing.T) {
	l := NewLedger()
	l.Mint("usdc", "alice", decimal.NewFromInt(5))
	refund, err := l.Deposit(context.Background(), "usdc", "alice", "oracle", decimal.NewFromInt(5))
	if err != nil {
		t.Fatalf("deposit err=%v", err)
	}
	if err := l.Move("usdc", "oracle", "bob", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("move err=%v", err)
	}
	if err := refund(); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("refund err=%v want=%v", err, ErrInsufficientFunds)
	}
	if got := l.Balance("usdc", "alice"); !got.IsZero() {
		t.Fatalf("alice=%s want=0", got)
	}
}
