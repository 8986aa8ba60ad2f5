package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is an in-process fungible ledger keyed by currency and account.
// Each component holds its escrow under its own account and transfers out of it.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[string]decimal.Decimal
	seen     map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: map[string]map[string]decimal.Decimal{},
		seen:     map[string]struct{}{},
	}
}

func (l *Ledger) Mint(currency, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(currency, account, amount)
}

func (l *Ledger) Balance(currency, account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if byAccount, ok := l.balances[currency]; ok {
		return byAccount[account]
	}
	return decimal.Zero
}

// Move debits from and credits to. It is the only balance-changing primitive.
func (l *Ledger) Move(currency, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(currency, from, to, amount)
}

func (l *Ledger) move(currency, from, to string, amount decimal.Decimal) error {
	have := decimal.Zero
	if byAccount, ok := l.balances[currency]; ok {
		have = byAccount[from]
	}
	if have.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, from, have, currency, amount)
	}
	l.balances[currency][from] = have.Sub(amount)
	l.credit(currency, to, amount)
	return nil
}

func (l *Ledger) credit(currency, account string, amount decimal.Decimal) {
	byAccount, ok := l.balances[currency]
	if !ok {
		byAccount = map[string]decimal.Decimal{}
		l.balances[currency] = byAccount
	}
	byAccount[account] = byAccount[account].Add(amount)
}

// Account returns a Custody that transfers out of the named account.
func (l *Ledger) Account(name string) *Wallet {
	return &Wallet{ledger: l, account: name}
}

type Wallet struct {
	ledger  *Ledger
	account string
}

func (w *Wallet) Name() string {
	return w.account
}

// Transfer moves amount out of the wallet. A repeated idempotency key is a no-op.
func (w *Wallet) Transfer(ctx context.Context, currency, recipient string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	key := IdempotencyKeyFromContext(ctx)
	w.ledger.mu.Lock()
	defer w.ledger.mu.Unlock()
	if key != "" {
		if _, dup := w.ledger.seen[key]; dup {
			return nil
		}
	}
	if err := w.ledger.move(currency, w.account, recipient, amount); err != nil {
		return err
	}
	if key != "" {
		w.ledger.seen[key] = struct{}{}
	}
	return nil
}

// Deposit moves an inbound transfer into a component's escrow before the
// component is notified. refund returns the funds if the component rejects it;
// it fails when the escrow no longer holds them.
func (l *Ledger) Deposit(ctx context.Context, currency, from, to string, amount decimal.Decimal) (refund func() error, err error) {
	if err := l.Move(currency, from, to, amount); err != nil {
		return nil, err
	}
	return func() error {
		if err := l.Move(currency, to, from, amount); err != nil {
			return fmt.Errorf("refund %s %s to %s: %w", amount, currency, from, err)
		}
		return nil
	}, nil
}
