// Package custody moves bonded and staked balances. The oracle and the voting
// engine never hold balances themselves, they only ask custody to transfer.
package custody

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid transfer amount")
)

type Custody interface {
	Transfer(ctx context.Context, currency, recipient string, amount decimal.Decimal) error
}

type ctxKey int

const idempotencyKey ctxKey = 1

// WithIdempotencyKey tags a transfer so a remote ledger can drop a replay.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey, key)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(idempotencyKey).(string)
	return v
}
