package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DeductOutcome int

const (
	DeductSufficient DeductOutcome = iota + 1
	DeductInsufficient
)

func (o DeductOutcome) String() string {
	switch o {
	case DeductSufficient:
		return "sufficient"
	case DeductInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// DeductResult reports the balance after a successful deduction, or the
// untouched balance and the shortfall when it did not cover the amount.
type DeductResult struct {
	Outcome   DeductOutcome
	Balance   decimal.Decimal
	Shortfall decimal.Decimal
}

// BudgetLedger charges print balances with optimistic concurrency: read
// the balance and its version, write conditioned on that version, and
// re-read on conflict. Two jobs for the same user are serialized by the
// store's conditional update rather than by a lock here.
type BudgetLedger struct {
	store       AccountStore
	maxAttempts int
	log         *zap.Logger
}

func NewBudgetLedger(store AccountStore, maxAttempts int, log *zap.Logger) *BudgetLedger {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &BudgetLedger{
		store:       store,
		maxAttempts: maxAttempts,
		log:         log.Named("ledger"),
	}
}

// TryDeduct charges amount to the user's balance exactly once, or not
// at all. A lost race is retried; ErrLedgerConflict is returned once the
// attempt budget is spent.
func (l *BudgetLedger) TryDeduct(ctx context.Context, userID string, amount decimal.Decimal) (*DeductResult, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("refusing to deduct negative amount %s", amount)
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		balance, err := l.store.GetBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to read balance for %s: %w", userID, err)
		}

		if amount.IsZero() {
			return &DeductResult{Outcome: DeductSufficient, Balance: balance.Amount}, nil
		}

		if balance.Amount.LessThan(amount) {
			return &DeductResult{
				Outcome:   DeductInsufficient,
				Balance:   balance.Amount,
				Shortfall: amount.Sub(balance.Amount),
			}, nil
		}

		ok, err := l.store.ConditionalDeduct(ctx, userID, amount, *balance)
		if err != nil {
			return nil, fmt.Errorf("failed to deduct %s from %s: %w", amount, userID, err)
		}
		if ok {
			return &DeductResult{
				Outcome: DeductSufficient,
				Balance: balance.Amount.Sub(amount),
			}, nil
		}

		l.log.Debug("balance changed during deduction, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
			zap.Int64("version", balance.Version))
	}

	return nil, fmt.Errorf("%w: user %s after %d attempts", ErrLedgerConflict, userID, l.maxAttempts)
}
