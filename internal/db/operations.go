package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kioskctl/printwatch/internal/core"
)

type AccountOperations struct {
	db *sql.DB
}

var _ core.AccountStore = (*AccountOperations)(nil)

func (o *AccountOperations) GetAccount(ctx context.Context, userID string) (*Account, error) {
	a := &Account{}
	err := o.db.QueryRowContext(ctx, GetBalance, userID).Scan(&a.UserID, &a.Balance, &a.Version, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return a, nil
}

func (o *AccountOperations) GetBalance(ctx context.Context, userID string) (*core.Balance, error) {
	a, err := o.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &core.Balance{Amount: a.Balance, Version: a.Version}, nil
}

func (o *AccountOperations) ConditionalDeduct(ctx context.Context, userID string, amount decimal.Decimal, expected core.Balance) (bool, error) {
	result, err := o.db.ExecContext(ctx, ConditionalDeduct, expected.Amount.Sub(amount), userID, expected.Version)
	if err != nil {
		return false, fmt.Errorf("failed to deduct balance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read deduction result: %w", err)
	}
	return n == 1, nil
}

// Credit adds amount to the user's balance, creating the account if it
// does not exist yet.
func (o *AccountOperations) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("credit amount must be positive, got %s", amount)
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin credit: %w", err)
	}
	defer tx.Rollback()

	var current decimal.Decimal
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT balance, version FROM print_balances WHERE user_id = ?`, userID).Scan(&current, &version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, InsertBalance, userID, amount); err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read balance: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, ConditionalDeduct, current.Add(amount), userID, version); err != nil {
			return nil, fmt.Errorf("failed to credit balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return o.GetAccount(ctx, userID)
}

func (o *AccountOperations) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := o.db.QueryContext(ctx, ListBalances)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.UserID, &a.Balance, &a.Version, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type PricingOperations struct {
	db *sql.DB
}

var _ core.MetadataStore = (*PricingOperations)(nil)

func (o *PricingOperations) GetPricing(ctx context.Context, orgID string) (*core.OrgPricing, error) {
	p := &Pricing{}
	err := o.db.QueryRowContext(ctx, GetPricing, orgID).Scan(&p.OrgID, &p.Mono, &p.Color, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrOrgNotFound, orgID)
		}
		return nil, fmt.Errorf("failed to get pricing: %w", err)
	}
	return &core.OrgPricing{PricePerPageMono: p.Mono, PricePerPageColor: p.Color}, nil
}

func (o *PricingOperations) SetPricing(ctx context.Context, orgID string, mono, color decimal.Decimal) error {
	if mono.IsNegative() || color.IsNegative() {
		return fmt.Errorf("rates must not be negative")
	}
	if _, err := o.db.ExecContext(ctx, UpsertPricing, orgID, mono, color); err != nil {
		return fmt.Errorf("failed to set pricing: %w", err)
	}
	return nil
}

type OutcomeOperations struct {
	db *sql.DB
}

var _ core.AuditSink = (*OutcomeOperations)(nil)

func (o *OutcomeOperations) RecordOutcome(ctx context.Context, rec *core.OutcomeRecord) error {
	var balanceAfter decimal.NullDecimal
	if rec.BalanceAfter != nil {
		balanceAfter = decimal.NewNullDecimal(*rec.BalanceAfter)
	}
	_, err := o.db.ExecContext(ctx, InsertOutcome,
		rec.ID, rec.Printer, rec.JobID, rec.UserID, rec.OrgID, rec.Pages, rec.Color, rec.PricedAs,
		rec.Rate, rec.Cost, string(rec.State), string(rec.FurthestState), rec.Reason,
		balanceAfter, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the newest outcomes first, optionally for a
// single user.
func (o *OutcomeOperations) ListOutcomes(ctx context.Context, userID string, limit int) ([]*Outcome, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if userID != "" {
		rows, err = o.db.QueryContext(ctx, ListOutcomesByUser, userID, limit)
	} else {
		rows, err = o.db.QueryContext(ctx, ListOutcomes, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// ListOutcomesBefore returns every outcome recorded before cutoff,
// oldest first.
func (o *OutcomeOperations) ListOutcomesBefore(ctx context.Context, cutoff time.Time) ([]*Outcome, error) {
	rows, err := o.db.QueryContext(ctx, ListOutcomesBefore, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

func (o *OutcomeOperations) DeleteOutcomesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := o.db.ExecContext(ctx, DeleteOutcomesBefore, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete outcomes: %w", err)
	}
	return result.RowsAffected()
}

func scanOutcomes(rows *sql.Rows) ([]*Outcome, error) {
	var outcomes []*Outcome
	for rows.Next() {
		out := &Outcome{}
		var balanceAfter decimal.NullDecimal
		if err := rows.Scan(
			&out.ID, &out.Printer, &out.JobID, &out.UserID, &out.OrgID, &out.Pages, &out.Color, &out.PricedAs,
			&out.Rate, &out.Cost, &out.State, &out.FurthestState, &out.Reason,
			&balanceAfter, &out.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if balanceAfter.Valid {
			b := balanceAfter.Decimal
			out.BalanceAfter = &b
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, rows.Err()
}
