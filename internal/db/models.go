package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Pricing struct {
	OrgID     string          `json:"org_id"`
	Mono      decimal.Decimal `json:"mono"`
	Color     decimal.Decimal `json:"color"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Outcome struct {
	ID            string           `json:"id"`
	Printer       string           `json:"printer"`
	JobID         uint32           `json:"job_id"`
	UserID        string           `json:"user_id"`
	OrgID         string           `json:"org_id"`
	Pages         int              `json:"pages"`
	Color         string           `json:"color"`
	PricedAs      string           `json:"priced_as,omitempty"`
	Rate          decimal.Decimal  `json:"rate"`
	Cost          decimal.Decimal  `json:"cost"`
	State         string           `json:"state"`
	FurthestState string           `json:"furthest_state"`
	Reason        string           `json:"reason,omitempty"`
	BalanceAfter  *decimal.Decimal `json:"balance_after,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
