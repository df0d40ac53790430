package core

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kioskctl/printwatch/internal/spooler"
)

// JobKey identifies a spooler job for deduplication. Job ids are scoped
// to a printer, so both parts are needed.
type JobKey struct {
	Printer string
	JobID   spooler.JobID
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s#%d", k.Printer, uint32(k.JobID))
}

// Sighting is one observation of a job by either the notification
// channel or the polling loop.
type Sighting struct {
	Key    JobKey
	Source string
}

const (
	SourceEvent = "event"
	SourcePoll  = "poll"
)

type JobState string

const (
	JobStateSighted   JobState = "sighted"
	JobStateAccepted  JobState = "accepted"
	JobStatePaused    JobState = "paused"
	JobStateInspected JobState = "inspected"
	JobStatePriced    JobState = "priced"
	JobStateResumed   JobState = "resumed"
	JobStateCanceled  JobState = "canceled"
	JobStateErrored   JobState = "errored"
)

func (s JobState) Terminal() bool {
	switch s {
	case JobStateResumed, JobStateCanceled, JobStateErrored:
		return true
	default:
		return false
	}
}

type ColorState int

const (
	ColorUnknown ColorState = iota
	ColorMonochrome
	ColorColor
)

func (c ColorState) String() string {
	switch c {
	case ColorMonochrome:
		return "monochrome"
	case ColorColor:
		return "color"
	default:
		return "unknown"
	}
}

// PrintJob is the per-job record owned by the orchestrator while the
// job is in flight.
type PrintJob struct {
	Key       JobKey
	UserID    string
	OrgID     string
	PageCount int
	Color     ColorState
	PricedAs  ColorState
	State     JobState
	Rate      decimal.Decimal
	Cost      *decimal.Decimal
	SightedAt time.Time
	Source    string
}

// OrgPricing holds per-page rates for an organization.
type OrgPricing struct {
	PricePerPageMono  decimal.Decimal
	PricePerPageColor decimal.Decimal
}

// Balance is a user's print balance as read from the account store,
// with the version the conditional update is checked against.
type Balance struct {
	Amount  decimal.Decimal
	Version int64
}

// Session is the kiosk's active user.
type Session struct {
	UserID string
	OrgID  string
}

// JobBilled is emitted to the notification surface after a successful
// deduction.
type JobBilled struct {
	Printer  string          `json:"printer"`
	JobID    uint32          `json:"job_id"`
	UserID   string          `json:"user_id"`
	Pages    int             `json:"pages"`
	Color    string          `json:"color"`
	PricedAs string          `json:"priced_as"`
	Cost     decimal.Decimal `json:"cost"`
	RateUsed decimal.Decimal `json:"rate_used"`
	Balance  decimal.Decimal `json:"balance"`
}

// JobRejected is emitted when the balance does not cover the job.
type JobRejected struct {
	Printer   string          `json:"printer"`
	JobID     uint32          `json:"job_id"`
	UserID    string          `json:"user_id"`
	Pages     int             `json:"pages"`
	Cost      decimal.Decimal `json:"cost"`
	Balance   decimal.Decimal `json:"balance"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// OutcomeRecord is the audit record written once per terminal job.
type OutcomeRecord struct {
	ID            string
	Printer       string
	JobID         uint32
	UserID        string
	OrgID         string
	Pages         int
	Color         string
	PricedAs      string
	Rate          decimal.Decimal
	Cost          decimal.Decimal
	State         JobState
	FurthestState JobState
	Reason        string
	BalanceAfter  *decimal.Decimal
	CreatedAt     time.Time
}

// MetadataStore supplies organization pricing.
type MetadataStore interface {
	GetPricing(ctx context.Context, orgID string) (*OrgPricing, error)
}

// AccountStore is the remote balance store. ConditionalDeduct applies
// only when the stored balance still matches expected; ok=false
// reports a lost race.
type AccountStore interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	ConditionalDeduct(ctx context.Context, userID string, amount decimal.Decimal, expected Balance) (bool, error)
}

// AuditSink receives one record per terminal job.
type AuditSink interface {
	RecordOutcome(ctx context.Context, rec *OutcomeRecord) error
}

// Notifier is the UI notification surface.
type Notifier interface {
	JobBilled(ctx context.Context, ev JobBilled)
	JobRejected(ctx context.Context, ev JobRejected)
}

// SessionSource reports the kiosk's active user, if any.
type SessionSource interface {
	Active() (Session, bool)
}
