package core

import "errors"

var (
	ErrPauseFailed         = errors.New("job could not be paused")
	ErrPricingUnavailable  = errors.New("pricing unavailable")
	ErrInsufficientBalance = errors.New("insufficient print balance")
	ErrLedgerConflict      = errors.New("balance changed concurrently, retries exhausted")
	ErrResumeFailed        = errors.New("job could not be resumed")
	ErrCancelFailed        = errors.New("job could not be canceled")
	ErrNoActiveSession     = errors.New("no active kiosk session")
	ErrUserNotFound        = errors.New("user not found")
	ErrOrgNotFound         = errors.New("organization not found")
)
