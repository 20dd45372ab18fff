package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Account errors
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrReferrerNotFound = errors.New("referral code does not match any user")
	ErrInvalidStatus    = errors.New("invalid account status")
	ErrUserDisabled     = errors.New("account is disabled")
	ErrInvalidOverride  = errors.New("override level must not be negative")
	ErrInvalidCount     = errors.New("count must be greater than zero")

	// Ledger errors
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMarkerMoved       = errors.New("credit marker advanced by a concurrent credit")

	// Task errors
	ErrTaskQuotaReached = errors.New("daily task quota reached")

	// Withdrawal errors
	ErrBelowMinWithdrawal = errors.New("amount below tier minimum withdrawal")
	ErrAboveMaxWithdrawal = errors.New("amount above tier maximum withdrawal")
	ErrWithdrawalLimit    = errors.New("monthly withdrawal allowance used up")

	// Configuration errors
	ErrLevelNotFound = errors.New("level not defined")
)
