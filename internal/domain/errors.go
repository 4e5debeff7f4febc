package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every ledger error wraps exactly one of these so callers can
// branch with errors.Is without knowing the concrete failure.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrNotFound      = errors.New("not found")
)

// Infrastructure errors.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
	ErrSigning     = errors.New("signing failed")

	// ErrCorrupt marks a stored record that breaks a ledger invariant.
	ErrCorrupt               = errors.New("ledger invariant violated")
	ErrPoolMismatch          = fmt.Errorf("%w: total pool differs from option pools", ErrCorrupt)
	ErrPositionMismatch      = fmt.Errorf("%w: total bet differs from option bets", ErrCorrupt)
	ErrWinningOptionMismatch = fmt.Errorf("%w: winning option set without settlement", ErrCorrupt)
)

// Market creation.
var (
	ErrTooFewOptions       = fmt.Errorf("%w: market must have at least 2 options", ErrValidation)
	ErrTooManyOptions      = fmt.Errorf("%w: too many options", ErrValidation)
	ErrOptionsOddsMismatch = fmt.Errorf("%w: options and odds must have same length", ErrValidation)
	ErrOddsTooLow          = fmt.Errorf("%w: odds must be at least 1.01 (101)", ErrValidation)
	ErrInvalidDuration     = fmt.Errorf("%w: duration must be positive", ErrValidation)
	ErrInvalidTitle        = fmt.Errorf("%w: invalid title", ErrValidation)
	ErrInvalidOptionLabel  = fmt.Errorf("%w: invalid option label", ErrValidation)
	ErrMissingPrincipal    = fmt.Errorf("%w: caller principal is required", ErrValidation)
)

// Betting, settlement and claims.
var (
	ErrInvalidOption  = fmt.Errorf("%w: invalid option index", ErrValidation)
	ErrBetTooSmall    = fmt.Errorf("%w: bet below minimum", ErrValidation)
	ErrAmountOverflow = fmt.Errorf("%w: amount overflows ledger integer domain", ErrValidation)

	ErrMarketClosed     = fmt.Errorf("%w: market closed", ErrState)
	ErrMarketStillOpen  = fmt.Errorf("%w: market still open", ErrState)
	ErrAlreadySettled   = fmt.Errorf("%w: already settled", ErrState)
	ErrMarketNotSettled = fmt.Errorf("%w: market not settled", ErrState)
	ErrAlreadyClaimed   = fmt.Errorf("%w: already claimed", ErrState)

	ErrNotCreator = fmt.Errorf("%w: only market creator can settle", ErrAuthorization)

	ErrMarketNotFound = fmt.Errorf("%w: market does not exist", ErrNotFound)
	ErrNoPosition     = fmt.Errorf("%w: no position", ErrNotFound)
)
