package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error taxonomy for the marketplace. Every operation rejects with one of
// these sentinels before any state change; callers branch with errors.Is.
var (
	// ErrInvalidInput rejects malformed terms: zero contract address,
	// non-positive start price, sub-minimum duration, fee above cap.
	ErrInvalidInput = errors.New("invalid input")

	// ErrState rejects operations against the wrong lifecycle state:
	// inactive auction, missed or unreached deadline, low bid, missing
	// refund, re-run initializer.
	ErrState = errors.New("state error")

	// ErrNotFound rejects reads of ids that were never assigned.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized rejects administrator-only operations. The wrapped
	// message carries the rejected caller.
	ErrUnauthorized = errors.New("unauthorized")
)

func invalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func statef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func unauthorized(caller common.Address, op string) error {
	return fmt.Errorf("%w: caller %s may not %s", ErrUnauthorized, caller.Hex(), op)
}
