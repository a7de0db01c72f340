package credential

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPin is returned when a PIN is not exactly four digits.
	ErrInvalidPin = errors.New("pin must be exactly 4 digits")

	// ErrNoCredential is returned by Verify when no PIN has been set.
	ErrNoCredential = errors.New("no pin configured")

	// ErrLocked matches any *LockoutError.
	ErrLocked = errors.New("pin locked")
)

// LockoutError is returned by Verify while the lockout window is open.
// No attempt is consumed.
type LockoutError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("pin locked, try again in %s", e.Remaining.Round(time.Second))
}

// Is reports ErrLocked as the sentinel for lockouts.
func (e *LockoutError) Is(target error) bool {
	return target == ErrLocked
}
