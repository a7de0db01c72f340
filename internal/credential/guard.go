// Package credential protects sensitive operations with a 4-digit PIN.
//
// The PIN is never stored: only its Argon2id digest is, in a secure key-value
// store next to a ledger of failed attempts. Five consecutive failures lock
// verification for fifteen minutes. A plaintext PIN left by older releases is
// accepted once and replaced by its digest.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"piggy/internal/log"
	"piggy/internal/metrics"
	"piggy/internal/sanitize"
	"piggy/internal/securestore"
)

const (
	// MaxAttempts is the number of consecutive failures that triggers a lockout.
	MaxAttempts = 5

	// LockoutDuration is how long verification stays locked.
	LockoutDuration = 15 * time.Minute
)

// Secure store keys.
const (
	KeyDigest         = "piggy.pin_hash"
	KeyLegacyPin      = "piggy.pin"
	KeyFailedAttempts = "piggy.failed_attempts"
	KeyLockoutUntil   = "piggy.lockout_until"
)

var ledgerKeys = []string{KeyFailedAttempts, KeyLockoutUntil}

// State is the credential lifecycle state.
type State int

const (
	StateNoCredential State = iota
	StateSet
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateSet:
		return "set"
	case StateLocked:
		return "locked"
	default:
		return "none"
	}
}

// ledger is the failed-attempt record.
type ledger struct {
	failed int
	until  time.Time
}

// Guard verifies PINs against the stored digest and enforces the lockout.
type Guard struct {
	store  securestore.Store
	now    func() time.Time
	logger *log.Logger

	mu sync.Mutex
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// WithLogger sets the logger used by the Guard.
func WithLogger(logger *log.Logger) Option {
	return func(g *Guard) {
		g.logger = logger.WithComponent(log.ComponentCredential)
	}
}

// NewGuard creates a Guard backed by store.
func NewGuard(store securestore.Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		now:    time.Now,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Set stores the digest of pin, replacing any previous PIN and clearing the
// attempt ledger.
func (g *Guard) Set(ctx context.Context, pin string) error {
	if !sanitize.ValidatePin(pin) {
		return ErrInvalidPin
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	del := append([]string{KeyLegacyPin}, ledgerKeys...)
	if err := g.store.Write(map[string]string{KeyDigest: Digest(pin)}, del); err != nil {
		return fmt.Errorf("store pin: %w", err)
	}
	g.logger.InfoContext(ctx, "PIN set")
	return nil
}

// Remove deletes the PIN and the attempt ledger.
func (g *Guard) Remove(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := append([]string{KeyDigest, KeyLegacyPin}, ledgerKeys...)
	if err := g.store.Delete(keys...); err != nil {
		return fmt.Errorf("remove pin: %w", err)
	}
	g.logger.InfoContext(ctx, "PIN removed")
	return nil
}

// Verify checks pin. It returns a *LockoutError while locked, ErrNoCredential
// when no PIN is set, and false for a wrong or malformed PIN. The fifth
// consecutive failure starts the lockout.
func (g *Guard) Verify(ctx context.Context, pin string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	l, err := g.loadLedger()
	if err != nil {
		return false, err
	}

	if !l.until.IsZero() {
		if now.Before(l.until) {
			metrics.PinVerifications.WithLabelValues("locked").Inc()
			return false, &LockoutError{Until: l.until, Remaining: l.until.Sub(now)}
		}
		// Lockout expired: start over with a clean ledger.
		if err := g.store.Delete(ledgerKeys...); err != nil {
			return false, fmt.Errorf("clear attempts: %w", err)
		}
		l = ledger{}
	}

	digest, err := g.get(KeyDigest)
	if err != nil {
		return false, err
	}

	var match bool
	switch {
	case digest != "":
		match = sanitize.ValidatePin(pin) && matchDigest(pin, digest)
	default:
		legacy, err := g.get(KeyLegacyPin)
		if err != nil {
			return false, err
		}
		if legacy == "" {
			return false, ErrNoCredential
		}
		match = sanitize.ValidatePin(pin) && matchPlain(pin, legacy)
		if match {
			return true, g.migrateLegacy(ctx, pin)
		}
	}

	if match {
		metrics.PinVerifications.WithLabelValues("match").Inc()
		if l.failed > 0 {
			if err := g.store.Delete(ledgerKeys...); err != nil {
				return true, fmt.Errorf("clear attempts: %w", err)
			}
		}
		return true, nil
	}

	metrics.PinVerifications.WithLabelValues("mismatch").Inc()
	return false, g.recordFailure(ctx, l, now)
}

func (g *Guard) migrateLegacy(ctx context.Context, pin string) error {
	del := append([]string{KeyLegacyPin}, ledgerKeys...)
	if err := g.store.Write(map[string]string{KeyDigest: Digest(pin)}, del); err != nil {
		return fmt.Errorf("migrate legacy pin: %w", err)
	}
	metrics.PinVerifications.WithLabelValues("match").Inc()
	g.logger.InfoContext(ctx, "Migrated plaintext PIN to digest")
	return nil
}

func (g *Guard) recordFailure(ctx context.Context, l ledger, now time.Time) error {
	l.failed++
	set := map[string]string{KeyFailedAttempts: strconv.Itoa(l.failed)}
	if l.failed >= MaxAttempts {
		l.until = now.Add(LockoutDuration)
		set[KeyLockoutUntil] = l.until.UTC().Format(time.RFC3339Nano)
	}
	if err := g.store.Write(set, nil); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	if !l.until.IsZero() {
		metrics.Lockouts.Inc()
		g.logger.WarnContext(ctx, "PIN locked after repeated failures",
			log.FieldAttempts, l.failed,
			log.FieldRemaining, LockoutDuration.String())
	} else {
		g.logger.WarnContext(ctx, "PIN verification failed", log.FieldOperation, log.OpVerify, log.FieldAttempts, l.failed)
	}
	return nil
}

// State reports whether a PIN is set and whether verification is locked.
func (g *Guard) State() (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	digest, err := g.get(KeyDigest)
	if err != nil {
		return StateNoCredential, err
	}
	if digest == "" {
		legacy, err := g.get(KeyLegacyPin)
		if err != nil {
			return StateNoCredential, err
		}
		if legacy == "" {
			return StateNoCredential, nil
		}
	}

	l, err := g.loadLedger()
	if err != nil {
		return StateSet, err
	}
	if !l.until.IsZero() && g.now().Before(l.until) {
		return StateLocked, nil
	}
	return StateSet, nil
}

// RemainingLockout returns how long verification stays locked, or zero.
func (g *Guard) RemainingLockout() (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, err := g.loadLedger()
	if err != nil {
		return 0, err
	}
	if l.until.IsZero() {
		return 0, nil
	}
	if remaining := l.until.Sub(g.now()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// FailedAttempts returns the consecutive failures recorded so far.
func (g *Guard) FailedAttempts() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, err := g.loadLedger()
	return l.failed, err
}

// get returns "" for a missing key.
func (g *Guard) get(key string) (string, error) {
	v, err := g.store.Get(key)
	if errors.Is(err, securestore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (g *Guard) loadLedger() (ledger, error) {
	var l ledger

	count, err := g.get(KeyFailedAttempts)
	if err != nil {
		return l, err
	}
	if count != "" {
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			// A damaged counter must not unlock anything.
			n = MaxAttempts - 1
		}
		l.failed = n
	}

	until, err := g.get(KeyLockoutUntil)
	if err != nil {
		return l, err
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339Nano, until)
		if err != nil {
			// Restart an unreadable lockout rather than lifting it.
			t = g.now().Add(LockoutDuration)
			if err := g.store.Set(KeyLockoutUntil, t.UTC().Format(time.RFC3339Nano)); err != nil {
				return l, fmt.Errorf("rewrite lockout: %w", err)
			}
		}
		l.until = t
	}
	return l, nil
}
