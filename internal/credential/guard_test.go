package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggy/internal/securestore"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newGuard(t *testing.T) (*Guard, *securestore.MemoryStore, *fakeClock) {
	t.Helper()
	store := securestore.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewGuard(store, WithClock(clock.Now)), store, clock
}

func TestSetRejectsInvalidPin(t *testing.T) {
	g, _, _ := newGuard(t)
	for _, pin := range []string{"", "123", "12345", "abcd", "12 4"} {
		assert.ErrorIs(t, g.Set(context.Background(), pin), ErrInvalidPin, "pin %q", pin)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGuard(t)

	_, err := g.Verify(ctx, "1234")
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, g.Set(ctx, "1234"))

	stored, err := store.Get(KeyDigest)
	require.NoError(t, err)
	assert.Len(t, stored, DigestSize*2)
	assert.NotContains(t, stored, "1234")

	ok, err := g.Verify(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Verify(ctx, "4321")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Verify(ctx, "12a4")
	require.NoError(t, err)
	assert.False(t, ok)

	attempts, err := g.FailedAttempts()
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	// A success resets the ledger.
	ok, err = g.Verify(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)
	attempts, err = g.FailedAttempts()
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	ctx := context.Background()
	g, _, clock := newGuard(t)
	require.NoError(t, g.Set(ctx, "1234"))

	for i := 0; i < MaxAttempts; i++ {
		ok, err := g.Verify(ctx, "0000")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	state, err := g.State()
	require.NoError(t, err)
	assert.Equal(t, StateLocked, state)

	// Locked: even the right PIN is refused and no attempt is consumed.
	clock.Advance(time.Minute)
	ok, err := g.Verify(ctx, "1234")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLocked)

	var lockout *LockoutError
	require.True(t, errors.As(err, &lockout))
	assert.Equal(t, 14*time.Minute, lockout.Remaining)

	attempts, err := g.FailedAttempts()
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, attempts)

	remaining, err := g.RemainingLockout()
	require.NoError(t, err)
	assert.Equal(t, 14*time.Minute, remaining)

	clock.Advance(14 * time.Minute)

	ok, err = g.Verify(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	state, err = g.State()
	require.NoError(t, err)
	assert.Equal(t, StateSet, state)
}

func TestLockoutExpiryStartsFreshLedger(t *testing.T) {
	ctx := context.Background()
	g, _, clock := newGuard(t)
	require.NoError(t, g.Set(ctx, "1234"))

	for i := 0; i < MaxAttempts; i++ {
		_, err := g.Verify(ctx, "9999")
		require.NoError(t, err)
	}
	clock.Advance(LockoutDuration)

	// One failure after expiry is the first of a new series, not a relock.
	ok, err := g.Verify(ctx, "9999")
	require.NoError(t, err)
	assert.False(t, ok)

	attempts, err := g.FailedAttempts()
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	state, err := g.State()
	require.NoError(t, err)
	assert.Equal(t, StateSet, state)
}

func TestLegacyPlaintextMigration(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newGuard(t)
	require.NoError(t, store.Set(KeyLegacyPin, "2468"))

	state, err := g.State()
	require.NoError(t, err)
	assert.Equal(t, StateSet, state)

	ok, err := g.Verify(ctx, "1111")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Verify(ctx, "2468")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Get(KeyLegacyPin)
	assert.ErrorIs(t, err, securestore.ErrNotFound)
	digest, err := store.Get(KeyDigest)
	require.NoError(t, err)
	assert.Equal(t, Digest("2468"), digest)

	ok, err = g.Verify(ctx, "2468")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGuard(t)
	require.NoError(t, g.Set(ctx, "1234"))
	_, err := g.Verify(ctx, "0000")
	require.NoError(t, err)

	require.NoError(t, g.Remove(ctx))

	state, err := g.State()
	require.NoError(t, err)
	assert.Equal(t, StateNoCredential, state)
	attempts, err := g.FailedAttempts()
	require.NoError(t, err)
	assert.Zero(t, attempts)
}

func TestSetClearsLockout(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newGuard(t)
	require.NoError(t, g.Set(ctx, "1234"))
	for i := 0; i < MaxAttempts; i++ {
		_, err := g.Verify(ctx, "0000")
		require.NoError(t, err)
	}

	require.NoError(t, g.Set(ctx, "5678"))

	ok, err := g.Verify(ctx, "5678")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDamagedLedgerStaysLocked(t *testing.T) {
	ctx := context.Background()
	g, store, clock := newGuard(t)
	require.NoError(t, g.Set(ctx, "1234"))
	require.NoError(t, store.Set(KeyLockoutUntil, "not-a-time"))

	_, err := g.Verify(ctx, "1234")
	assert.ErrorIs(t, err, ErrLocked)

	clock.Advance(LockoutDuration)
	ok, err := g.Verify(ctx, "1234")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockoutErrorMessage(t *testing.T) {
	err := &LockoutError{Remaining: 90 * time.Second}
	assert.Equal(t, "pin locked, try again in 1m30s", err.Error())
	assert.ErrorIs(t, err, ErrLocked)
}
