package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggy/internal/credential"
	"piggy/internal/events"
	"piggy/internal/storage"
)

func newVault(t *testing.T, f *storage.Facade, balance float64) int64 {
	t.Helper()
	id, err := f.Insert(context.Background(), storage.TableVaults, map[string]any{
		"name":    storage.Text("Trip"),
		"balance": balance,
	})
	require.NoError(t, err)
	return id
}

func balanceOf(t *testing.T, f *storage.Facade, id int64) float64 {
	t.Helper()
	row, err := f.QueryOne(context.Background(), "SELECT balance FROM vaults WHERE id = ?", id)
	require.NoError(t, err)
	require.NotNil(t, row)
	return row["balance"].(float64)
}

func countTransactions(t *testing.T, f *storage.Facade, id int64) int {
	t.Helper()
	rows, err := f.QueryMany(context.Background(), "SELECT id FROM vault_transactions WHERE vault_id = ?", id)
	require.NoError(t, err)
	return len(rows)
}

func TestVaultDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	rec := &events.Recorder{}
	svc := NewVaultService(f, newGuard(), rec, nil)
	id := newVault(t, f, 100)

	m, err := svc.Deposit(ctx, id, "25,50", "", "birthday")
	require.NoError(t, err)
	assert.Equal(t, 125.5, m.Balance)
	assert.Equal(t, Deposit, m.Type)
	assert.NotZero(t, m.TransactionID)

	m, err = svc.Withdraw(ctx, "1", 20.25, "", "")
	require.NoError(t, err)
	assert.Equal(t, 105.25, m.Balance)

	assert.Equal(t, 105.25, balanceOf(t, f, id))
	assert.Equal(t, 2, countTransactions(t, f, id))
	assert.Equal(t, []string{events.TypeVaultDeposit, events.TypeVaultWithdraw}, rec.Types())

	row, err := f.QueryOne(ctx, "SELECT type, note FROM vault_transactions WHERE id = ?", m.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "withdraw", row["type"])
	assert.Nil(t, row["note"])
}

func TestVaultWithdrawInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	svc := NewVaultService(f, newGuard(), nil, nil)
	id := newVault(t, f, 10)

	_, err := svc.Withdraw(ctx, id, 10.01, "", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, 10.0, balanceOf(t, f, id))
	assert.Equal(t, 0, countTransactions(t, f, id))
}

func TestVaultRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	svc := NewVaultService(f, newGuard(), nil, nil)
	id := newVault(t, f, 10)

	for _, amount := range []any{"-5", "abc", 0, nil, "1e12"} {
		_, err := svc.Deposit(ctx, id, amount, "", "")
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %v", amount)
	}

	_, err := svc.Deposit(ctx, "x", 1, "", "")
	assert.ErrorIs(t, err, storage.ErrInvalidID)

	_, err = svc.Deposit(ctx, 999, 1, "", "")
	assert.ErrorIs(t, err, ErrVaultNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVaultRequiresPin(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	guard := newGuard()
	require.NoError(t, guard.Set(ctx, "1234"))
	rec := &events.Recorder{}
	svc := NewVaultService(f, guard, rec, nil)
	id := newVault(t, f, 50)

	_, err := svc.Deposit(ctx, id, 5, "1234", "")
	require.NoError(t, err)

	for i := 0; i < credential.MaxAttempts-1; i++ {
		_, err = svc.Withdraw(ctx, id, 5, "0000", "")
		require.ErrorIs(t, err, ErrWrongPin)
	}
	assert.NotContains(t, rec.Types(), events.TypeVaultLocked)

	_, err = svc.Withdraw(ctx, id, 5, "0000", "")
	require.ErrorIs(t, err, ErrWrongPin)
	assert.Contains(t, rec.Types(), events.TypeVaultLocked)

	_, err = svc.Withdraw(ctx, id, 5, "1234", "")
	require.ErrorIs(t, err, credential.ErrLocked)
	var lockout *credential.LockoutError
	require.True(t, errors.As(err, &lockout))
	assert.Positive(t, lockout.Remaining)

	assert.Equal(t, 55.0, balanceOf(t, f, id))
	assert.Equal(t, 1, countTransactions(t, f, id))
}
