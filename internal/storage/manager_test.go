package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAcquire(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDBPath(t))
	defer m.Close()

	assert.Equal(t, StateClosed, m.State())

	db1, err := m.Acquire(ctx)
	require.NoError(t, err)
	db2, err := m.Acquire(ctx)
	require.NoError(t, err)

	assert.Same(t, db1, db2)
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, Stats{Opens: 1}, m.Stats())

	var fk int
	require.NoError(t, db1.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db1.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestManagerInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDBPath(t))
	defer m.Close()

	db1, err := m.Acquire(ctx)
	require.NoError(t, err)

	m.Invalidate()
	assert.Equal(t, StateClosed, m.State())

	db2, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, db1, db2)
	assert.Equal(t, Stats{Opens: 2, Invalidations: 1}, m.Stats())
}

func TestDoRecoversFromConnectionFault(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDBPath(t))
	defer m.Close()

	calls := 0
	err := m.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		calls++
		if calls == 1 {
			return sql.ErrConnDone
		}
		return db.PingContext(ctx)
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, Stats{Opens: 2, Invalidations: 1}, m.Stats())
	assert.Equal(t, StateOpen, m.State())
}

func TestDoReconnectsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDBPath(t))
	defer m.Close()

	calls := 0
	err := m.Do(ctx, func(context.Context, *sql.DB) error {
		calls++
		return driver.ErrBadConn
	})

	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), m.Stats().Invalidations)
}

func TestDoPropagatesOtherErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDBPath(t))
	defer m.Close()

	boom := errors.New("constraint failed")
	calls := 0
	err := m.Do(ctx, func(context.Context, *sql.DB) error {
		calls++
		return boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(0), m.Stats().Invalidations)
}

func TestDoReturnsOpenError(t *testing.T) {
	openErr := errors.New("disk full")
	m := NewManager("unused", WithOpener(func(context.Context, string) (*sql.DB, error) {
		return nil, openErr
	}))

	err := m.Do(context.Background(), func(context.Context, *sql.DB) error {
		t.Fatal("fn must not run without a handle")
		return nil
	})
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, StateClosed, m.State())
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	m := NewManager(testDBPath(t))
	defer m.Close()

	db, err := m.Acquire(ctx)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
		return n
	}

	err = m.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (1)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (2)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count())

	assert.Panics(t, func() {
		_ = m.WithTx(ctx, func(tx *sql.Tx) error {
			_, _ = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (3)")
			panic("boom")
		})
	})
	assert.Equal(t, 1, count())
}
