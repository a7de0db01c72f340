package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"piggy/internal/log"
	"piggy/internal/metrics"

	_ "modernc.org/sqlite"
)

// State is the lifecycle state of the database handle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFaulted:
		return "faulted"
	default:
		return "closed"
	}
}

// OpenFunc opens and configures a database handle.
type OpenFunc func(ctx context.Context, path string) (*sql.DB, error)

// Stats counts lifecycle events of a Manager.
type Stats struct {
	Opens         int64
	Invalidations int64
}

// Manager owns the single database handle of the application. It opens the
// handle lazily and replaces it when a call fails with a connection fault.
type Manager struct {
	path   string
	open   OpenFunc
	logger *log.Logger

	mu    sync.Mutex
	db    *sql.DB
	state State

	opens         atomic.Int64
	invalidations atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the Manager.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.WithComponent(log.ComponentStorage)
	}
}

// WithOpener replaces the function used to open the handle.
func WithOpener(open OpenFunc) Option {
	return func(m *Manager) {
		m.open = open
	}
}

// NewManager creates a Manager for the database file at path. Nothing is
// opened until the first Acquire.
func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:   path,
		open:   OpenSQLite,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the database file path.
func (m *Manager) Path() string {
	return m.path
}

// State returns the current handle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns open and invalidation counts since the Manager was created.
func (m *Manager) Stats() Stats {
	return Stats{
		Opens:         m.opens.Load(),
		Invalidations: m.invalidations.Load(),
	}
}

// Acquire returns the open handle, opening it first if needed.
func (m *Manager) Acquire(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateOpen && m.db != nil {
		return m.db, nil
	}
	if m.db != nil {
		m.closeLocked()
	}

	db, err := m.open(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	m.db = db
	m.state = StateOpen
	m.opens.Add(1)
	metrics.DatabaseOpens.Inc()

	m.logger.DebugContext(ctx, "Database opened", log.FieldOperation, log.OpOpen, log.FieldPath, m.path)
	return db, nil
}

// Invalidate closes the handle and forgets it. Close errors are ignored.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invalidations.Add(1)
	m.closeLocked()
}

// Close releases the handle. A later Acquire reopens it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		m.state = StateClosed
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.state = StateClosed
	return err
}

func (m *Manager) closeLocked() {
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Debug("Ignoring close error", log.FieldOperation, log.OpInvalidate, log.FieldError, err)
		}
	}
	m.db = nil
	m.state = StateClosed
}

func (m *Manager) markFaulted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		m.state = StateFaulted
	}
}

// Do runs fn with the open handle. If fn fails with a connection fault the
// handle is invalidated, reopened, and fn runs exactly once more. Any other
// error, and the error of the second run, is returned unchanged.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := m.Acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx, db)
	if err == nil || !IsConnectionFault(err) {
		return err
	}

	m.markFaulted()
	m.logger.WarnContext(ctx, "Connection fault, reopening database",
		log.FieldPath, m.path,
		log.FieldError, err)
	m.Invalidate()
	metrics.DatabaseReconnects.Inc()

	db, err = m.Acquire(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, db)
}

// WithTx runs fn inside a transaction on the managed handle. The transaction is
// rolled back if fn returns an error or panics, and committed otherwise.
// fn may run twice if the first attempt hit a connection fault, so it must not
// keep state across calls.
func (m *Manager) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return m.Do(ctx, func(ctx context.Context, db *sql.DB) (err error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
					err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
				}
			}
		}()

		if err = fn(tx); err != nil {
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// sqlitePragmas are applied to every new handle.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// OpenSQLite opens the database file at path and configures it for a single
// writer with foreign keys enforced.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection: SQLite allows a single writer, and per-connection pragmas
	// then hold for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	var fkEnabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.New("foreign keys could not be enabled")
	}

	return db, nil
}
