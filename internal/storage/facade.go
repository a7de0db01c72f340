package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"piggy/internal/log"
	"piggy/internal/sanitize"
)

// Row is one result row keyed by column name. Text columns are strings,
// integers are int64 and reals are float64.
type Row map[string]any

// Result reports the effect of a write.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Facade is the only way application code reaches the database. Statements are
// shape-checked and parameters sanitized before anything runs, and every call
// goes through the Manager's retry policy.
type Facade struct {
	manager *Manager
	logger  *log.Logger
	checker *statementChecker

	initMu sync.Mutex
	ready  atomic.Bool
}

// NewFacade creates a Facade over m. It refuses calls until Initialize succeeds.
func NewFacade(m *Manager, logger *log.Logger) *Facade {
	if logger == nil {
		logger = log.Discard()
	}
	return &Facade{
		manager: m,
		logger:  logger.WithComponent(log.ComponentFacade),
		checker: newStatementChecker(),
	}
}

// Initialize runs the migration sequence once. After a success later calls
// return nil immediately. After a failure the Facade stays closed and
// Initialize may be retried.
func (f *Facade) Initialize(ctx context.Context) error {
	f.initMu.Lock()
	defer f.initMu.Unlock()

	if f.ready.Load() {
		return nil
	}
	if err := Migrate(ctx, f.manager); err != nil {
		return err
	}
	f.ready.Store(true)
	f.logger.InfoContext(ctx, "Storage ready", log.FieldPath, f.manager.Path())
	return nil
}

// Ready reports whether Initialize has completed.
func (f *Facade) Ready() bool {
	return f.ready.Load()
}

// Close releases the database handle.
func (f *Facade) Close() error {
	return f.manager.Close()
}

func (f *Facade) gate() error {
	if !f.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Execute runs a write statement.
func (f *Facade) Execute(ctx context.Context, stmt string, params ...any) (Result, error) {
	if err := f.gate(); err != nil {
		return Result{}, err
	}
	args, err := f.prepare(writePath, stmt, params)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = f.manager.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		res, err = execute(ctx, db, stmt, args)
		return err
	})
	return res, err
}

// QueryMany runs a read statement and returns all rows.
func (f *Facade) QueryMany(ctx context.Context, stmt string, params ...any) ([]Row, error) {
	if err := f.gate(); err != nil {
		return nil, err
	}
	args, err := f.prepare(readPath, stmt, params)
	if err != nil {
		return nil, err
	}

	var rows []Row
	err = f.manager.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		rows, err = query(ctx, db, stmt, args)
		return err
	})
	return rows, err
}

// QueryOne runs a read statement and returns its first row, or nil when there
// is none.
func (f *Facade) QueryOne(ctx context.Context, stmt string, params ...any) (Row, error) {
	rows, err := f.QueryMany(ctx, stmt, params...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert adds a row to table and returns its id.
func (f *Facade) Insert(ctx context.Context, table string, fields map[string]any) (int64, error) {
	if err := f.gate(); err != nil {
		return 0, err
	}
	stmt, args, err := buildInsert(table, fields)
	if err != nil {
		return 0, err
	}

	var id int64
	err = f.manager.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := execute(ctx, db, stmt, args)
		id = res.LastInsertID
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	f.logger.DebugContext(ctx, "Row inserted", log.NewFields().WithOperation(log.OpInsert).WithTable(table, id).ToSlice()...)
	return id, nil
}

// Update sets fields on the row of table with the given id.
func (f *Facade) Update(ctx context.Context, table string, id any, fields map[string]any) error {
	if err := f.gate(); err != nil {
		return err
	}
	stmt, args, err := buildUpdate(table, id, fields)
	if err != nil {
		return err
	}
	return f.manager.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		return expectRow(execute(ctx, db, stmt, args))
	})
}

// Delete removes the row of table with the given id.
func (f *Facade) Delete(ctx context.Context, table string, id any) error {
	if err := f.gate(); err != nil {
		return err
	}
	stmt, args, err := buildDelete(table, id)
	if err != nil {
		return err
	}
	return f.manager.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		return expectRow(execute(ctx, db, stmt, args))
	})
}

// Bulk runs fn inside one transaction. Nothing fn wrote survives if it returns
// an error. fn runs a second time if the first attempt hit a connection fault.
func (f *Facade) Bulk(ctx context.Context, fn func(tx *Tx) error) error {
	if err := f.gate(); err != nil {
		return err
	}
	return f.manager.WithTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(&Tx{facade: f, tx: sqlTx})
	})
}

// Tx exposes the Facade operations inside a Bulk transaction.
type Tx struct {
	facade *Facade
	tx     *sql.Tx
}

// Execute runs a write statement inside the transaction.
func (t *Tx) Execute(ctx context.Context, stmt string, params ...any) (Result, error) {
	args, err := t.facade.prepare(writePath, stmt, params)
	if err != nil {
		return Result{}, err
	}
	return execute(ctx, t.tx, stmt, args)
}

// QueryMany runs a read statement inside the transaction.
func (t *Tx) QueryMany(ctx context.Context, stmt string, params ...any) ([]Row, error) {
	args, err := t.facade.prepare(readPath, stmt, params)
	if err != nil {
		return nil, err
	}
	return query(ctx, t.tx, stmt, args)
}

// QueryOne returns the first row of a read statement, or nil.
func (t *Tx) QueryOne(ctx context.Context, stmt string, params ...any) (Row, error) {
	rows, err := t.QueryMany(ctx, stmt, params...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert adds a row inside the transaction and returns its id.
func (t *Tx) Insert(ctx context.Context, table string, fields map[string]any) (int64, error) {
	stmt, args, err := buildInsert(table, fields)
	if err != nil {
		return 0, err
	}
	res, err := execute(ctx, t.tx, stmt, args)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertID, nil
}

// Update sets fields on a row inside the transaction.
func (t *Tx) Update(ctx context.Context, table string, id any, fields map[string]any) error {
	stmt, args, err := buildUpdate(table, id, fields)
	if err != nil {
		return err
	}
	return expectRow(execute(ctx, t.tx, stmt, args))
}

// Delete removes a row inside the transaction.
func (t *Tx) Delete(ctx context.Context, table string, id any) error {
	stmt, args, err := buildDelete(table, id)
	if err != nil {
		return err
	}
	return expectRow(execute(ctx, t.tx, stmt, args))
}

func (f *Facade) prepare(path statementPath, stmt string, params []any) ([]any, error) {
	if err := f.checker.check(path, stmt); err != nil {
		f.logger.Warn("Statement rejected", log.FieldStatement, stmt, log.FieldError, err)
		return nil, err
	}
	return sanitizeParams(params)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func execute(ctx context.Context, q querier, stmt string, args []any) (Result, error) {
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, err
	}
	var out Result
	out.LastInsertID, _ = res.LastInsertId()
	out.RowsAffected, _ = res.RowsAffected()
	return out, nil
}

func query(ctx context.Context, q querier, stmt string, args []any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func expectRow(res Result, err error) error {
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func checkTable(table string) error {
	if !IsKnownTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

// sortedColumns validates field names and returns them in a stable order so
// that generated statements hit the verdict cache.
func sortedColumns(fields map[string]any) ([]string, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidParam)
	}
	columns := make([]string, 0, len(fields))
	for name := range fields {
		if !validateIdentifier(name) || strings.EqualFold(name, "id") {
			return nil, fmt.Errorf("%w: column %q", ErrInvalidParam, name)
		}
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns, nil
}

func buildInsert(table string, fields map[string]any) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	columns, err := sortedColumns(fields)
	if err != nil {
		return "", nil, err
	}

	params := make([]any, len(columns))
	for i, c := range columns {
		params[i] = fields[c]
	}
	args, err := sanitizeParams(params)
	if err != nil {
		return "", nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders)
	return stmt, args, nil
}

func buildUpdate(table string, id any, fields map[string]any) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	rowID, ok := sanitize.ID(id).Get()
	if !ok {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidID, id)
	}
	columns, err := sortedColumns(fields)
	if err != nil {
		return "", nil, err
	}

	params := make([]any, len(columns))
	assignments := make([]string, len(columns))
	for i, c := range columns {
		params[i] = fields[c]
		assignments[i] = c + " = ?"
	}
	args, err := sanitizeParams(params)
	if err != nil {
		return "", nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(assignments, ", "))
	return stmt, append(args, rowID), nil
}

func buildDelete(table string, id any) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	rowID, ok := sanitize.ID(id).Get()
	if !ok {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidID, id)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), []any{rowID}, nil
}
