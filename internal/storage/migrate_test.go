package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// schemaSnapshot describes tables, their columns and the default category
// count, for comparing databases across startups.
func schemaSnapshot(t *testing.T, f *Facade) string {
	t.Helper()
	ctx := context.Background()

	var b strings.Builder
	tables, err := f.QueryMany(ctx,
		"SELECT name FROM sqlite_master WHERE type IN ('table', 'index') AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	for _, row := range tables {
		name := row["name"].(string)
		b.WriteString(name)
		cols, err := f.QueryMany(ctx, "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", Text(name))
		require.NoError(t, err)
		for _, c := range cols {
			fmt.Fprintf(&b, " %s:%s", c["name"], c["type"])
		}
		b.WriteString("\n")
	}

	row, err := f.QueryOne(ctx, "SELECT COUNT(*) AS n FROM categories WHERE is_default = 1")
	require.NoError(t, err)
	fmt.Fprintf(&b, "defaults=%d\n", row["n"])
	return b.String()
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := testDBPath(t)

	first := NewFacade(NewManager(path), nil)
	require.NoError(t, first.Initialize(context.Background()))
	before := schemaSnapshot(t, first)
	require.NoError(t, first.Close())

	second := openTestFacade(t, path)
	after := schemaSnapshot(t, second)

	assert.Equal(t, before, after)
	assert.Contains(t, after, fmt.Sprintf("defaults=%d", len(DefaultCategories)))

	// Running every step again on the open database changes nothing either.
	require.NoError(t, Migrate(context.Background(), second.manager))
	assert.Equal(t, before, schemaSnapshot(t, second))
}

func TestMigrateCreatesAllTables(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	for _, table := range Tables {
		row, err := f.QueryOne(ctx, "SELECT COUNT(*) AS n FROM sqlite_master WHERE type = 'table' AND name = ?", Text(table))
		require.NoError(t, err)
		assert.Equal(t, int64(1), row["n"], table)
	}

	settings, err := f.QueryOne(ctx, "SELECT currency, monthly_income FROM settings WHERE id = 1")
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, "EUR", settings["currency"])
}

func TestEnsureSchemaRecreatesDroppedTable(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)
	f := openTestFacade(t, path)

	require.NoError(t, f.manager.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DROP TABLE vault_transactions")
		return err
	}))

	require.NoError(t, EnsureSchema(ctx, f.manager))

	row, err := f.QueryOne(ctx, "SELECT COUNT(*) AS n FROM sqlite_master WHERE name = 'vault_transactions'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["n"])
}

// legacySchema is the layout of the first release, before the columns in
// columnMigrations existed.
const legacySchema = `
CREATE TABLE settings (id INTEGER PRIMARY KEY, currency TEXT NOT NULL DEFAULT 'EUR', notifications_enabled INTEGER NOT NULL DEFAULT 1, updated_at TEXT);
CREATE TABLE categories (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, icon TEXT, color TEXT, created_at TEXT);
CREATE TABLE cards (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, last_digits TEXT, credit_limit REAL NOT NULL DEFAULT 0, closing_day INTEGER, due_day INTEGER, created_at TEXT);
CREATE TABLE balance_transactions (id INTEGER PRIMARY KEY AUTOINCREMENT, type TEXT NOT NULL, amount REAL NOT NULL, description TEXT, category_id INTEGER REFERENCES categories(id), date TEXT NOT NULL, created_at TEXT);
CREATE TABLE purchases (id INTEGER PRIMARY KEY AUTOINCREMENT, description TEXT NOT NULL, total_amount REAL NOT NULL, category_id INTEGER REFERENCES categories(id), payment_method TEXT NOT NULL DEFAULT 'cash', date TEXT NOT NULL, created_at TEXT);
CREATE TABLE purchase_items (id INTEGER PRIMARY KEY AUTOINCREMENT, purchase_id INTEGER NOT NULL REFERENCES purchases(id) ON DELETE CASCADE, name TEXT NOT NULL, quantity REAL NOT NULL DEFAULT 1, unit_price REAL NOT NULL DEFAULT 0);
CREATE TABLE installments (id INTEGER PRIMARY KEY AUTOINCREMENT, purchase_id INTEGER NOT NULL REFERENCES purchases(id) ON DELETE CASCADE, number INTEGER NOT NULL, amount REAL NOT NULL, due_date TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'pending');
CREATE TABLE vaults (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, balance REAL NOT NULL DEFAULT 0, color TEXT, created_at TEXT);
CREATE TABLE vault_transactions (id INTEGER PRIMARY KEY AUTOINCREMENT, vault_id INTEGER NOT NULL REFERENCES vaults(id) ON DELETE CASCADE, type TEXT NOT NULL, amount REAL NOT NULL, note TEXT, date TEXT NOT NULL, created_at TEXT);

INSERT INTO categories (id, name) VALUES (1, 'Rent'), (2, 'Salary'), (3, 'Food'), (7, ' food ');
INSERT INTO cards (id, name, last_digits) VALUES (1, 'Visa', '0042');
INSERT INTO purchases (id, description, total_amount, category_id, date) VALUES (1, 'Groceries', 52.3, 7, '2024-03-01'), (2, 'Dinner', 30, 3, '2024-03-02');
INSERT INTO balance_transactions (type, amount, category_id, date) VALUES ('expense', 12.5, 7, '2024-03-03');
`

func seedLegacyDatabase(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, legacySchema)
	require.NoError(t, err)
}

func TestMigrateUpgradesLegacyDatabase(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)
	seedLegacyDatabase(t, path)

	f := openTestFacade(t, path)

	for _, cm := range columnMigrations {
		row, err := f.QueryOne(ctx, "SELECT COUNT(*) AS n FROM pragma_table_info(?) WHERE name = ?", Text(cm.table), Text(cm.column))
		require.NoError(t, err)
		assert.Equal(t, int64(1), row["n"], "%s.%s", cm.table, cm.column)
	}

	card, err := f.QueryOne(ctx, "SELECT color, last_digits FROM cards WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, DefaultCardColor, card["color"])
	assert.Equal(t, "0042", card["last_digits"])
}

func TestRepairMergesDuplicateCategories(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)
	seedLegacyDatabase(t, path)

	f := openTestFacade(t, path)

	gone, err := f.QueryOne(ctx, "SELECT id FROM categories WHERE id = 7")
	require.NoError(t, err)
	assert.Nil(t, gone)

	foods, err := f.QueryMany(ctx, "SELECT id FROM categories WHERE LOWER(TRIM(name)) = 'food'")
	require.NoError(t, err)
	require.Len(t, foods, 1)
	assert.Equal(t, int64(3), foods[0]["id"])

	purchases, err := f.QueryMany(ctx, "SELECT category_id FROM purchases ORDER BY id")
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	assert.Equal(t, int64(3), purchases[0]["category_id"])
	assert.Equal(t, int64(3), purchases[1]["category_id"])

	tx, err := f.QueryOne(ctx, "SELECT category_id FROM balance_transactions")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tx["category_id"])

	// Seeding skips names that already exist.
	defaults, err := f.QueryOne(ctx, "SELECT COUNT(*) AS n FROM categories WHERE is_default = 1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(DefaultCategories)-1), defaults["n"])
}

func TestMigrateFailureWrapsInitializationError(t *testing.T) {
	// A directory cannot be opened as a database file.
	f := NewFacade(NewManager(t.TempDir()), nil)

	err := f.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.False(t, f.Ready())

	_, err = f.QueryMany(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrNotInitialized)
}
