package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"piggy/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const initSchemaFile = "migrations/000001_init_schema.up.sql"

// DefaultCardColor is assigned to cards stored without a color.
const DefaultCardColor = "#6C5CE7"

// DefaultCategory is a category seeded into an empty database.
type DefaultCategory struct {
	Name  string
	Icon  string
	Color string
}

// DefaultCategories are seeded when no default-flagged category exists.
var DefaultCategories = []DefaultCategory{
	{Name: "Food", Icon: "utensils", Color: "#FF6B6B"},
	{Name: "Transport", Icon: "car", Color: "#4ECDC4"},
	{Name: "Housing", Icon: "home", Color: "#45B7D1"},
	{Name: "Health", Icon: "heart", Color: "#96CEB4"},
	{Name: "Leisure", Icon: "smile", Color: "#FFEAA7"},
	{Name: "Education", Icon: "book", Color: "#DDA0DD"},
	{Name: "Shopping", Icon: "shopping-bag", Color: "#F8A5C2"},
	{Name: "Other", Icon: "tag", Color: "#B2BEC3"},
}

// columnMigration adds a column introduced after the first release.
type columnMigration struct {
	table      string
	column     string
	definition string
}

// columnMigrations is append-only.
var columnMigrations = []columnMigration{
	{TableSettings, "monthly_income", "REAL NOT NULL DEFAULT 0"},
	{TableCategories, "is_default", "INTEGER NOT NULL DEFAULT 0"},
	{TableCards, "color", "TEXT"},
	{TablePurchases, "card_id", "INTEGER REFERENCES cards(id) ON DELETE SET NULL"},
	{TablePurchases, "installments_count", "INTEGER NOT NULL DEFAULT 1"},
	{TableInstallments, "paid_at", "TEXT"},
	{TableVaults, "goal", "REAL"},
}

// Migrate brings the database at m up to date: it creates missing tables and
// indexes, adds missing columns, repairs legacy rows and seeds defaults, in that
// order. Every step is idempotent, so Migrate runs on every startup.
func Migrate(ctx context.Context, m *Manager) error {
	steps := []struct {
		name string
		run  func(context.Context, *Manager) error
	}{
		{"ensure schema", EnsureSchema},
		{"apply column migrations", ApplyColumnMigrations},
		{"repair legacy data", RepairLegacyData},
		{"seed defaults", SeedDefaults},
	}

	for _, step := range steps {
		start := time.Now()
		if err := step.run(ctx, m); err != nil {
			m.logger.ErrorContext(ctx, "Migration step failed",
				log.FieldOperation, log.OpMigrate,
				"step", step.name,
				log.FieldError, err)
			return fmt.Errorf("%w: %s: %w", ErrInitialization, step.name, err)
		}
		m.logger.DebugContext(ctx, "Migration step completed",
			log.FieldOperation, log.OpMigrate,
			"step", step.name,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
	return nil
}

// EnsureSchema applies the embedded schema migrations. Tables that are still
// missing afterwards, for instance dropped by hand from a database already at
// the latest version, are recreated from the initial schema.
func EnsureSchema(ctx context.Context, m *Manager) error {
	if err := runMigrations(m.Path()); err != nil {
		return err
	}

	return m.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		missing, err := missingTables(ctx, db)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			return nil
		}

		m.logger.WarnContext(ctx, "Recreating missing tables", "tables", missing)
		ddl, err := migrationsFS.ReadFile(initSchemaFile)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
			return fmt.Errorf("create missing tables: %w", err)
		}
		return nil
	})
}

func runMigrations(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	// Separate connection: closing the migrate instance closes its database.
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func missingTables(ctx context.Context, db *sql.DB) ([]string, error) {
	var missing []string
	for _, table := range Tables {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("probe table %s: %w", table, err)
		}
		if n == 0 {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// ApplyColumnMigrations adds every column of the migration list that the
// database does not have yet.
func ApplyColumnMigrations(ctx context.Context, m *Manager) error {
	return m.WithTx(ctx, func(tx *sql.Tx) error {
		for _, cm := range columnMigrations {
			added, err := addColumnIfNotExists(ctx, tx, cm.table, cm.column, cm.definition)
			if err != nil {
				return err
			}
			if added {
				m.logger.InfoContext(ctx, "Added column",
					log.FieldTable, cm.table,
					log.FieldColumn, cm.column)
			}
		}
		return nil
	})
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

func addColumnIfNotExists(ctx context.Context, tx *sql.Tx, table, column, definition string) (bool, error) {
	// Identifiers cannot be bound as parameters.
	if !validateIdentifier(table) || !validateIdentifier(column) {
		return false, fmt.Errorf("invalid identifier %q.%q", table, column)
	}

	exists, err := columnExists(ctx, tx, table, column)
	if err != nil || exists {
		return false, err
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return true, nil
}

// RepairLegacyData fixes rows written by older releases: cards without a color
// get DefaultCardColor, and categories sharing a name (ignoring case and
// surrounding spaces) collapse into the one with the lowest id. References from
// purchases and balance transactions are moved before the duplicates are
// deleted.
func RepairLegacyData(ctx context.Context, m *Manager) error {
	return m.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE cards SET color = ? WHERE color IS NULL OR TRIM(color) = ''", DefaultCardColor)
		if err != nil {
			return fmt.Errorf("repair card colors: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			m.logger.InfoContext(ctx, "Assigned default card color", log.FieldRows, n)
		}

		merged, err := mergeDuplicateCategories(ctx, tx)
		if err != nil {
			return err
		}
		if merged > 0 {
			m.logger.InfoContext(ctx, "Merged duplicate categories", log.FieldRows, merged)
		}
		return nil
	})
}

type categoryDuplicate struct {
	keep int64
	dup  int64
}

func mergeDuplicateCategories(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT k.keep_id, c.id
		FROM categories c
		JOIN (
			SELECT LOWER(TRIM(name)) AS norm, MIN(id) AS keep_id
			FROM categories
			GROUP BY LOWER(TRIM(name))
			HAVING COUNT(*) > 1
		) k ON LOWER(TRIM(c.name)) = k.norm
		WHERE c.id <> k.keep_id
		ORDER BY c.id`)
	if err != nil {
		return 0, fmt.Errorf("find duplicate categories: %w", err)
	}

	var dups []categoryDuplicate
	for rows.Next() {
		var d categoryDuplicate
		if err := rows.Scan(&d.keep, &d.dup); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan duplicate category: %w", err)
		}
		dups = append(dups, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate duplicate categories: %w", err)
	}

	for _, d := range dups {
		for _, table := range []string{TablePurchases, TableBalanceTransactions} {
			stmt := fmt.Sprintf("UPDATE %s SET category_id = ? WHERE category_id = ?", table)
			if _, err := tx.ExecContext(ctx, stmt, d.keep, d.dup); err != nil {
				return 0, fmt.Errorf("repoint %s from category %d: %w", table, d.dup, err)
			}
		}
		// The survivor stays a default if any of the merged rows was one.
		if _, err := tx.ExecContext(ctx, `
			UPDATE categories SET is_default = 1
			WHERE id = ? AND (SELECT is_default FROM categories WHERE id = ?) = 1`, d.keep, d.dup); err != nil {
			return 0, fmt.Errorf("carry default flag to category %d: %w", d.keep, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", d.dup); err != nil {
			return 0, fmt.Errorf("delete duplicate category %d: %w", d.dup, err)
		}
	}
	return len(dups), nil
}

// SeedDefaults inserts DefaultCategories when no default-flagged category
// exists, skipping names already in use, and creates the settings row.
func SeedDefaults(ctx context.Context, m *Manager) error {
	return m.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339)

		var defaults int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM categories WHERE is_default = 1").Scan(&defaults); err != nil {
			return fmt.Errorf("count default categories: %w", err)
		}
		if defaults == 0 {
			for _, c := range DefaultCategories {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO categories (name, icon, color, is_default, created_at)
					SELECT ?, ?, ?, 1, ?
					WHERE NOT EXISTS (SELECT 1 FROM categories WHERE LOWER(TRIM(name)) = LOWER(?))`,
					c.Name, c.Icon, c.Color, now, c.Name)
				if err != nil {
					return fmt.Errorf("seed category %s: %w", c.Name, err)
				}
			}
			m.logger.InfoContext(ctx, "Seeded default categories", log.FieldRows, len(DefaultCategories))
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (id, currency, monthly_income, notifications_enabled, updated_at)
			SELECT 1, 'EUR', 0, 1, ?
			WHERE NOT EXISTS (SELECT 1 FROM settings)`, now); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		return nil
	})
}
