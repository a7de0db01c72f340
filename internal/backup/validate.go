// Package backup validates, imports and exports backup documents.
//
// Import is a pipeline: Parse applies the size guard and decodes the JSON,
// ValidateAndSanitize checks the structure and turns every raw record into a
// typed one, and Importer replays the result into the database with fresh ids.
package backup

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"piggy/internal/metrics"
	"piggy/internal/storage"
)

const (
	// MaxSize is the largest backup document accepted, in bytes.
	MaxSize = 10 << 20

	// FormatVersion is written into exported backups.
	FormatVersion = "1.0.0"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Document is a decoded, not yet validated backup.
type Document struct {
	raw    []byte
	fields map[string]any
}

// Version returns the version string of the document, if any.
func (d *Document) Version() string {
	s, _ := d.fields["version"].(string)
	return s
}

// Timestamp returns the timestamp string of the document, if any.
func (d *Document) Timestamp() string {
	s, _ := d.fields["timestamp"].(string)
	return s
}

func (d *Document) table(name string) []any {
	data, _ := d.fields["data"].(map[string]any)
	rows, _ := data[name].([]any)
	return rows
}

// Parse decodes a backup document. Oversized input is rejected before it is
// decoded.
func Parse(data []byte) (*Document, error) {
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, len(data), MaxSize)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformed)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformed)
	}

	return &Document{raw: data, fields: fields}, nil
}

// Read reads at most MaxSize bytes from r and parses them.
func Read(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return Parse(data)
}

// structureErrors returns the schema violations of doc, or nil.
func structureErrors(doc *Document) ([]string, error) {
	s, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load backup schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(doc.raw))
	if err != nil {
		return nil, fmt.Errorf("validate backup: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	var errs []string
	for _, e := range result.Errors() {
		errs = append(errs, "structure: "+e.String())
	}
	return errs, nil
}

// ValidateStructure reports whether doc holds all nine table collections as
// arrays.
func ValidateStructure(doc *Document) bool {
	errs, err := structureErrors(doc)
	return err == nil && len(errs) == 0
}

// Report is the outcome of ValidateAndSanitize. Sanitized is nil when the
// structure is invalid; otherwise it holds every record that passed.
type Report struct {
	Errors    []string
	Sanitized *Envelope
}

// Importable reports whether the backup can be imported: the structure is
// valid and no record was dropped.
func (r Report) Importable() bool {
	return r.Sanitized != nil && len(r.Errors) == 0
}

// ValidateAndSanitize checks the structure of doc and sanitizes every record.
// Records that fail are dropped and reported as "<table>[<index>]: <reason>".
func ValidateAndSanitize(doc *Document) Report {
	structural, err := structureErrors(doc)
	if err != nil {
		return Report{Errors: []string{err.Error()}}
	}
	if len(structural) > 0 {
		return Report{Errors: structural}
	}

	env := &Envelope{Version: doc.Version(), Timestamp: doc.Timestamp()}
	tableErrors := make([][]string, len(storage.Tables))

	var g errgroup.Group
	run := func(i int, fn func() []string) {
		g.Go(func() error {
			tableErrors[i] = fn()
			return nil
		})
	}
	run(0, func() []string {
		var errs []string
		env.Data.Settings, errs = sanitizeTable(storage.TableSettings, doc, sanitizeSettings)
		return errs
	})
	run(1, func() []string {
		var errs []string
		env.Data.Categories, errs = sanitizeTable(storage.TableCategories, doc, sanitizeCategory)
		return errs
	})
	run(2, func() []string {
		var errs []string
		env.Data.Cards, errs = sanitizeTable(storage.TableCards, doc, sanitizeCard)
		return errs
	})
	run(3, func() []string {
		var errs []string
		env.Data.BalanceTransactions, errs = sanitizeTable(storage.TableBalanceTransactions, doc, sanitizeBalanceTransaction)
		return errs
	})
	run(4, func() []string {
		var errs []string
		env.Data.Purchases, errs = sanitizeTable(storage.TablePurchases, doc, sanitizePurchase)
		return errs
	})
	run(5, func() []string {
		var errs []string
		env.Data.PurchaseItems, errs = sanitizeTable(storage.TablePurchaseItems, doc, sanitizePurchaseItem)
		return errs
	})
	run(6, func() []string {
		var errs []string
		env.Data.Installments, errs = sanitizeTable(storage.TableInstallments, doc, sanitizeInstallment)
		return errs
	})
	run(7, func() []string {
		var errs []string
		env.Data.Vaults, errs = sanitizeTable(storage.TableVaults, doc, sanitizeVault)
		return errs
	})
	run(8, func() []string {
		var errs []string
		env.Data.VaultTransactions, errs = sanitizeTable(storage.TableVaultTransactions, doc, sanitizeVaultTransaction)
		return errs
	})
	_ = g.Wait()

	var errs []string
	for _, e := range tableErrors {
		errs = append(errs, e...)
	}
	return Report{Errors: errs, Sanitized: env}
}

func sanitizeTable[T any](table string, doc *Document, fn func(record) (T, error)) ([]T, []string) {
	rows := doc.table(table)
	out := make([]T, 0, len(rows))
	var errs []string
	for i, raw := range rows {
		fields, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s[%d]: not an object", table, i))
			continue
		}
		rec, err := fn(record(fields))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s[%d]: %v", table, i, err))
			continue
		}
		out = append(out, rec)
	}
	metrics.BackupRecords.WithLabelValues(table, "accepted").Add(float64(len(out)))
	metrics.BackupRecords.WithLabelValues(table, "rejected").Add(float64(len(errs)))
	return out, errs
}
