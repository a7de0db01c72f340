package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"piggy/internal/backup"
	"piggy/internal/events"
	"piggy/internal/log"
	"piggy/internal/metrics"
	"piggy/internal/storage"
)

// ImportOutcome describes one import attempt.
type ImportOutcome struct {
	BatchID string
	Report  backup.Report
	Result  backup.ImportResult
	// Partial is set when records listed in Report.Errors were left out.
	Partial bool
}

// BackupService validates, imports and exports backup files.
type BackupService struct {
	importer  *backup.Importer
	exporter  *backup.Exporter
	publisher events.Publisher
	logger    *log.Logger
}

// NewBackupService creates a BackupService. A nil publisher disables events.
func NewBackupService(facade *storage.Facade, publisher events.Publisher, logger *log.Logger) *BackupService {
	if logger == nil {
		logger = log.Discard()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &BackupService{
		importer:  backup.NewImporter(facade, logger),
		exporter:  backup.NewExporter(facade, logger),
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentBackup),
	}
}

// Validate parses data and sanitizes every record without writing anything.
func (s *BackupService) Validate(ctx context.Context, data []byte) (backup.Report, error) {
	doc, err := backup.Parse(data)
	if err != nil {
		return backup.Report{}, err
	}
	if !backup.ValidateStructure(doc) {
		report := backup.ValidateAndSanitize(doc)
		return report, fmt.Errorf("%w: %d problems", backup.ErrStructure, len(report.Errors))
	}
	return backup.ValidateAndSanitize(doc), nil
}

// Import validates data and, when every record is valid, writes it in one
// transaction. A backup with any invalid record is refused as a whole; the
// outcome still carries the report so callers can show the errors.
func (s *BackupService) Import(ctx context.Context, data []byte) (ImportOutcome, error) {
	return s.importBackup(ctx, data, false)
}

// ImportPartial is like Import but writes the valid records of a backup that
// has invalid ones. The outcome is marked Partial and lists what was dropped.
// Structural problems are still fatal.
func (s *BackupService) ImportPartial(ctx context.Context, data []byte) (ImportOutcome, error) {
	return s.importBackup(ctx, data, true)
}

func (s *BackupService) importBackup(ctx context.Context, data []byte, allowPartial bool) (ImportOutcome, error) {
	outcome := ImportOutcome{BatchID: uuid.NewString()}
	logger := s.logger.With(log.FieldOperation, log.OpImport)
	start := time.Now()

	report, err := s.Validate(ctx, data)
	outcome.Report = report
	if err != nil {
		metrics.BackupImports.WithLabelValues("rejected").Inc()
		logger.WarnContext(ctx, "Backup rejected",
			log.NewFields().WithImport(outcome.BatchID, 0, len(report.Errors)).WithError(err).ToSlice()...)
		return outcome, err
	}
	if !report.Importable() && !allowPartial {
		metrics.BackupImports.WithLabelValues("rejected").Inc()
		logger.WarnContext(ctx, "Backup has invalid records",
			log.NewFields().WithImport(outcome.BatchID, report.Sanitized.Data.Records(), len(report.Errors)).ToSlice()...)
		return outcome, fmt.Errorf("%w: %d invalid records", backup.ErrNotImportable, len(report.Errors))
	}

	outcome.Partial = !report.Importable()
	result, err := s.importer.ImportEnvelope(ctx, report.Sanitized)
	if err != nil {
		metrics.BackupImports.WithLabelValues("failed").Inc()
		logger.ErrorContext(ctx, "Backup import failed",
			log.NewFields().WithImport(outcome.BatchID, report.Sanitized.Data.Records(), 0).WithError(err).ToSlice()...)
		return outcome, fmt.Errorf("import backup: %w", err)
	}
	outcome.Result = result
	label := "imported"
	if outcome.Partial {
		label = "partial"
	}
	metrics.BackupImports.WithLabelValues(label).Inc()

	logger.InfoContext(ctx, "Backup imported",
		log.FieldBatchID, outcome.BatchID,
		log.FieldRecordCount, result.Total(),
		log.FieldErrorCount, len(report.Errors),
		log.FieldDuration, time.Since(start).Milliseconds(),
		"merged_categories", result.Merged)

	s.publish(ctx, events.New(events.TypeBackupImported, map[string]any{
		"batch_id": outcome.BatchID,
		"inserted": result.Total(),
		"skipped":  sum(result.Skipped),
		"partial":  outcome.Partial,
	}))
	return outcome, nil
}

// Export reads the whole database and encodes it as a backup file.
func (s *BackupService) Export(ctx context.Context) ([]byte, error) {
	env, err := s.exporter.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export backup: %w", err)
	}
	data, err := backup.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}

	records := env.Data.Records()
	s.logger.InfoContext(ctx, "Backup exported",
		log.FieldOperation, log.OpExport,
		log.FieldRecordCount, records)
	s.publish(ctx, events.New(events.TypeBackupExported, map[string]any{"records": records}))
	return data, nil
}

func (s *BackupService) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil && !errors.Is(err, events.ErrCircuitOpen) {
		s.logger.WarnContext(ctx, "Failed to publish event",
			log.FieldEventType, e.Type,
			log.FieldError, err)
	}
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
