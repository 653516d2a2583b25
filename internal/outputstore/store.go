// Package outputstore persists the line records of execution output
// through gorm. Records are append-only and are written in batches by a
// per-execution Writer.
package outputstore

import (
	"context"
	"fmt"
	"time"

	"github.com/deixis/actionrunner/internal/action"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is the stored form of an action.OutputRecord.
type Record struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	ExecutionID string    `gorm:"size:64;not null;index:idx_output_exec_stream_seq,priority:1"`
	Stream      string    `gorm:"size:16;not null;index:idx_output_exec_stream_seq,priority:2"`
	Sequence    int       `gorm:"not null;index:idx_output_exec_stream_seq,priority:3"`
	Timestamp   time.Time `gorm:"not null"`
	Data        string    `gorm:"type:text"`
	RunnerRef   string    `gorm:"size:64"`
}

// TableName pins the table name regardless of naming strategy.
func (Record) TableName() string {
	return "action_execution_outputs"
}

func fromOutput(rec action.OutputRecord) Record {
	return Record{
		ExecutionID: rec.ExecutionID,
		Stream:      string(rec.Stream),
		Sequence:    rec.Sequence,
		Timestamp:   rec.Timestamp.UTC(),
		Data:        rec.Data,
		RunnerRef:   rec.RunnerRef,
	}
}

func (r Record) output() action.OutputRecord {
	return action.OutputRecord{
		ExecutionID: r.ExecutionID,
		Stream:      action.Stream(r.Stream),
		Sequence:    r.Sequence,
		Timestamp:   r.Timestamp,
		Data:        r.Data,
		RunnerRef:   r.RunnerRef,
	}
}

// Dialector returns the gorm dialector for driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "", "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported output store driver: %s (supported: sqlite, postgres, mysql)", driver)
}

// Store reads and appends output records.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database and migrates the records table.
func Open(driver, dsn string, log *zap.Logger) (*Store, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening output store: %w", err)
	}
	s := New(db, log)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an open gorm connection.
func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, logger: log.With(zap.String("component", "outputstore"))}
}

// Migrate creates or updates the records table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrating output store: %w", err)
	}
	return nil
}

// Append inserts recs in one batch.
func (s *Store) Append(ctx context.Context, recs []action.OutputRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]Record, len(recs))
	for i, rec := range recs {
		rows[i] = fromOutput(rec)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("appending %d output records: %w", len(rows), err)
	}
	return nil
}

// Query returns the records of an execution ordered by stream and
// sequence. An empty stream selects both streams.
func (s *Store) Query(ctx context.Context, executionID string, stream action.Stream) ([]action.OutputRecord, error) {
	q := s.db.WithContext(ctx).Where("execution_id = ?", executionID)
	if stream != "" {
		q = q.Where("stream = ?", string(stream))
	}
	var rows []Record
	if err := q.Order("stream").Order("sequence").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying output of %s: %w", executionID, err)
	}
	out := make([]action.OutputRecord, len(rows))
	for i, r := range rows {
		out[i] = r.output()
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
