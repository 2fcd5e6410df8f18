// Package dlq implements the dead-letter store: an append-only record of
// permanently failed jobs, kept in its own table inside queue.db so
// retention sweeps never fragment the hot queue. failed_at is stored
// as an int64 Unix-epoch-seconds
// column end to end — no text-timestamp representation exists anywhere
// in this implementation.
package dlq

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/syncqueue/internal/syncclient"
)

// Entry is a full dead-letter record, including the opaque original job
// payload. get_recent returns Summary (no payload); get_by_id returns
// the full Entry.
type Entry struct {
	ID                 uint64               `gorm:"primaryKey;autoIncrement"`
	SceneID            string               `gorm:"index"`
	ErrorType          syncclient.ErrorKind `gorm:"column:error_type"`
	ErrorMessage       string
	StackTrace         string
	RetryCount         int
	FailedAt           int64 `gorm:"index"` // unix epoch seconds
	OriginalJobPayload []byte
}

func (Entry) TableName() string { return "dlq_entries" }

// Summary is the no-payload projection returned by GetRecent.
type Summary struct {
	ID           uint64
	SceneID      string
	ErrorType    syncclient.ErrorKind
	ErrorMessage string
	RetryCount   int
	FailedAt     int64
}

// Store is the dead-letter store, backed by the same SQLite file as PQ
// (a separate table in the same queue.db file).
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the dlq_entries table at dbPath.
// Safe to call with the same dbPath as queue.Open — GORM migrates
// whichever tables are missing without disturbing sync_jobs.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("dlq: open %s: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("dlq: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Add appends a permanent-failure record.
func (s *Store) Add(sceneID string, errorType syncclient.ErrorKind, errorMessage, stackTrace string, retryCount int, originalJobPayload []byte) (uint64, error) {
	e := Entry{
		SceneID:            sceneID,
		ErrorType:          errorType,
		ErrorMessage:       errorMessage,
		StackTrace:         stackTrace,
		RetryCount:         retryCount,
		FailedAt:           time.Now().Unix(),
		OriginalJobPayload: originalJobPayload,
	}
	if err := s.db.Create(&e).Error; err != nil {
		return 0, fmt.Errorf("dlq: add: %w", err)
	}
	return e.ID, nil
}

// GetRecent returns the limit most recently failed entries, newest
// first, without payloads.
func (s *Store) GetRecent(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []Entry
	err := s.db.Select("id", "scene_id", "error_type", "error_message", "retry_count", "failed_at").
		Order("failed_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("dlq: get_recent: %w", err)
	}
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, Summary{
			ID:           e.ID,
			SceneID:      e.SceneID,
			ErrorType:    e.ErrorType,
			ErrorMessage: e.ErrorMessage,
			RetryCount:   e.RetryCount,
			FailedAt:     e.FailedAt,
		})
	}
	return out, nil
}

// GetByID returns the full record, including payload, or
// gorm.ErrRecordNotFound.
func (s *Store) GetByID(id uint64) (*Entry, error) {
	var e Entry
	if err := s.db.First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// Count returns the total number of dead-letter entries currently
// retained.
func (s *Store) Count() (int64, error) {
	var count int64
	if err := s.db.Model(&Entry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("dlq: count: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes entries whose failed_at is older than days ago
// and returns the number removed. Pruning is advisory — recovery can
// still read up to the point of deletion.
func (s *Store) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	res := s.db.Where("failed_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("dlq: delete_older_than: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// EntriesInWindow returns entries whose failed_at falls in [start, end]
// (inclusive on both ends) and whose
// error_type is in errorTypes. An empty errorTypes matches any type.
func (s *Store) EntriesInWindow(start, end time.Time, errorTypes []syncclient.ErrorKind) ([]Entry, error) {
	q := s.db.Where("failed_at >= ? AND failed_at <= ?", start.Unix(), end.Unix())
	if len(errorTypes) > 0 {
		q = q.Where("error_type IN ?", errorTypes)
	}
	var entries []Entry
	if err := q.Order("failed_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("dlq: entries_in_window: %w", err)
	}
	return entries, nil
}

// CountInWindow returns the number of entries whose failed_at falls in
// [start, end] — used to compute an outage record's jobs_affected from
// entries added to DLQ during [opened_at, closed_at].
func (s *Store) CountInWindow(start, end time.Time) (int, error) {
	var count int64
	err := s.db.Model(&Entry{}).
		Where("failed_at >= ? AND failed_at <= ?", start.Unix(), end.Unix()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("dlq: count_in_window: %w", err)
	}
	return int(count), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
