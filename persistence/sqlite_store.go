package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relaydesk/relay/types"
)

// SQLiteRecordStore is a GORM/SQLite implementation of RecordStore.
// Suitable for single-node production deployments where the handoff history
// should survive restarts and stay queryable for reporting.
type SQLiteRecordStore struct {
	db     *gorm.DB
	config StoreConfig
}

// NewSQLiteRecordStore creates a new SQLite-backed record store and runs
// the schema migration.
func NewSQLiteRecordStore(config StoreConfig) (*SQLiteRecordStore, error) {
	path := config.Path
	if path == "" {
		path = "relay.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&types.HandoffRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate handoff_records: %w", err)
	}

	return &SQLiteRecordStore{db: db, config: config}, nil
}

// Append stores a record.
func (s *SQLiteRecordStore) Append(ctx context.Context, record *types.HandoffRecord) error {
	if record == nil || record.ConversationID == "" {
		return ErrInvalidInput
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	stored := *record
	if err := s.db.WithContext(ctx).Create(&stored).Error; err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// Since returns all records from the given time, oldest first.
func (s *SQLiteRecordStore) Since(ctx context.Context, since time.Time) ([]*types.HandoffRecord, error) {
	var records []*types.HandoffRecord
	err := s.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

// ForConversation returns the records of one conversation, oldest first.
func (s *SQLiteRecordStore) ForConversation(ctx context.Context, conversationID string, since time.Time) ([]*types.HandoffRecord, error) {
	var records []*types.HandoffRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND timestamp >= ?", conversationID, since).
		Order("timestamp asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

// Ping checks if the store is healthy.
func (s *SQLiteRecordStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Reset removes all records.
func (s *SQLiteRecordStore) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&types.HandoffRecord{}).Error
}

// Close closes the underlying database.
func (s *SQLiteRecordStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		if errors.Is(err, gorm.ErrInvalidDB) {
			return nil
		}
		return err
	}
	return sqlDB.Close()
}
