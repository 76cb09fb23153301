package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaydesk/relay/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// RedisConfig holds Redis connection settings for the record store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// StoreConfig configures record store creation.
type StoreConfig struct {
	Type StoreType `yaml:"type" json:"type"`

	// Retention bounds how far back records are kept. Records older than
	// the retention window may be evicted by the backend. The safety guard
	// looks back at most 24h, so retention must not be shorter than that.
	Retention time.Duration `yaml:"retention" json:"retention"`

	// MaxRecords caps the in-memory backend.
	MaxRecords int `yaml:"max_records" json:"max_records"`

	Redis RedisConfig `yaml:"redis" json:"redis"`

	// Path is the SQLite database file for the sqlite backend.
	Path string `yaml:"path" json:"path"`
}

// DefaultStoreConfig returns the default record store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:       StoreTypeMemory,
		Retention:  7 * 24 * time.Hour,
		MaxRecords: 100000,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "relay:",
		},
		Path: "relay.db",
	}
}

// RecordStore is the abstract append/read-since contract the coordination
// layer depends on. Implementations must be safe for concurrent use.
type RecordStore interface {
	// Append durably stores a record. Records are immutable once appended.
	Append(ctx context.Context, record *types.HandoffRecord) error

	// Since returns all records with Timestamp >= since, oldest first.
	Since(ctx context.Context, since time.Time) ([]*types.HandoffRecord, error)

	// ForConversation returns the records of one conversation with
	// Timestamp >= since, oldest first.
	ForConversation(ctx context.Context, conversationID string, since time.Time) ([]*types.HandoffRecord, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Reset removes all records. For test isolation only.
	Reset(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// NewRecordStore creates a RecordStore based on the configuration.
func NewRecordStore(config StoreConfig) (RecordStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryRecordStore(config), nil
	case StoreTypeRedis:
		return NewRedisRecordStore(config)
	case StoreTypeSQLite:
		return NewSQLiteRecordStore(config)
	default:
		return nil, fmt.Errorf("unsupported record store type: %s", config.Type)
	}
}
