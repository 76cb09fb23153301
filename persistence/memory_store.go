package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relay/types"
)

// MemoryRecordStore is an in-memory implementation of RecordStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryRecordStore struct {
	records []*types.HandoffRecord
	byConv  map[string][]*types.HandoffRecord
	config  StoreConfig
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryRecordStore creates a new in-memory record store.
func NewMemoryRecordStore(config StoreConfig) *MemoryRecordStore {
	return &MemoryRecordStore{
		byConv: make(map[string][]*types.HandoffRecord),
		config: config,
	}
}

// Append stores a record.
func (s *MemoryRecordStore) Append(ctx context.Context, record *types.HandoffRecord) error {
	if record == nil || record.ConversationID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	record.ID = stored.ID
	record.Timestamp = stored.Timestamp

	s.records = append(s.records, &stored)
	s.byConv[stored.ConversationID] = append(s.byConv[stored.ConversationID], &stored)

	if s.config.MaxRecords > 0 && len(s.records) > s.config.MaxRecords {
		s.evictLocked()
	}
	return nil
}

// evictLocked drops the oldest records beyond capacity or retention.
func (s *MemoryRecordStore) evictLocked() {
	drop := len(s.records) - s.config.MaxRecords
	if drop <= 0 {
		return
	}
	for _, old := range s.records[:drop] {
		list := s.byConv[old.ConversationID]
		for i, r := range list {
			if r.ID == old.ID {
				s.byConv[old.ConversationID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.byConv[old.ConversationID]) == 0 {
			delete(s.byConv, old.ConversationID)
		}
	}
	s.records = append([]*types.HandoffRecord(nil), s.records[drop:]...)
}

// Since returns all records from the given time, oldest first.
func (s *MemoryRecordStore) Since(ctx context.Context, since time.Time) ([]*types.HandoffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return filterSince(s.records, since), nil
}

// ForConversation returns the records of one conversation, oldest first.
func (s *MemoryRecordStore) ForConversation(ctx context.Context, conversationID string, since time.Time) ([]*types.HandoffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return filterSince(s.byConv[conversationID], since), nil
}

// Ping checks if the store is healthy.
func (s *MemoryRecordStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Reset removes all records.
func (s *MemoryRecordStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.records = nil
	s.byConv = make(map[string][]*types.HandoffRecord)
	return nil
}

// Close closes the store.
func (s *MemoryRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func filterSince(records []*types.HandoffRecord, since time.Time) []*types.HandoffRecord {
	out := make([]*types.HandoffRecord, 0, len(records))
	for _, r := range records {
		if !r.Timestamp.Before(since) {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
