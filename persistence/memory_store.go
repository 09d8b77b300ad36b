package persistence

import (
	"context"
	"sync"
	"time"
)

// MemoryMessageStore keeps records in process memory. Default backend
// for development and tests.
type MemoryMessageStore struct {
	mu      sync.RWMutex
	records map[string]*MessageRecord
	byTopic map[string][]string // topic -> record IDs in arrival order
	closed  bool
}

// NewMemoryMessageStore creates an in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		records: make(map[string]*MessageRecord),
		byTopic: make(map[string][]string),
	}
}

func (s *MemoryMessageStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryMessageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryMessageStore) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	s.records[rec.ID] = &cp
	if rec.Topic != "" {
		s.byTopic[rec.Topic] = append(s.byTopic[rec.Topic], rec.ID)
	}
	return nil
}

func (s *MemoryMessageStore) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryMessageStore) ListByTopic(ctx context.Context, topic string, limit int) ([]*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := s.byTopic[topic]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*MessageRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryMessageStore) AckMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.AckedAt = &now
	return nil
}

func (s *MemoryMessageStore) IncrementRetry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Retries++
	return nil
}

func (s *MemoryMessageStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, rec := range s.records {
		if rec.AckedAt != nil && rec.AckedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
			if rec.Topic != "" {
				s.byTopic[rec.Topic] = removeID(s.byTopic[rec.Topic], id)
			}
		}
	}
	return removed, nil
}

func (s *MemoryMessageStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.records)), nil
}

// MemoryTaskStore keeps task result archives in process memory.
type MemoryTaskStore struct {
	mu      sync.RWMutex
	records map[string]*TaskRecord
	order   []string
	closed  bool
}

// NewMemoryTaskStore creates an in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{records: make(map[string]*TaskRecord)}
}

func (s *MemoryTaskStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryTaskStore) SaveResult(ctx context.Context, rec *TaskRecord) error {
	if rec == nil || rec.TaskID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	if _, ok := s.records[rec.TaskID]; !ok {
		s.order = append(s.order, rec.TaskID)
	}
	cp := *rec
	s.records[rec.TaskID] = &cp
	return nil
}

func (s *MemoryTaskStore) GetResult(ctx context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryTaskStore) ListResults(ctx context.Context, limit int) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	ids := s.order
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*TaskRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, rec := range s.records {
		if rec.CompletedAt.Before(cutoff) {
			delete(s.records, id)
			s.order = removeID(s.order, id)
			removed++
		}
	}
	return removed, nil
}

func removeID(ids []string, id string) []string {
	for i, cand := range ids {
		if cand == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
