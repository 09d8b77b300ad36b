package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// fileStore is the shared blob layout: one JSON file per record under
// baseDir, named <id>.json. Writes go through a temp file + rename so a
// crash never leaves a torn record.
type fileStore struct {
	mu      sync.Mutex
	baseDir string
	closed  bool
}

func newFileStore(baseDir string) (*fileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: base_dir is required for file store", ErrInvalidInput)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &fileStore{baseDir: baseDir}, nil
}

func (s *fileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) path(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

func (s *fileStore) write(id string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(id))
}

func (s *fileStore) read(id string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *fileStore) ids() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fileStore) remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// FileMessageStore persists message records as JSON blobs on disk.
type FileMessageStore struct {
	*fileStore
}

// NewFileMessageStore creates a file-backed message store under
// cfg.BaseDir/messages.
func NewFileMessageStore(cfg StoreConfig) (*FileMessageStore, error) {
	fs, err := newFileStore(filepath.Join(cfg.BaseDir, "messages"))
	if err != nil {
		return nil, err
	}
	return &FileMessageStore{fileStore: fs}, nil
}

func (s *FileMessageStore) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return s.write(rec.ID, rec)
}

func (s *FileMessageStore) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	var rec MessageRecord
	if err := s.read(id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileMessageStore) ListByTopic(ctx context.Context, topic string, limit int) ([]*MessageRecord, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	recs := make([]*MessageRecord, 0)
	for _, id := range ids {
		rec, err := s.GetMessage(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Topic == topic {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (s *FileMessageStore) AckMessage(ctx context.Context, id string) error {
	rec, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	rec.AckedAt = &now
	return s.write(id, rec)
}

func (s *FileMessageStore) IncrementRetry(ctx context.Context, id string) error {
	rec, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	rec.Retries++
	return s.write(id, rec)
}

func (s *FileMessageStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, id := range ids {
		rec, err := s.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		if rec.AckedAt != nil && rec.AckedAt.Before(cutoff) {
			if err := s.remove(id); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *FileMessageStore) Count(ctx context.Context) (int64, error) {
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// FileTaskStore archives task results as JSON blobs on disk.
type FileTaskStore struct {
	*fileStore
}

// NewFileTaskStore creates a file-backed task store under
// cfg.BaseDir/tasks.
func NewFileTaskStore(cfg StoreConfig) (*FileTaskStore, error) {
	fs, err := newFileStore(filepath.Join(cfg.BaseDir, "tasks"))
	if err != nil {
		return nil, err
	}
	return &FileTaskStore{fileStore: fs}, nil
}

func (s *FileTaskStore) SaveResult(ctx context.Context, rec *TaskRecord) error {
	if rec == nil || rec.TaskID == "" {
		return ErrInvalidInput
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	return s.write(rec.TaskID, rec)
}

func (s *FileTaskStore) GetResult(ctx context.Context, taskID string) (*TaskRecord, error) {
	var rec TaskRecord
	if err := s.read(taskID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *FileTaskStore) ListResults(ctx context.Context, limit int) ([]*TaskRecord, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	recs := make([]*TaskRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetResult(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CompletedAt.Before(recs[j].CompletedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

func (s *FileTaskStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, id := range ids {
		rec, err := s.GetResult(ctx, id)
		if err != nil {
			continue
		}
		if rec.CompletedAt.Before(cutoff) {
			if err := s.remove(id); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
