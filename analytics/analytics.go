// Package analytics keeps the aggregate counters shown on the admin endpoints.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type Snapshot struct {
	TotalChats    int64     `json:"total_chats"`
	DemoRequests  int64     `json:"demo_requests"`
	LeadsCaptured int64     `json:"leads_captured"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Event is one interaction. Every event counts as a chat; lead form submissions are
// logged as events too.
type Event struct {
	DemoRequested bool
	LeadCaptured  bool
}

type Store interface {
	Log(ctx context.Context, ev Event) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

// FileStore keeps the counters in a small JSON document, rewritten on every event.
type FileStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(Snapshot{LastUpdated: s.now()}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Log(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.read()
	snap.apply(ev)
	snap.LastUpdated = s.now()
	return s.write(snap)
}

func (s *FileStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(), nil
}

// read treats a missing or corrupt file as all-zero counters.
func (s *FileStore) read() Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{LastUpdated: s.now()}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{LastUpdated: s.now()}
	}
	return snap
}

func (s *FileStore) write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analytics: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create analytics directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".analytics-*.json")
	if err != nil {
		return fmt.Errorf("create analytics temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write analytics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close analytics temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace analytics file: %w", err)
	}
	return nil
}

func (s *Snapshot) apply(ev Event) {
	s.TotalChats++
	if ev.DemoRequested {
		s.DemoRequests++
	}
	if ev.LeadCaptured {
		s.LeadsCaptured++
	}
}

const (
	fieldTotalChats    = "total_chats"
	fieldDemoRequests  = "demo_requests"
	fieldLeadsCaptured = "leads_captured"
	fieldLastUpdated   = "last_updated"
)

// RedisStore keeps the counters in one hash so several replicas can share them.
type RedisStore struct {
	rdb goredis.Cmdable
	key string
	now func() time.Time
}

func NewRedisStore(rdb goredis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = "palms:analytics"
	}
	return &RedisStore{rdb: rdb, key: key, now: time.Now}
}

func (s *RedisStore) Log(ctx context.Context, ev Event) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.key, fieldTotalChats, 1)
		if ev.DemoRequested {
			pipe.HIncrBy(ctx, s.key, fieldDemoRequests, 1)
		}
		if ev.LeadCaptured {
			pipe.HIncrBy(ctx, s.key, fieldLeadsCaptured, 1)
		}
		pipe.HSet(ctx, s.key, fieldLastUpdated, s.now().UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("log analytics event: %w", err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read analytics: %w", err)
	}

	snap := Snapshot{
		TotalChats:    parseCount(vals[fieldTotalChats]),
		DemoRequests:  parseCount(vals[fieldDemoRequests]),
		LeadsCaptured: parseCount(vals[fieldLeadsCaptured]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals[fieldLastUpdated]); err == nil {
		snap.LastUpdated = ts
	}
	return snap, nil
}

func parseCount(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)
