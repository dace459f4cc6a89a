// Package quota provides QuotaManager implementations backed by a
// JSON snapshot file, Redis, or PostgreSQL.
package quota

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chainmux/rpcrouter"
)

// DefaultSnapshotPath is where usage counters persist when no path is
// configured.
const DefaultSnapshotPath = "data/usage_counters.json"

// FileStore is an in-memory usage map persisted to a JSON file after
// every mutation. One mutex serializes the map and the file write;
// snapshot failures are logged and never fail a reservation.
type FileStore struct {
	mu     sync.Mutex
	path   string
	used   map[string]int64
	logger zerolog.Logger
}

var _ rpcrouter.QuotaManager = (*FileStore)(nil)

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithLogger sets the logger used for snapshot warnings.
func WithLogger(logger zerolog.Logger) FileOption {
	return func(s *FileStore) { s.logger = logger }
}

// NewFileStore creates a FileStore persisting to path, loading any
// existing snapshot. A missing or unreadable snapshot starts empty.
func NewFileStore(path string, opts ...FileOption) *FileStore {
	if path == "" {
		path = DefaultSnapshotPath
	}
	s := &FileStore{
		path:   path,
		used:   make(map[string]int64),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("usage snapshot unreadable, starting empty")
		return
	}
	for provider, used := range m {
		if used > 0 {
			s.used[provider] = used
		}
	}
}

// persistLocked writes the snapshot with a rename so readers never see
// a partial file. Must be called with the lock held.
func (s *FileStore) persistLocked() {
	data, err := json.MarshalIndent(s.used, "", "  ")
	if err != nil {
		s.logger.Warn().Err(err).Msg("usage snapshot encode failed")
		return
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("usage snapshot dir failed")
			return
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn().Err(err).Str("path", tmp).Msg("usage snapshot write failed")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("usage snapshot rename failed")
	}
}

// Check reports whether provider could absorb cost more units within
// limit. A limit of zero or less is unlimited.
func (s *FileStore) Check(_ context.Context, provider string, limit, cost int64) bool {
	if limit <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[provider]+cost <= limit
}

// TryReserve atomically adds cost to the provider's usage if the
// result stays within limit.
func (s *FileStore) TryReserve(_ context.Context, provider string, cost, limit int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > 0 && s.used[provider]+cost > limit {
		return false
	}
	s.used[provider] += cost
	s.persistLocked()
	return true
}

// Rollback subtracts cost from the provider's usage, clamped at zero.
func (s *FileStore) Rollback(_ context.Context, provider string, cost int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used[provider] - cost
	if used < 0 {
		used = 0
	}
	s.used[provider] = used
	s.persistLocked()
}

// Usage returns the provider's current usage counter.
func (s *FileStore) Usage(_ context.Context, provider string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[provider]
}

// Reset clears the provider's usage counter.
func (s *FileStore) Reset(_ context.Context, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.used, provider)
	s.persistLocked()
}

// All returns a copy of every usage counter.
func (s *FileStore) All() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.used))
	for provider, used := range s.used {
		out[provider] = used
	}
	return out
}
