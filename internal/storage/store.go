// Package storage holds the shard stores used by the storage-node
// binary. Shards are opaque byte blobs addressed by (bucket, shard key);
// the node never looks inside them.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/abishekgiri/planetstore/internal/errs"
)

// Store is the shard store a node serves from.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Get retrieves a shard's bytes.
	// Returns errs.ErrNotFound if the shard doesn't exist.
	Get(bucket, shardKey string) ([]byte, error)

	// Put stores a shard, overwriting any existing bytes.
	Put(bucket, shardKey string, data []byte) error

	// Delete removes a shard. Returns errs.ErrNotFound if it was not
	// there; callers treat that as success.
	Delete(bucket, shardKey string) error

	// Stats returns storage statistics.
	Stats() StoreStats
}

// StoreStats is the payload of a node's /internal/stats endpoint.
type StoreStats struct {
	Shards      int64 `json:"object_count"`
	Bytes       int64 `json:"total_size_bytes"`
	GetCount    int64 `json:"get_count"`
	PutCount    int64 `json:"put_count"`
	DeleteCount int64 `json:"delete_count"`
}

// opCounters tracks request counts across store implementations.
type opCounters struct {
	gets    atomic.Int64
	puts    atomic.Int64
	deletes atomic.Int64
}

// MemoryStore implements Store with an in-memory map. Tests and the
// pipeline's fake nodes use it; production nodes use FileStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	ops  opCounters
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func memKey(bucket, shardKey string) string {
	return bucket + "\x00" + shardKey
}

// Get retrieves a shard's bytes.
// Returns a copy to prevent external modification.
func (m *MemoryStore) Get(bucket, shardKey string) ([]byte, error) {
	m.ops.gets.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[memKey(bucket, shardKey)]
	if !exists {
		return nil, errs.ErrNotFound
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a shard.
// Makes a copy of the value to prevent external modification.
func (m *MemoryStore) Put(bucket, shardKey string, data []byte) error {
	m.ops.puts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[memKey(bucket, shardKey)] = stored
	return nil
}

// Delete removes a shard.
func (m *MemoryStore) Delete(bucket, shardKey string) error {
	m.ops.deletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(bucket, shardKey)
	if _, exists := m.data[k]; !exists {
		return errs.ErrNotFound
	}
	delete(m.data, k)
	return nil
}

// Stats returns storage statistics.
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalBytes int64
	for _, value := range m.data {
		totalBytes += int64(len(value))
	}
	return StoreStats{
		Shards:      int64(len(m.data)),
		Bytes:       totalBytes,
		GetCount:    m.ops.gets.Load(),
		PutCount:    m.ops.puts.Load(),
		DeleteCount: m.ops.deletes.Load(),
	}
}
