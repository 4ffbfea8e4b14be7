package storage

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/abishekgiri/planetstore/internal/errs"
)

// FileStore implements Store on the local filesystem. Each shard lives
// at {root}/{bucket}/{escaped shard key}; bucket and key segments are
// URL-escaped so client-supplied names can never walk out of the root.
type FileStore struct {
	root string
	mu   sync.RWMutex
	ops  opCounters
}

// NewFileStore creates the root directory if needed and returns a store
// over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: create root")
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's base directory.
func (f *FileStore) Root() string { return f.root }

// path maps (bucket, shardKey) to a file path. Every path segment is
// escaped, so "../" in a key becomes a literal file name rather than a
// traversal.
func (f *FileStore) path(bucket, shardKey string) string {
	parts := []string{f.root, escapeSegment(bucket)}
	for _, seg := range strings.Split(shardKey, "/") {
		parts = append(parts, escapeSegment(seg))
	}
	return filepath.Join(parts...)
}

// escapeSegment escapes one path segment for use as a file name. Dots are
// unreserved, so "." and ".." pass through url.PathEscape unchanged and
// would still act as directory references; force them into percent form.
func escapeSegment(seg string) string {
	switch seg {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(seg)
}

// Get reads a shard from disk.
func (f *FileStore) Get(bucket, shardKey string) ([]byte, error) {
	f.ops.gets.Add(1)
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(bucket, shardKey))
	if os.IsNotExist(err) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: read shard")
	}
	return data, nil
}

// Put writes a shard to a temp file in the same directory and renames it
// into place, so readers never observe a half-written shard.
func (f *FileStore) Put(bucket, shardKey string, data []byte) error {
	f.ops.puts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	dest := f.path(bucket, shardKey)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "storage: create shard dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".put-*")
	if err != nil {
		return errors.Wrap(err, "storage: create temp")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "storage: write shard")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "storage: close temp")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "storage: rename shard")
	}
	return nil
}

// Delete removes a shard file and prunes directories it leaves empty.
func (f *FileStore) Delete(bucket, shardKey string) error {
	f.ops.deletes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	dest := f.path(bucket, shardKey)
	err := os.Remove(dest)
	if os.IsNotExist(err) {
		return errs.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "storage: delete shard")
	}

	// Prune empty parents up to (not including) the root. os.Remove
	// fails on non-empty directories, which is the stop condition.
	dir := filepath.Dir(dest)
	for dir != f.root && strings.HasPrefix(dir, f.root) {
		if os.Remove(dir) != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Stats walks the tree and counts shard files and bytes. Temp files from
// in-flight puts are skipped.
func (f *FileStore) Stats() StoreStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stats := StoreStats{
		GetCount:    f.ops.gets.Load(),
		PutCount:    f.ops.puts.Load(),
		DeleteCount: f.ops.deletes.Load(),
	}
	filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".put-") {
			return nil
		}
		stats.Shards++
		stats.Bytes += info.Size()
		return nil
	})
	return stats
}
