// Package quota enforces per-bucket limits before a write enters the
// shard pipeline.
//
// Quota is logical: it sums the sizes and count of latest versions, so a
// deduplicated write still consumes quota even though it stores no new
// bytes. Buckets without a configured quota get the gateway defaults.
package quota

import (
	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
)

// Default limits applied to buckets without a quota row.
const (
	DefaultMaxSizeBytes = int64(10) << 30 // 10 GiB
	DefaultMaxObjects   = int64(10000)
)

// Gate answers "may this write proceed" for a bucket. The pipeline calls
// it while holding the bucket's write lock, which is what makes
// check-then-commit safe against concurrent writers.
type Gate struct {
	store      *meta.Store
	maxSize    int64
	maxObjects int64
}

// NewGate builds a gate with the given defaults; non-positive values fall
// back to the package defaults.
func NewGate(store *meta.Store, defaultMaxSize, defaultMaxObjects int64) *Gate {
	if defaultMaxSize <= 0 {
		defaultMaxSize = DefaultMaxSizeBytes
	}
	if defaultMaxObjects <= 0 {
		defaultMaxObjects = DefaultMaxObjects
	}
	return &Gate{store: store, maxSize: defaultMaxSize, maxObjects: defaultMaxObjects}
}

// Limits returns the effective quota for a bucket.
func (g *Gate) Limits(bucket string) (meta.Quota, error) {
	q, err := g.store.GetQuota(bucket)
	if errs.IsNotFound(err) {
		return meta.Quota{MaxSizeBytes: g.maxSize, MaxObjects: g.maxObjects}, nil
	}
	if err != nil {
		return meta.Quota{}, err
	}
	return *q, nil
}

// Usage reports the bucket's current logical usage.
func (g *Gate) Usage(bucket string) (objects, bytes int64, err error) {
	return g.store.BucketUsage(bucket)
}

// Check projects a write of addSize bytes onto the bucket and fails with
// a QuotaExceededError naming the violated dimension. Every write counts
// as one new object; size is checked first, matching the original
// behavior relied on by clients that inspect the X-Quota headers.
func (g *Gate) Check(bucket string, addSize int64) error {
	objects, bytes, err := g.store.BucketUsage(bucket)
	if err != nil {
		return err
	}
	limits, err := g.Limits(bucket)
	if err != nil {
		return err
	}

	newSize := bytes + addSize
	newObjects := objects + 1

	if newSize > limits.MaxSizeBytes {
		return &errs.QuotaExceededError{Dimension: "size", Used: newSize, Limit: limits.MaxSizeBytes}
	}
	if newObjects > limits.MaxObjects {
		return &errs.QuotaExceededError{Dimension: "objects", Used: newObjects, Limit: limits.MaxObjects}
	}
	return nil
}
