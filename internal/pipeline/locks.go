package pipeline

import "sync"

// bucketLocks hands out one mutex per bucket name. The write pipeline
// holds the bucket's lock from the quota check through the metadata
// commit, so a bucket can never overshoot its quota under concurrent
// writers. Locks are created on first use and never dropped; the set of
// buckets is small and long-lived.
type bucketLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBucketLocks() *bucketLocks {
	return &bucketLocks{locks: make(map[string]*sync.Mutex)}
}

func (b *bucketLocks) lock(bucket string) *sync.Mutex {
	b.mu.Lock()
	m, ok := b.locks[bucket]
	if !ok {
		m = &sync.Mutex{}
		b.locks[bucket] = m
	}
	b.mu.Unlock()
	m.Lock()
	return m
}
