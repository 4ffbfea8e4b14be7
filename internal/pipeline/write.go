// Package pipeline orchestrates the gateway's write, read, and delete
// paths over the erasure codec, the node registry, the shard transport,
// and the metadata store.
//
// # Write path
//
// dedup check -> encode -> placement -> parallel shard PUTs -> quorum ->
// metadata commit. The commit (content row + version row + latest flip)
// is a single metadata transaction; shard bytes that never reach a
// committed layout are either cleaned up best-effort or left as harmless
// orphans.
//
// # Read path
//
// metadata lookup -> parallel GETs to all M shards -> stop at K distinct
// -> decode. Fanning out to every shard rather than walking them
// sequentially keeps tail latency flat when a node is slow or down.
//
// # Shard keys
//
// Every write generates a fresh upload nonce and keys its shards
// {key}/{nonce}/{index} under the bucket. Concurrent writers to the same
// key therefore never touch each other's bytes on the storage nodes, no
// matter how their metadata commits interleave.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/abishekgiri/planetstore/internal/cluster"
	"github.com/abishekgiri/planetstore/internal/erasure"
	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/quota"
	"github.com/abishekgiri/planetstore/internal/registry"
	"github.com/abishekgiri/planetstore/internal/transport"
)

// Consistency selects the write quorum: Strong commits once K shards are
// stored (survives any two-node loss while still reconstructing);
// Eventual demands all M succeed, an all-or-nothing best effort.
type Consistency string

const (
	Strong   Consistency = "strong"
	Eventual Consistency = "eventual"
)

// WriteOptions carries the per-request knobs of a write.
type WriteOptions struct {
	Consistency Consistency
	Region      string // placement hint; empty means global order
}

// WriteResult is what a successful write reports back to the client.
type WriteResult struct {
	Version      *meta.ObjectVersion
	Deduplicated bool
	ContentHash  string
	ShardsStored int
}

// Replicator receives committed shard layouts for cross-region
// replication when a write carried a region hint. Implementations are
// fire-and-forget; the pipeline never waits on them.
type Replicator interface {
	Replicate(bucket, key string, shards []meta.ShardLocation)
}

// Pipeline owns the write/read/delete orchestration. All collaborators
// are passed in explicitly; there is no global state.
type Pipeline struct {
	Meta      *meta.Store
	Codec     *erasure.Codec
	Registry  *registry.Registry
	Transport *transport.Client
	Quota     *quota.Gate
	Repl      Replicator // optional

	locks *bucketLocks
}

// New wires a pipeline. Repl may be nil.
func New(store *meta.Store, codec *erasure.Codec, reg *registry.Registry, tr *transport.Client, gate *quota.Gate, repl Replicator) *Pipeline {
	return &Pipeline{
		Meta:      store,
		Codec:     codec,
		Registry:  reg,
		Transport: tr,
		Quota:     gate,
		Repl:      repl,
		locks:     newBucketLocks(),
	}
}

// HashBlob returns the hex SHA-256 used as the dedup key.
func HashBlob(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// shardResult is one node's answer to a shard PUT.
type shardResult struct {
	loc meta.ShardLocation
	err error
}

// Write stores blob as a new version of (bucket, key).
//
// The bucket lock is held from the quota check through the metadata
// commit; shard I/O happens inside the critical section, which trades
// some write concurrency within a bucket for a quota that cannot
// overshoot.
func (p *Pipeline) Write(ctx context.Context, bucket, key string, blob []byte, opts WriteOptions) (*WriteResult, error) {
	if bucket == "" || key == "" {
		return nil, errs.ErrBadRequest
	}
	if opts.Consistency == "" {
		opts.Consistency = Eventual
	}

	if _, err := p.Meta.EnsureBucket(bucket); err != nil {
		return nil, err
	}

	hash := HashBlob(blob)
	size := int64(len(blob))

	lock := p.locks.lock(bucket)
	defer lock.Unlock()

	if err := p.Quota.Check(bucket, size); err != nil {
		return nil, err
	}

	// Dedup hit: no shard I/O at all, just a refcount bump and a new
	// version row pointing at the existing layout.
	if ver, err := p.Meta.CommitDedupWrite(bucket, key, size, hash); err == nil {
		return &WriteResult{
			Version:      ver,
			Deduplicated: true,
			ContentHash:  hash,
			ShardsStored: 0,
		}, nil
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	shards, err := p.Codec.Encode(blob)
	if err != nil {
		return nil, err
	}

	nodes, err := p.Registry.SelectNodes(len(shards), opts.Region)
	if err != nil {
		return nil, err
	}

	nonce := newNonce()
	results := p.fanOutPuts(ctx, bucket, key, nonce, nodes, shards)

	var stored []meta.ShardLocation
	for _, r := range results {
		if r.err == nil {
			stored = append(stored, r.loc)
		}
	}

	needed := p.Codec.DataShardCount()
	if opts.Consistency == Eventual {
		needed = len(shards)
	}
	if len(stored) < needed {
		// Orphan cleanup is best effort; anything that survives is
		// invisible to readers and harmless.
		p.deleteShards(ctx, bucket, stored)
		for _, r := range results {
			if r.err != nil {
				log.Printf("write %s/%s: shard %d on %s failed: %v", bucket, key, r.loc.Index, r.loc.NodeID, r.err)
			}
		}
		return nil, &errs.QuorumError{Needed: needed, Got: len(stored), Total: len(shards)}
	}

	ver, raced, err := p.Meta.CommitNewContentWrite(bucket, key, size, hash, stored)
	if err != nil {
		p.deleteShards(ctx, bucket, stored)
		return nil, err
	}
	if raced {
		// A concurrent identical upload committed first; our shards are
		// duplicates of a layout that already exists. Drop them.
		p.deleteShards(ctx, bucket, stored)
	}

	if opts.Region != "" && p.Repl != nil {
		p.Repl.Replicate(bucket, key, ver.Shards)
	}

	return &WriteResult{
		Version:      ver,
		Deduplicated: false,
		ContentHash:  hash,
		ShardsStored: len(ver.Shards),
	}, nil
}

// fanOutPuts uploads all shards in parallel and waits for every call to
// resolve. Individual failures are collected, never raised; the caller
// decides quorum from the aggregate.
func (p *Pipeline) fanOutPuts(ctx context.Context, bucket, key, nonce string, nodes []cluster.NodeInfo, shards [][]byte) []shardResult {
	results := make([]shardResult, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i := range shards {
		i := i
		loc := meta.ShardLocation{
			Index:    i,
			NodeID:   nodes[i].ID,
			ShardKey: fmt.Sprintf("%s/%s/%d", key, nonce, i),
			Checksum: transport.Checksum(shards[i]),
		}
		g.Go(func() error {
			err := p.Transport.PutShard(gctx, nodes[i], bucket, loc.ShardKey, shards[i])
			results[i] = shardResult{loc: loc, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// deleteShards issues best-effort DELETEs for the given locations.
// Errors are logged and otherwise ignored.
func (p *Pipeline) deleteShards(ctx context.Context, bucket string, locs []meta.ShardLocation) {
	if len(locs) == 0 {
		return
	}
	// Detach from the request context so client disconnects do not strand
	// cleanup, but still bound the total effort.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, loc := range locs {
		node, ok := p.Registry.Get(loc.NodeID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(node cluster.NodeInfo, loc meta.ShardLocation) {
			defer wg.Done()
			if err := p.Transport.DeleteShard(ctx, node, bucket, loc.ShardKey); err != nil {
				log.Printf("shard delete %s/%s on %s failed: %v", bucket, loc.ShardKey, node.ID, err)
			}
		}(node, loc)
	}
	wg.Wait()
}

// DeleteContentShards removes every shard of a dead content row. Shared
// by the delete path and GC so both follow the same refcount-guarded
// discipline.
func (p *Pipeline) DeleteContentShards(ctx context.Context, bucket string, row *meta.ContentRow) {
	if row == nil {
		return
	}
	p.deleteShards(ctx, bucket, row.Shards)
}

func newNonce() string {
	id, err := shortid.Generate()
	if err != nil {
		return fmt.Sprintf("n%d", time.Now().UnixNano())
	}
	return id
}
