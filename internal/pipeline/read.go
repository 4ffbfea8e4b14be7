package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/transport"
)

// Read resolves (bucket, key, versionID) and reconstructs the blob.
// An empty versionID reads the latest version. Fewer than K retrievable
// shards fails with DegradedError.
func (p *Pipeline) Read(ctx context.Context, bucket, key, versionID string) ([]byte, *meta.ObjectVersion, error) {
	ver, err := p.Meta.GetObjectVersion(bucket, key, versionID)
	if err != nil {
		return nil, nil, err
	}

	need := p.Codec.DataShardCount()
	got, err := p.fetchShards(ctx, bucket, ver.Shards, need)
	if err != nil {
		return nil, nil, err
	}

	shards := make([][]byte, 0, len(got))
	indices := make([]int, 0, len(got))
	for idx, data := range got {
		shards = append(shards, data)
		indices = append(indices, idx)
	}
	blob, err := p.Codec.Decode(shards, indices, ver.SizeBytes)
	if err != nil {
		return nil, nil, err
	}
	return blob, ver, nil
}

// fetchShards GETs every shard in the layout concurrently and returns as
// soon as `need` distinct indices have arrived, cancelling the rest.
// Shards whose bytes fail the layout checksum are discarded as if the
// call had failed.
func (p *Pipeline) fetchShards(ctx context.Context, bucket string, layout []meta.ShardLocation, need int) (map[int][]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		got  = make(map[int][]byte, need)
		wg   sync.WaitGroup
		done = make(chan struct{})
	)

	for _, loc := range layout {
		node, ok := p.Registry.Get(loc.NodeID)
		if !ok {
			log.Printf("read %s: layout names unknown node %s", bucket, loc.NodeID)
			continue
		}
		wg.Add(1)
		go func(loc meta.ShardLocation) {
			defer wg.Done()
			data, err := p.Transport.GetShard(ctx, node, bucket, loc.ShardKey)
			if err != nil {
				return
			}
			if loc.Checksum != "" && transport.Checksum(data) != loc.Checksum {
				log.Printf("read %s/%s: shard %d checksum mismatch, discarding", bucket, loc.ShardKey, loc.Index)
				return
			}
			mu.Lock()
			if _, dup := got[loc.Index]; !dup {
				got[loc.Index] = data
				if len(got) >= need {
					cancel()
				}
			}
			mu.Unlock()
		}(loc)
	}

	go func() {
		wg.Wait()
		close(done)
	}()
	<-done

	if len(got) < need {
		return nil, &errs.DegradedError{Needed: need, Got: len(got)}
	}
	return got, nil
}
