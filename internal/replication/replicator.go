// Package replication copies committed shard layouts into other regions
// in the background. It is strictly best effort: the write path hands a
// layout over and moves on, and a region that cannot be reached simply
// stays behind until a later write for the same content comes through.
package replication

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/registry"
	"github.com/abishekgiri/planetstore/internal/transport"
)

// task is one layout awaiting replication.
type task struct {
	bucket string
	key    string
	shards []meta.ShardLocation
}

// RegionStatus reports replication activity toward one region.
type RegionStatus struct {
	Region       string     `json:"region"`
	ShardsCopied int64      `json:"shards_copied"`
	ShardsFailed int64      `json:"shards_failed"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Coordinator runs a single background worker over a bounded task
// queue. When the queue is full new layouts are dropped with a log line
// rather than blocking the write path.
type Coordinator struct {
	Registry  *registry.Registry
	Transport *transport.Client

	queue  chan task
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status map[string]*RegionStatus
}

// NewCoordinator builds a coordinator with a queue of the given depth.
func NewCoordinator(reg *registry.Registry, tr *transport.Client, depth int) *Coordinator {
	if depth <= 0 {
		depth = 128
	}
	c := &Coordinator{
		Registry:  reg,
		Transport: tr,
		queue:     make(chan task, depth),
		status:    make(map[string]*RegionStatus),
	}
	for _, region := range reg.RegionOrder() {
		c.status[region] = &RegionStatus{Region: region}
	}
	return c
}

// Start launches the worker.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case t := <-c.queue:
				c.replicate(ctx, t)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the worker and waits for it. Queued tasks are dropped.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Replicate enqueues a committed layout. Never blocks.
func (c *Coordinator) Replicate(bucket, key string, shards []meta.ShardLocation) {
	select {
	case c.queue <- task{bucket: bucket, key: key, shards: append([]meta.ShardLocation(nil), shards...)}:
	default:
		log.Printf("replication: queue full, dropping %s/%s", bucket, key)
	}
}

// replicate copies each shard to one node in every region the layout
// does not already touch. Shard keys are reused verbatim so a replica is
// addressable by the same layout entry with a different node.
func (c *Coordinator) replicate(ctx context.Context, t task) {
	covered := make(map[string]bool)
	for _, loc := range t.shards {
		if node, ok := c.Registry.Get(loc.NodeID); ok {
			covered[c.Registry.RegionOf(node.ID)] = true
		}
	}

	for _, region := range c.Registry.RegionOrder() {
		if covered[region] {
			continue
		}
		targets := c.Registry.Regions()[region]
		if len(targets) == 0 {
			continue
		}
		for i, loc := range t.shards {
			src, ok := c.Registry.Get(loc.NodeID)
			if !ok {
				continue
			}
			data, err := c.Transport.GetShard(ctx, src, t.bucket, loc.ShardKey)
			if err != nil {
				c.record(region, false)
				continue
			}
			dst, ok := c.Registry.Get(targets[i%len(targets)])
			if !ok {
				c.record(region, false)
				continue
			}
			if err := c.Transport.PutShard(ctx, dst, t.bucket, loc.ShardKey, data); err != nil {
				log.Printf("replication: %s/%s shard %d to %s (%s): %v", t.bucket, t.key, loc.Index, dst.ID, region, err)
				c.record(region, false)
				continue
			}
			c.record(region, true)
		}
	}
}

func (c *Coordinator) record(region string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status[region]
	if st == nil {
		st = &RegionStatus{Region: region}
		c.status[region] = st
	}
	now := time.Now().UTC()
	st.LastActivity = &now
	if ok {
		st.ShardsCopied++
	} else {
		st.ShardsFailed++
	}
}

// Status snapshots per-region replication counters in region order.
func (c *Coordinator) Status() []RegionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RegionStatus, 0, len(c.status))
	for _, region := range c.Registry.RegionOrder() {
		if st, ok := c.status[region]; ok {
			out = append(out, *st)
		}
	}
	return out
}
