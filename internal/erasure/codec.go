// Package erasure implements the fixed-geometry Reed-Solomon codec used
// by the write and read pipelines.
//
// The cluster runs K=4 data shards and M=6 total shards: any 4 of the 6
// reconstruct the original blob, so the fleet tolerates the loss of any
// two nodes holding shards of a given object.
//
// Padding is explicit and silent: Encode zero-pads the blob to K*ceil(n/K)
// bytes before splitting, so Decode needs the original size to truncate
// the reconstruction. The shards alone cannot recover the length.
package erasure

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Cluster-wide codec geometry. Changing these invalidates every shard
// layout already persisted in the metadata store.
const (
	DataShards  = 4 // K: minimum shards required to reconstruct
	TotalShards = 6 // M: shards produced per blob
)

// Codec encodes blobs into M shards and reconstructs blobs from any K of
// them. Safe for concurrent use; the underlying encoder is stateless
// between calls.
type Codec struct {
	k   int
	m   int
	enc reedsolomon.Encoder
}

// NewCodec builds a codec with dataShards data shards and
// totalShards-dataShards parity shards.
func NewCodec(dataShards, totalShards int) (*Codec, error) {
	if dataShards <= 0 || totalShards <= dataShards {
		return nil, fmt.Errorf("erasure: invalid geometry %d/%d", dataShards, totalShards)
	}
	enc, err := reedsolomon.New(dataShards, totalShards-dataShards)
	if err != nil {
		return nil, fmt.Errorf("erasure: %v", err)
	}
	return &Codec{k: dataShards, m: totalShards, enc: enc}, nil
}

// MustCodec returns the cluster's default K=4/M=6 codec.
func MustCodec() *Codec {
	c, err := NewCodec(DataShards, TotalShards)
	if err != nil {
		panic(err)
	}
	return c
}

// DataShardCount returns K.
func (c *Codec) DataShardCount() int { return c.k }

// ShardCount returns M.
func (c *Codec) ShardCount() int { return c.m }

// Encode splits blob into M shards of ceil(len(blob)/K) bytes each. The
// blob is zero-padded to K equal blocks; the remaining M-K shards are
// parity. An empty blob produces M empty shards.
func (c *Codec) Encode(blob []byte) ([][]byte, error) {
	shards := make([][]byte, c.m)
	if len(blob) == 0 {
		for i := range shards {
			shards[i] = []byte{}
		}
		return shards, nil
	}

	shardSize := (len(blob) + c.k - 1) / c.k
	for i := 0; i < c.k; i++ {
		shards[i] = make([]byte, shardSize)
		start := i * shardSize
		if start < len(blob) {
			copy(shards[i], blob[start:])
		}
	}
	for i := c.k; i < c.m; i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure encode: %v", err)
	}
	return shards, nil
}

// Decode reconstructs the original blob from at least K shards. indices
// gives each shard's original position in [0, M). originalSize truncates
// the zero padding added by Encode.
//
// Decode fails when fewer than K shards are supplied, when an index is out
// of range or duplicated, or when the shards cannot be reconciled.
func (c *Codec) Decode(shards [][]byte, indices []int, originalSize int64) ([]byte, error) {
	if len(shards) != len(indices) {
		return nil, fmt.Errorf("erasure decode: %d shards but %d indices", len(shards), len(indices))
	}
	if len(shards) < c.k {
		return nil, fmt.Errorf("erasure decode: need at least %d shards, got %d", c.k, len(shards))
	}
	if originalSize < 0 {
		return nil, fmt.Errorf("erasure decode: negative original size %d", originalSize)
	}
	if originalSize == 0 {
		return []byte{}, nil
	}

	full := make([][]byte, c.m)
	for i, idx := range indices {
		if idx < 0 || idx >= c.m {
			return nil, fmt.Errorf("erasure decode: shard index %d out of range [0, %d)", idx, c.m)
		}
		if full[idx] != nil {
			return nil, fmt.Errorf("erasure decode: duplicate shard index %d", idx)
		}
		full[idx] = shards[i]
	}

	if err := c.enc.ReconstructData(full); err != nil {
		return nil, fmt.Errorf("erasure decode: %v", err)
	}

	out := make([]byte, 0, originalSize)
	for i := 0; i < c.k && int64(len(out)) < originalSize; i++ {
		out = append(out, full[i]...)
	}
	if int64(len(out)) < originalSize {
		return nil, fmt.Errorf("erasure decode: reconstructed %d bytes, want %d", len(out), originalSize)
	}
	return out[:originalSize], nil
}
