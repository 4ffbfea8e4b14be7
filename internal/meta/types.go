package meta

import (
	"time"
)

// Bucket is a namespace for object keys. Buckets are created once and
// never renamed.
type Bucket struct {
	Name       string    `json:"name"`
	Versioning bool      `json:"versioning_enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// ShardLocation locates one erasure shard of a content. Index is the
// shard's position in the codec's 0..M-1 ordering; ShardKey is the node's
// per-bucket object key and is unique across the cluster (the write
// pipeline embeds an upload nonce). Checksum is the hex xxhash64 of the
// shard bytes, verified on read.
type ShardLocation struct {
	Index    int    `json:"index"`
	NodeID   string `json:"node_id"`
	ShardKey string `json:"shard_key"`
	Checksum string `json:"checksum,omitempty"`
}

// ObjectVersion is one writable snapshot of (bucket, key). For any
// (bucket, key) at most one row has IsLatest set; the metadata store
// maintains that invariant transactionally.
type ObjectVersion struct {
	Bucket      string          `json:"bucket_name"`
	Key         string          `json:"object_key"`
	VersionID   string          `json:"version_id"`
	SizeBytes   int64           `json:"size_bytes"`
	ContentHash string          `json:"content_hash"`
	Shards      []ShardLocation `json:"shards"`
	IsLatest    bool            `json:"is_latest"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ContentRow binds a content hash to its shard layout and counts the
// object versions referencing it. Shards are deleted from nodes only when
// Refcount reaches zero and the row is removed.
type ContentRow struct {
	Hash      string          `json:"content_hash"`
	SizeBytes int64           `json:"size_bytes"`
	Shards    []ShardLocation `json:"shards"`
	Refcount  int64           `json:"refcount"`
}

// Quota holds a bucket's limits. A missing row means defaults apply.
type Quota struct {
	MaxSizeBytes int64 `json:"max_size_bytes"`
	MaxObjects   int64 `json:"max_objects"`
}

// PartInfo describes one staged part of a multipart upload. Path points
// into the gateway's scratch directory.
type PartInfo struct {
	PartNumber int    `json:"part_number"`
	Size       int64  `json:"size"`
	Path       string `json:"path"`
}

// MultipartSession tracks an in-flight multipart upload. The row and the
// staged parts are removed together on complete or abort.
type MultipartSession struct {
	UploadID  string     `json:"upload_id"`
	Bucket    string     `json:"bucket_name"`
	Key       string     `json:"object_key"`
	Parts     []PartInfo `json:"parts"`
	CreatedAt time.Time  `json:"created_at"`
}
