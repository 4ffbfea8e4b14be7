package pipeline

import (
	"context"

	"github.com/abishekgiri/planetstore/internal/meta"
)

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	Version        *meta.ObjectVersion
	ContentDeleted bool
}

// Delete removes the latest version of (bucket, key). No prior version is
// promoted: a later GET without a version id returns NotFound.
//
// Shard bytes are removed only when this version was the content's last
// reference; while other versions still point at the content (dedup), the
// shards stay. Shard deletes are attempted but never fail the operation:
// failures are logged, and metadata is already consistent.
func (p *Pipeline) Delete(ctx context.Context, bucket, key string) (*DeleteResult, error) {
	res, err := p.Meta.DeleteLatest(bucket, key)
	if err != nil {
		return nil, err
	}
	if res.ContentDeleted {
		p.DeleteContentShards(ctx, bucket, res.Content)
	}
	return &DeleteResult{Version: res.Version, ContentDeleted: res.ContentDeleted}, nil
}
