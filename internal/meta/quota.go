package meta

import (
	"github.com/tidwall/buntdb"
)

// GetQuota returns the bucket's configured quota, or errs.ErrNotFound
// when none is set (the quota gate then applies defaults).
func (s *Store) GetQuota(bucket string) (*Quota, error) {
	var q Quota
	err := s.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, quotaKey(bucket), &q)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// SetQuota upserts the bucket's quota.
func (s *Store) SetQuota(bucket string, q Quota) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, quotaKey(bucket), &q)
	})
}

// BucketUsage sums the bucket's logical usage: the count and total size
// of latest versions only. Deduplicated writes count at full size: quota
// tracks what clients stored, not what the cluster physically holds.
func (s *Store) BucketUsage(bucket string) (objects int64, bytes int64, err error) {
	latest, err := s.ListObjects(bucket)
	if err != nil {
		return 0, 0, err
	}
	for _, v := range latest {
		objects++
		bytes += v.SizeBytes
	}
	return objects, bytes, nil
}
