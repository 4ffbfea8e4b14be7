package meta

import (
	"net/url"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/abishekgiri/planetstore/internal/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBucketExists is returned by CreateBucket when the name is taken.
var ErrBucketExists = errors.New("bucket already exists")

// Store is the durable metadata layer: buckets, object versions, content
// rows, quotas, and multipart sessions, all inside one buntdb database.
//
// buntdb serializes read-write transactions, which is exactly the
// concurrency contract the pipelines rely on: the latest-flag flip, the
// refcount discipline, and get-or-create on a content hash all happen
// inside single Update transactions and therefore cannot interleave.
type Store struct {
	db *buntdb.DB
}

// Open opens (or creates) the metadata database at path. ":memory:" gives
// an ephemeral store for tests. Schema setup is idempotent: buntdb is
// schemaless, so opening is all there is.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "meta: open %s", path)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key layout. Bucket and object-key segments are query-escaped so user
// input cannot collide with the ':' separators or pattern metacharacters.
//
//	bucket:{b}          -> Bucket
//	object:{b}:{k}:{v}  -> ObjectVersion
//	latest:{b}:{k}      -> version id of the latest row
//	content:{hash}      -> ContentRow
//	quota:{b}           -> Quota
//	upload:{id}         -> MultipartSession
func seg(v string) string { return url.QueryEscape(v) }

func bucketKey(b string) string           { return "bucket:" + seg(b) }
func objectKey(b, k, v string) string     { return "object:" + seg(b) + ":" + seg(k) + ":" + v }
func latestKey(b, k string) string        { return "latest:" + seg(b) + ":" + seg(k) }
func contentKey(hash string) string       { return "content:" + hash }
func quotaKey(b string) string            { return "quota:" + seg(b) }
func uploadKey(id string) string          { return "upload:" + id }
func objectPrefix(b string) string       { return "object:" + seg(b) + ":" }
func objectKeyPrefix(b, k string) string { return "object:" + seg(b) + ":" + seg(k) + ":" }

// newID generates an opaque unique identifier (version IDs, upload IDs).
func newID() string {
	id, err := shortid.Generate()
	if err != nil {
		// shortid only fails on clock skew beyond its epoch; fall back to
		// a nanosecond stamp rather than failing a write.
		return "id-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return id
}

func getJSON(tx *buntdb.Tx, key string, out any) error {
	raw, err := tx.Get(key)
	if err == buntdb.ErrNotFound {
		return errs.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "meta: get")
	}
	return errors.Wrap(json.Unmarshal([]byte(raw), out), "meta: decode")
}

func setJSON(tx *buntdb.Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "meta: encode")
	}
	_, _, err = tx.Set(key, string(raw), nil)
	return errors.Wrap(err, "meta: set")
}

// --- Buckets ---

// CreateBucket creates a bucket; ErrBucketExists if the name is taken.
func (s *Store) CreateBucket(name string, versioning bool) (*Bucket, error) {
	b := &Bucket{Name: name, Versioning: versioning, CreatedAt: time.Now().UTC()}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(bucketKey(name)); err == nil {
			return ErrBucketExists
		}
		return setJSON(tx, bucketKey(name), b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// EnsureBucket returns the bucket, creating it with versioning disabled
// when absent. The write pipeline auto-creates buckets this way.
func (s *Store) EnsureBucket(name string) (*Bucket, error) {
	var b Bucket
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if err := getJSON(tx, bucketKey(name), &b); err == nil {
			return nil
		} else if !errs.IsNotFound(err) {
			return err
		}
		b = Bucket{Name: name, CreatedAt: time.Now().UTC()}
		return setJSON(tx, bucketKey(name), &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBucket returns a bucket or errs.ErrNotFound.
func (s *Store) GetBucket(name string) (*Bucket, error) {
	var b Bucket
	err := s.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, bucketKey(name), &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBuckets returns all buckets sorted by name.
func (s *Store) ListBuckets() ([]Bucket, error) {
	var out []Bucket
	err := s.db.View(func(tx *buntdb.Tx) error {
		var inner error
		iterErr := tx.AscendKeys("bucket:*", func(_, value string) bool {
			var b Bucket
			if inner = json.Unmarshal([]byte(value), &b); inner != nil {
				return false
			}
			out = append(out, b)
			return true
		})
		if inner != nil {
			return errors.Wrap(inner, "meta: decode bucket")
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Object versions ---

// txPutObjectVersion inserts a new version as latest and flips the prior
// latest (if any) in the same transaction. This is the only code path
// that touches the latest pointer on writes, which is what keeps the
// "at most one latest" invariant true under concurrency.
func txPutObjectVersion(tx *buntdb.Tx, bucket, key string, size int64, contentHash string, shards []ShardLocation) (*ObjectVersion, error) {
	var prevID string
	if raw, err := tx.Get(latestKey(bucket, key)); err == nil {
		prevID = raw
	} else if err != buntdb.ErrNotFound {
		return nil, errors.Wrap(err, "meta: latest lookup")
	}

	if prevID != "" {
		var prev ObjectVersion
		if err := getJSON(tx, objectKey(bucket, key, prevID), &prev); err == nil {
			prev.IsLatest = false
			if err := setJSON(tx, objectKey(bucket, key, prevID), &prev); err != nil {
				return nil, err
			}
		} else if !errs.IsNotFound(err) {
			return nil, err
		}
	}

	ver := &ObjectVersion{
		Bucket:      bucket,
		Key:         key,
		VersionID:   newID(),
		SizeBytes:   size,
		ContentHash: contentHash,
		Shards:      append([]ShardLocation(nil), shards...),
		IsLatest:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := setJSON(tx, objectKey(bucket, key, ver.VersionID), ver); err != nil {
		return nil, err
	}
	if _, _, err := tx.Set(latestKey(bucket, key), ver.VersionID, nil); err != nil {
		return nil, errors.Wrap(err, "meta: latest pointer")
	}
	return ver, nil
}

// PutObjectVersion inserts a new latest version for (bucket, key),
// atomically demoting the previous latest.
func (s *Store) PutObjectVersion(bucket, key string, size int64, contentHash string, shards []ShardLocation) (*ObjectVersion, error) {
	var ver *ObjectVersion
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var err error
		ver, err = txPutObjectVersion(tx, bucket, key, size, contentHash, shards)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ver, nil
}

// GetObjectVersion resolves (bucket, key, versionID). An empty versionID
// resolves the latest row; errs.ErrNotFound when the key has no latest
// (for example after a delete).
func (s *Store) GetObjectVersion(bucket, key, versionID string) (*ObjectVersion, error) {
	var ver ObjectVersion
	err := s.db.View(func(tx *buntdb.Tx) error {
		vid := versionID
		if vid == "" {
			raw, err := tx.Get(latestKey(bucket, key))
			if err == buntdb.ErrNotFound {
				return errs.ErrNotFound
			}
			if err != nil {
				return errors.Wrap(err, "meta: latest lookup")
			}
			vid = raw
		}
		return getJSON(tx, objectKey(bucket, key, vid), &ver)
	})
	if err != nil {
		return nil, err
	}
	return &ver, nil
}

// ListObjects returns the latest version of every key in the bucket,
// sorted by key.
func (s *Store) ListObjects(bucket string) ([]ObjectVersion, error) {
	var out []ObjectVersion
	err := s.db.View(func(tx *buntdb.Tx) error {
		var inner error
		iterErr := tx.AscendKeys(objectPrefix(bucket)+"*", func(_, value string) bool {
			var ver ObjectVersion
			if inner = json.Unmarshal([]byte(value), &ver); inner != nil {
				return false
			}
			if ver.IsLatest {
				out = append(out, ver)
			}
			return true
		})
		if inner != nil {
			return errors.Wrap(inner, "meta: decode object")
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListVersions returns every version of (bucket, key), newest first.
func (s *Store) ListVersions(bucket, key string) ([]ObjectVersion, error) {
	var out []ObjectVersion
	err := s.db.View(func(tx *buntdb.Tx) error {
		var inner error
		iterErr := tx.AscendKeys(objectKeyPrefix(bucket, key)+"*", func(_, value string) bool {
			var ver ObjectVersion
			if inner = json.Unmarshal([]byte(value), &ver); inner != nil {
				return false
			}
			out = append(out, ver)
			return true
		})
		if inner != nil {
			return errors.Wrap(inner, "meta: decode object")
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AllVersions returns every object version in the store. GC uses this to
// apply the per-key version-count policy.
func (s *Store) AllVersions() ([]ObjectVersion, error) {
	var out []ObjectVersion
	err := s.db.View(func(tx *buntdb.Tx) error {
		var inner error
		iterErr := tx.AscendKeys("object:*", func(_, value string) bool {
			var ver ObjectVersion
			if inner = json.Unmarshal([]byte(value), &ver); inner != nil {
				return false
			}
			out = append(out, ver)
			return true
		})
		if inner != nil {
			return errors.Wrap(inner, "meta: decode object")
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NonLatestOlderThan returns non-latest versions created before cutoff,
// the retention-based GC candidates.
func (s *Store) NonLatestOlderThan(cutoff time.Time) ([]ObjectVersion, error) {
	all, err := s.AllVersions()
	if err != nil {
		return nil, err
	}
	var out []ObjectVersion
	for _, v := range all {
		if !v.IsLatest && v.CreatedAt.Before(cutoff) {
			out = append(out, v)
		}
	}
	return out, nil
}

// DeleteResult reports what a metadata delete removed, so callers can
// clean up shards only when the content row actually went away.
type DeleteResult struct {
	Version        *ObjectVersion
	ContentDeleted bool
	Content        *ContentRow
}

// DeleteLatest removes the current latest version of (bucket, key) and
// decrements its content refcount, deleting the content row at zero. The
// key is left with no latest: no prior version is promoted.
func (s *Store) DeleteLatest(bucket, key string) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(latestKey(bucket, key))
		if err == buntdb.ErrNotFound {
			return errs.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "meta: latest lookup")
		}
		var ver ObjectVersion
		if err := getJSON(tx, objectKey(bucket, key, raw), &ver); err != nil {
			return err
		}
		res.Version = &ver

		deleted, row, err := txDecrContentRefcount(tx, ver.ContentHash)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}
		res.ContentDeleted = deleted
		res.Content = row

		if _, err := tx.Delete(objectKey(bucket, key, raw)); err != nil && err != buntdb.ErrNotFound {
			return errors.Wrap(err, "meta: delete object")
		}
		if _, err := tx.Delete(latestKey(bucket, key)); err != nil && err != buntdb.ErrNotFound {
			return errors.Wrap(err, "meta: delete latest pointer")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteVersion removes one specific (non-latest) version with the same
// refcount discipline as DeleteLatest. GC's workhorse. Deleting the
// latest version through this path is refused; use DeleteLatest.
func (s *Store) DeleteVersion(bucket, key, versionID string) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var ver ObjectVersion
		if err := getJSON(tx, objectKey(bucket, key, versionID), &ver); err != nil {
			return err
		}
		if ver.IsLatest {
			return errors.New("meta: refusing to delete latest version by id")
		}
		res.Version = &ver

		deleted, row, err := txDecrContentRefcount(tx, ver.ContentHash)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}
		res.ContentDeleted = deleted
		res.Content = row

		if _, err := tx.Delete(objectKey(bucket, key, versionID)); err != nil && err != buntdb.ErrNotFound {
			return errors.Wrap(err, "meta: delete object")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
