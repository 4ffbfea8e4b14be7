package meta

import (
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/abishekgiri/planetstore/internal/errs"
)

// Content rows are the deduplication layer: one row per distinct SHA-256,
// refcounted by the object versions pointing at it. Everything here runs
// inside buntdb Update transactions, so two concurrent identical uploads
// serialize on the hash: one creates the row, the other bumps the
// refcount.

// GetContent returns the content row for hash, or errs.ErrNotFound.
func (s *Store) GetContent(hash string) (*ContentRow, error) {
	var row ContentRow
	err := s.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, contentKey(hash), &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetOrCreateContent returns the existing row for hash, or creates one
// with refcount 1 and the supplied layout. created reports which happened.
func (s *Store) GetOrCreateContent(hash string, size int64, shards []ShardLocation) (row *ContentRow, created bool, err error) {
	err = s.db.Update(func(tx *buntdb.Tx) error {
		row, created, err = txGetOrCreateContent(tx, hash, size, shards)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return row, created, nil
}

func txGetOrCreateContent(tx *buntdb.Tx, hash string, size int64, shards []ShardLocation) (*ContentRow, bool, error) {
	var row ContentRow
	err := getJSON(tx, contentKey(hash), &row)
	if err == nil {
		return &row, false, nil
	}
	if !errs.IsNotFound(err) {
		return nil, false, err
	}
	row = ContentRow{
		Hash:      hash,
		SizeBytes: size,
		Shards:    append([]ShardLocation(nil), shards...),
		Refcount:  1,
	}
	if err := setJSON(tx, contentKey(hash), &row); err != nil {
		return nil, false, err
	}
	return &row, true, nil
}

// IncrContentRefcount bumps the refcount for hash and returns the updated
// row; errs.ErrNotFound when no such content exists.
func (s *Store) IncrContentRefcount(hash string) (*ContentRow, error) {
	var row *ContentRow
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var err error
		row, err = txIncrContentRefcount(tx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func txIncrContentRefcount(tx *buntdb.Tx, hash string) (*ContentRow, error) {
	var row ContentRow
	if err := getJSON(tx, contentKey(hash), &row); err != nil {
		return nil, err
	}
	row.Refcount++
	if err := setJSON(tx, contentKey(hash), &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// DecrContentRefcountMaybeDelete decrements the refcount for hash,
// removing the row when it reaches zero. Returns the row as it was before
// removal so callers can delete its shards.
func (s *Store) DecrContentRefcountMaybeDelete(hash string) (deleted bool, row *ContentRow, err error) {
	err = s.db.Update(func(tx *buntdb.Tx) error {
		deleted, row, err = txDecrContentRefcount(tx, hash)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return deleted, row, nil
}

func txDecrContentRefcount(tx *buntdb.Tx, hash string) (bool, *ContentRow, error) {
	var row ContentRow
	if err := getJSON(tx, contentKey(hash), &row); err != nil {
		return false, nil, err
	}
	row.Refcount--
	if row.Refcount > 0 {
		if err := setJSON(tx, contentKey(hash), &row); err != nil {
			return false, nil, err
		}
		return false, &row, nil
	}
	if _, err := tx.Delete(contentKey(hash)); err != nil && err != buntdb.ErrNotFound {
		return false, nil, errors.Wrap(err, "meta: delete content")
	}
	return true, &row, nil
}

// CommitDedupWrite performs the dedup-hit commit in one transaction:
// bump the content refcount and insert a new latest object version
// pointing at the existing layout. errs.ErrNotFound when the hash is
// unknown, in which case the caller falls through to a full write.
func (s *Store) CommitDedupWrite(bucket, key string, size int64, hash string) (*ObjectVersion, error) {
	var ver *ObjectVersion
	err := s.db.Update(func(tx *buntdb.Tx) error {
		row, err := txIncrContentRefcount(tx, hash)
		if err != nil {
			return err
		}
		ver, err = txPutObjectVersion(tx, bucket, key, size, hash, row.Shards)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ver, nil
}

// CommitNewContentWrite performs the dedup-miss commit in one
// transaction: create the content row with refcount 1 and insert the new
// latest version. If a concurrent identical upload created the row after
// our dedup check, we lose the race gracefully: the refcount is bumped,
// the version points at the winner's layout, and raced reports true so
// the caller can discard its own freshly written shards.
func (s *Store) CommitNewContentWrite(bucket, key string, size int64, hash string, shards []ShardLocation) (ver *ObjectVersion, raced bool, err error) {
	err = s.db.Update(func(tx *buntdb.Tx) error {
		row, created, err := txGetOrCreateContent(tx, hash, size, shards)
		if err != nil {
			return err
		}
		if !created {
			raced = true
			if row, err = txIncrContentRefcount(tx, hash); err != nil {
				return err
			}
		}
		ver, err = txPutObjectVersion(tx, bucket, key, size, hash, row.Shards)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return ver, raced, nil
}
