package meta

import (
	"sort"
	"time"

	"github.com/tidwall/buntdb"
)

// CreateUpload opens a multipart session row for (bucket, key) and
// returns it with a fresh upload ID.
func (s *Store) CreateUpload(bucket, key string) (*MultipartSession, error) {
	sess := &MultipartSession{
		UploadID:  newID(),
		Bucket:    bucket,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, uploadKey(sess.UploadID), sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetUpload returns the session for uploadID, or errs.ErrNotFound.
func (s *Store) GetUpload(uploadID string) (*MultipartSession, error) {
	var sess MultipartSession
	err := s.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, uploadKey(uploadID), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// AddUploadPart records one staged part. Re-uploading a part number
// replaces the previous descriptor; parts are kept sorted by number.
func (s *Store) AddUploadPart(uploadID string, part PartInfo) (*MultipartSession, error) {
	var sess MultipartSession
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if err := getJSON(tx, uploadKey(uploadID), &sess); err != nil {
			return err
		}
		replaced := false
		for i := range sess.Parts {
			if sess.Parts[i].PartNumber == part.PartNumber {
				sess.Parts[i] = part
				replaced = true
				break
			}
		}
		if !replaced {
			sess.Parts = append(sess.Parts, part)
		}
		sort.Slice(sess.Parts, func(i, j int) bool {
			return sess.Parts[i].PartNumber < sess.Parts[j].PartNumber
		})
		return setJSON(tx, uploadKey(uploadID), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteUpload removes the session row (complete or abort). Deleting an
// unknown session is not an error.
func (s *Store) DeleteUpload(uploadID string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(uploadKey(uploadID))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}
