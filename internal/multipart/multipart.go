// Package multipart stages large uploads part by part on local disk,
// then assembles them into one blob for the regular write pipeline. The
// erasure/dedup/quota machinery only ever sees the assembled object.
package multipart

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
)

// Manager owns multipart sessions. Session metadata lives in the meta
// store; part bytes are staged under scratchDir/{uploadID}/.
type Manager struct {
	Meta       *meta.Store
	scratchDir string
}

// NewManager returns a manager staging parts under scratchDir, creating
// it if needed.
func NewManager(store *meta.Store, scratchDir string) (*Manager, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "multipart: create scratch dir")
	}
	return &Manager{Meta: store, scratchDir: scratchDir}, nil
}

// Initiate opens a new session for (bucket, key).
func (m *Manager) Initiate(bucket, key string) (*meta.MultipartSession, error) {
	if bucket == "" || key == "" {
		return nil, errs.ErrBadRequest
	}
	return m.Meta.CreateUpload(bucket, key)
}

// UploadPart stages one part's bytes and records it on the session.
// Re-uploading a part number replaces the earlier bytes.
func (m *Manager) UploadPart(uploadID string, partNumber int, data []byte) (*meta.MultipartSession, error) {
	if partNumber < 1 {
		return nil, errs.ErrBadRequest
	}
	if _, err := m.Meta.GetUpload(uploadID); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.scratchDir, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "multipart: create upload dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("part-%06d", partNumber))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "multipart: write part")
	}

	return m.Meta.AddUploadPart(uploadID, meta.PartInfo{
		PartNumber: partNumber,
		Size:       int64(len(data)),
		Path:       path,
	})
}

// Complete concatenates the staged parts in part-number order and
// returns the assembled blob with its session. The caller feeds the blob
// to the write pipeline; the session and staged files are removed here
// regardless, so a failed downstream write requires a fresh upload.
func (m *Manager) Complete(uploadID string) ([]byte, *meta.MultipartSession, error) {
	sess, err := m.Meta.GetUpload(uploadID)
	if err != nil {
		return nil, nil, err
	}
	if len(sess.Parts) == 0 {
		return nil, nil, errs.ErrBadRequest
	}

	parts := append([]meta.PartInfo(nil), sess.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	var total int64
	for _, p := range parts {
		total += p.Size
	}
	blob := make([]byte, 0, total)
	for _, p := range parts {
		data, err := os.ReadFile(p.Path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "multipart: read part %d", p.PartNumber)
		}
		blob = append(blob, data...)
	}

	m.cleanup(uploadID)
	return blob, sess, nil
}

// Abort discards a session and its staged parts. Aborting an unknown
// session is not an error.
func (m *Manager) Abort(uploadID string) error {
	m.cleanup(uploadID)
	return nil
}

func (m *Manager) cleanup(uploadID string) {
	os.RemoveAll(filepath.Join(m.scratchDir, uploadID))
	m.Meta.DeleteUpload(uploadID)
}
