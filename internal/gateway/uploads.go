package gateway

import (
	"net/http"
	"strconv"

	"github.com/abishekgiri/planetstore/internal/errs"
)

// maxPartSize caps one staged multipart part.
const maxPartSize = 64 << 20 // 64 MiB

// handleUploadInitiate serves POST /buckets/{b}/objects/{key}/uploads.
func (s *Server) handleUploadInitiate(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if _, err := s.Meta.EnsureBucket(bucket); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.Multipart.Initiate(bucket, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleUpload routes /buckets/{b}/uploads/{id}[...]:
//
//	PUT    .../{id}/parts/{n}  stage a part
//	POST   .../{id}/complete   assemble and write through the pipeline
//	DELETE .../{id}            abort
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, bucket string, parts []string) {
	uploadID := parts[0]
	rest := parts[1:]

	switch {
	case len(rest) == 0 && r.Method == http.MethodDelete:
		if err := s.Multipart.Abort(uploadID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"aborted": true, "upload_id": uploadID})

	case len(rest) == 2 && rest[0] == "parts" && r.Method == http.MethodPut:
		partNumber, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, errs.ErrBadRequest)
			return
		}
		s.handleUploadPart(w, r, uploadID, partNumber)

	case len(rest) == 1 && rest[0] == "complete" && r.Method == http.MethodPost:
		s.handleUploadComplete(w, r, bucket, uploadID)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request, uploadID string, partNumber int) {
	data, err := readFileField(r, maxPartSize)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(data) > maxPartSize {
		http.Error(w, "part too large", http.StatusRequestEntityTooLarge)
		return
	}
	sess, err := s.Multipart.UploadPart(uploadID, partNumber, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"upload_id":   sess.UploadID,
		"part_number": partNumber,
		"size":        len(data),
		"parts":       len(sess.Parts),
	})
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request, bucket, uploadID string) {
	blob, sess, err := s.Multipart.Complete(uploadID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess.Bucket != bucket {
		writeError(w, errs.ErrNotFound)
		return
	}

	opts := writeOptionsFromQuery(r)
	res, err := s.Pipeline.Write(r.Context(), sess.Bucket, sess.Key, blob, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	bytesWritten.Add(float64(len(blob)))
	if res.Deduplicated {
		dedupHits.Inc()
	}
	writeJSON(w, http.StatusCreated, putResponse{
		Bucket:       sess.Bucket,
		Key:          sess.Key,
		VersionID:    res.Version.VersionID,
		SizeBytes:    res.Version.SizeBytes,
		ContentHash:  res.ContentHash,
		Deduplicated: res.Deduplicated,
		ShardsStored: res.ShardsStored,
	})
}
