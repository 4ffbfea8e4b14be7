package gateway

import (
	"io"
	"net/http"

	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/pipeline"
)

// maxObjectSize caps a single PUT body. Larger objects go through the
// multipart flow.
const maxObjectSize = 512 << 20 // 512 MiB

type createBucketRequest struct {
	Name       string `json:"name"`
	Versioning bool   `json:"versioning_enabled"`
}

// handleBucketCollection serves POST /buckets and GET /buckets.
func (s *Server) handleBucketCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createBucketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeError(w, errs.ErrBadRequest)
			return
		}
		b, err := s.Meta.CreateBucket(req.Name, req.Versioning)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)

	case http.MethodGet:
		buckets, err := s.Meta.ListBuckets()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"buckets": buckets})

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBucketInfo serves GET /buckets/{b}: the bucket row plus its
// logical usage and effective quota.
func (s *Server) handleBucketInfo(w http.ResponseWriter, r *http.Request, bucket string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b, err := s.Meta.GetBucket(bucket)
	if err != nil {
		writeError(w, err)
		return
	}
	objects, bytes, err := s.Quota.Usage(bucket)
	if err != nil {
		writeError(w, err)
		return
	}
	limits, err := s.Quota.Limits(bucket)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bucket":     b,
		"objects":    objects,
		"size_bytes": bytes,
		"quota":      limits,
	})
}

// handleObjectList serves GET /buckets/{b}/objects: latest versions only,
// sorted by key.
func (s *Server) handleObjectList(w http.ResponseWriter, r *http.Request, bucket string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.Meta.GetBucket(bucket); err != nil {
		writeError(w, err)
		return
	}
	objects, err := s.Meta.ListObjects(bucket)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"objects": objects})
}

// handleObject serves GET/PUT/DELETE on one object key.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Has("versions") {
			s.handleVersionList(w, r, bucket, key)
			return
		}
		s.handleObjectGet(w, r, bucket, key)
	case http.MethodPut:
		s.handleObjectPut(w, r, bucket, key)
	case http.MethodDelete:
		s.handleObjectDelete(w, r, bucket, key)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// putResponse is the body of a successful object PUT.
type putResponse struct {
	Bucket       string `json:"bucket_name"`
	Key          string `json:"object_key"`
	VersionID    string `json:"version_id"`
	SizeBytes    int64  `json:"size_bytes"`
	ContentHash  string `json:"content_hash"`
	Deduplicated bool   `json:"deduplicated"`
	ShardsStored int    `json:"shards_stored"`
}

// readFileField extracts the uploaded bytes from the multipart "file"
// field of a PUT, the same envelope the storage nodes accept for shards.
// Reads at most max+1 bytes so callers can detect oversize uploads.
func readFileField(r *http.Request, limit int64) ([]byte, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, errs.ErrBadRequest
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errs.ErrBadRequest
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, errs.ErrBadRequest
	}
	return data, nil
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request, bucket, key string) {
	blob, err := readFileField(r, maxObjectSize)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(blob) > maxObjectSize {
		http.Error(w, "object too large, use multipart upload", http.StatusRequestEntityTooLarge)
		return
	}

	opts := writeOptionsFromQuery(r)
	res, err := s.Pipeline.Write(r.Context(), bucket, key, blob, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	bytesWritten.Add(float64(len(blob)))
	if res.Deduplicated {
		dedupHits.Inc()
	}
	writeJSON(w, http.StatusCreated, putResponse{
		Bucket:       bucket,
		Key:          key,
		VersionID:    res.Version.VersionID,
		SizeBytes:    res.Version.SizeBytes,
		ContentHash:  res.ContentHash,
		Deduplicated: res.Deduplicated,
		ShardsStored: res.ShardsStored,
	})
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request, bucket, key string) {
	versionID := r.URL.Query().Get("version_id")
	blob, ver, err := s.Pipeline.Read(r.Context(), bucket, key, versionID)
	if err != nil {
		writeError(w, err)
		return
	}
	bytesRead.Add(float64(len(blob)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Version-Id", ver.VersionID)
	w.Header().Set("X-Content-Hash", ver.ContentHash)
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request, bucket, key string) {
	res, err := s.Pipeline.Delete(r.Context(), bucket, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":         true,
		"version_id":      res.Version.VersionID,
		"content_deleted": res.ContentDeleted,
	})
}

// handleVersionList serves GET /buckets/{b}/objects/{key}?versions,
// newest first.
func (s *Server) handleVersionList(w http.ResponseWriter, _ *http.Request, bucket, key string) {
	versions, err := s.Meta.ListVersions(bucket, key)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, errs.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// handleQuota serves GET and PUT /buckets/{b}/quota.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request, bucket string) {
	switch r.Method {
	case http.MethodGet:
		if _, err := s.Meta.GetBucket(bucket); err != nil {
			writeError(w, err)
			return
		}
		limits, err := s.Quota.Limits(bucket)
		if err != nil {
			writeError(w, err)
			return
		}
		objects, bytes, err := s.Quota.Usage(bucket)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"quota":      limits,
			"objects":    objects,
			"size_bytes": bytes,
		})

	case http.MethodPut:
		if _, err := s.Meta.GetBucket(bucket); err != nil {
			writeError(w, err)
			return
		}
		var q meta.Quota
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.MaxSizeBytes <= 0 || q.MaxObjects <= 0 {
			writeError(w, errs.ErrBadRequest)
			return
		}
		if err := s.Meta.SetQuota(bucket, q); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"quota": q})

	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeOptionsFromQuery parses the consistency and region knobs shared by
// object PUT and multipart complete.
func writeOptionsFromQuery(r *http.Request) pipeline.WriteOptions {
	opts := pipeline.WriteOptions{Region: r.URL.Query().Get("region")}
	switch r.URL.Query().Get("consistency") {
	case "strong":
		opts.Consistency = pipeline.Strong
	default:
		opts.Consistency = pipeline.Eventual
	}
	return opts
}
