// The storagenode binary serves the internal shard API one node of the
// fleet exposes to the gateway. It never interprets shard bytes and
// keeps no metadata beyond the files on its disk.
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/abishekgiri/planetstore/internal/cluster"
	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// logFatal is swapped out in tests.
var logFatal = log.Fatalf

// maxShardSize bounds one uploaded shard. The gateway splits objects
// into K data shards, so this comfortably covers the object size cap.
const maxShardSize = 256 << 20

type nodeServer struct {
	id    string
	store storage.Store
}

func main() {
	id := getenv("NODE_ID", "node1")
	addr := getenv("NODE_LISTEN", ":9001")
	dataDir := getenv("DATA_DIR", filepath.Join(os.TempDir(), "planetstore-"+id))

	store, err := storage.NewFileStore(dataDir)
	if err != nil {
		logFatal("storage: %v", err)
	}
	srv := &nodeServer{id: id, store: store}

	mux := http.NewServeMux()
	mux.HandleFunc("/internal/health", srv.handleHealth)
	mux.HandleFunc("/internal/stats", srv.handleStats)
	mux.HandleFunc("/internal/objects/", srv.handleObject)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("storage node %s listening on %s (data: %s)", id, addr, dataDir)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Printf("storage node %s stopped", id)
}

func (s *nodeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cluster.HealthResponse{Status: "healthy", NodeID: s.id})
}

func (s *nodeServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleObject serves /internal/objects/{bucket}/{shard_key...}. Shard
// keys contain slashes (the gateway embeds an upload nonce), so
// everything after the bucket segment is the key. The gateway escapes
// each segment, so work from the escaped path and unescape here; going
// through the pre-decoded r.URL.Path would conflate a literal "%2F" in a
// key with a separator.
func (s *nodeServer) handleObject(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/internal/objects/")
	bucketEsc, keyEsc, ok := strings.Cut(rest, "/")
	if !ok || bucketEsc == "" || keyEsc == "" {
		http.Error(w, "want /internal/objects/{bucket}/{key}", http.StatusBadRequest)
		return
	}
	bucket, bErr := url.PathUnescape(bucketEsc)
	shardKey, kErr := url.PathUnescape(keyEsc)
	if bErr != nil || kErr != nil || bucket == "" || shardKey == "" {
		http.Error(w, "want /internal/objects/{bucket}/{key}", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		s.handlePut(w, r, bucket, shardKey)
	case http.MethodGet:
		s.handleGet(w, r, bucket, shardKey)
	case http.MethodDelete:
		s.handleDelete(w, r, bucket, shardKey)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePut accepts the shard as a multipart form with a "file" field.
func (s *nodeServer) handlePut(w http.ResponseWriter, r *http.Request, bucket, shardKey string) {
	if err := r.ParseMultipartForm(maxShardSize); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxShardSize+1))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if len(data) > maxShardSize {
		http.Error(w, "shard too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.store.Put(bucket, shardKey, data); err != nil {
		log.Printf("put %s/%s: %v", bucket, shardKey, err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cluster.StoredResponse{
		Status: "stored",
		NodeID: s.id,
		Bucket: bucket,
		Key:    shardKey,
	})
}

func (s *nodeServer) handleGet(w http.ResponseWriter, r *http.Request, bucket, shardKey string) {
	data, err := s.store.Get(bucket, shardKey)
	if errs.IsNotFound(err) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("get %s/%s: %v", bucket, shardKey, err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *nodeServer) handleDelete(w http.ResponseWriter, r *http.Request, bucket, shardKey string) {
	err := s.store.Delete(bucket, shardKey)
	if errs.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, cluster.DeletedResponse{Status: "not_found", NodeID: s.id})
		return
	}
	if err != nil {
		log.Printf("delete %s/%s: %v", bucket, shardKey, err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cluster.DeletedResponse{Status: "deleted", NodeID: s.id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
