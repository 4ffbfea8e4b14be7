// Package gateway is the HTTP surface of the object store. It parses
// requests, delegates to the pipeline and the metadata store, and maps
// the error taxonomy onto status codes. No storage logic lives here.
package gateway

import (
	"net/http"
	"strings"

	"github.com/abishekgiri/planetstore/internal/config"
	"github.com/abishekgiri/planetstore/internal/gc"
	"github.com/abishekgiri/planetstore/internal/health"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/multipart"
	"github.com/abishekgiri/planetstore/internal/pipeline"
	"github.com/abishekgiri/planetstore/internal/quota"
	"github.com/abishekgiri/planetstore/internal/registry"
	"github.com/abishekgiri/planetstore/internal/replication"
)

// Server wires every gateway collaborator behind one http.Handler.
// Collaborators are exported so tests can assemble a server piecemeal;
// Monitor, Sweeper, and Repl may be nil (the admin endpoints degrade).
type Server struct {
	Cfg       *config.Config
	Meta      *meta.Store
	Pipeline  *pipeline.Pipeline
	Quota     *quota.Gate
	Registry  *registry.Registry
	Monitor   *health.Monitor
	Sweeper   *gc.Sweeper
	Multipart *multipart.Manager
	Repl      *replication.Coordinator

	limiter *rateLimiter
	mux     *http.ServeMux
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, store *meta.Store, pl *pipeline.Pipeline, gate *quota.Gate,
	reg *registry.Registry, mon *health.Monitor, sweeper *gc.Sweeper,
	mp *multipart.Manager, repl *replication.Coordinator) *Server {
	s := &Server{
		Cfg:       cfg,
		Meta:      store,
		Pipeline:  pl,
		Quota:     gate,
		Registry:  reg,
		Monitor:   mon,
		Sweeper:   sweeper,
		Multipart: mp,
		Repl:      repl,
		limiter:   newRateLimiter(cfg.RateLimitRPM),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/buckets", instrument("buckets", s.handleBucketCollection))
	s.mux.HandleFunc("/buckets/", instrument("bucket", s.handleBucketRequest))

	s.mux.HandleFunc("/admin/metrics", instrument("admin_metrics", s.handleAdminMetrics))
	s.mux.HandleFunc("/admin/health", instrument("admin_health", s.handleAdminHealth))
	s.mux.HandleFunc("/admin/gc/status", instrument("admin_gc_status", s.handleGCStatus))
	s.mux.HandleFunc("/admin/gc", instrument("admin_gc", s.handleGCRun))
	s.mux.HandleFunc("/admin/regions", instrument("admin_regions", s.handleAdminRegions))
	s.mux.HandleFunc("/nodes", instrument("nodes", s.handleNodes))

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metricsHandler())
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.limiter.middleware(s.mux)
}

// handleHealth is the gateway's own liveness endpoint, distinct from the
// per-node health the monitor tracks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gateway"})
}

// handleBucketRequest routes everything under /buckets/{bucket}/...
// by hand. Object keys may contain slashes, so the tail after "objects/"
// is the key; the reserved segment "uploads" carries multipart traffic.
//
//	GET/PUT/DELETE /buckets/{b}/objects/{key...}
//	GET            /buckets/{b}/objects                (list)
//	POST           /buckets/{b}/objects/{key...}/uploads
//	PUT            /buckets/{b}/uploads/{id}/parts/{n}
//	POST           /buckets/{b}/uploads/{id}/complete
//	DELETE         /buckets/{b}/uploads/{id}
//	GET/PUT        /buckets/{b}/quota
func (s *Server) handleBucketRequest(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/buckets/")
	parts := strings.Split(rest, "/")
	bucket := parts[0]
	if bucket == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		s.handleBucketInfo(w, r, bucket)

	case parts[1] == "objects":
		if len(parts) == 2 || (len(parts) == 3 && parts[2] == "") {
			s.handleObjectList(w, r, bucket)
			return
		}
		segs := parts[2:]
		if r.Method == http.MethodPost && segs[len(segs)-1] == "uploads" && len(segs) > 1 {
			s.handleUploadInitiate(w, r, bucket, strings.Join(segs[:len(segs)-1], "/"))
			return
		}
		s.handleObject(w, r, bucket, strings.Join(segs, "/"))

	case parts[1] == "uploads" && len(parts) >= 3:
		s.handleUpload(w, r, bucket, parts[2:])

	case parts[1] == "quota" && len(parts) == 2:
		s.handleQuota(w, r, bucket)

	default:
		http.NotFound(w, r)
	}
}
