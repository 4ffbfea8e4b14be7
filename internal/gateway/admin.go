package gateway

import (
	"net/http"

	"github.com/abishekgiri/planetstore/internal/health"
)

// handleAdminMetrics serves GET /admin/metrics: cluster-wide logical
// numbers from the metadata store. The Prometheus scrape endpoint at
// /metrics carries the operational counters; this one answers "how much
// data do I have and how well is dedup doing".
func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	totals, err := s.Meta.Totals()
	if err != nil {
		writeError(w, err)
		return
	}
	buckets, err := s.Meta.BucketStats()
	if err != nil {
		writeError(w, err)
		return
	}
	nodeShards, err := s.Meta.NodeShardCounts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_objects":         totals.TotalObjects,
		"total_size_bytes":      totals.TotalSize,
		"total_versions":        totals.TotalVersions,
		"unique_content":        totals.UniqueContent,
		"total_refcount":        totals.TotalRefcount,
		"dedup_savings_percent": totals.DedupSavingsPercent(),
		"buckets":               buckets,
		"node_shard_counts":     nodeShards,
	})
}

// handleAdminHealth serves GET /admin/health[?node_id=]: the monitor's
// current view. With no monitor wired, every node reports unknown.
func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if nodeID := r.URL.Query().Get("node_id"); nodeID != "" {
		if _, ok := s.Registry.Get(nodeID); !ok {
			http.NotFound(w, r)
			return
		}
		var h *health.NodeHealth
		if s.Monitor != nil {
			h = s.Monitor.Get(nodeID)
		}
		if h == nil {
			h = &health.NodeHealth{NodeID: nodeID, Status: health.StatusUnknown}
		}
		writeJSON(w, http.StatusOK, h)
		return
	}

	var all []health.NodeHealth
	if s.Monitor != nil {
		all = s.Monitor.All()
	} else {
		for _, n := range s.Registry.All() {
			all = append(all, health.NodeHealth{NodeID: n.ID, Status: health.StatusUnknown})
		}
	}
	healthy := 0
	for _, h := range all {
		if h.Status == health.StatusHealthy {
			healthy++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":         all,
		"healthy_count": healthy,
		"total_count":   len(all),
	})
}

// handleGCStatus serves GET /admin/gc/status.
func (s *Server) handleGCStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Sweeper == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"running": false})
		return
	}
	writeJSON(w, http.StatusOK, s.Sweeper.CurrentStatus())
}

// handleGCRun serves POST /admin/gc: a synchronous manual sweep.
func (s *Server) handleGCRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Sweeper == nil {
		http.Error(w, "gc not configured", http.StatusServiceUnavailable)
		return
	}
	stats := s.Sweeper.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, stats)
}

// handleAdminRegions serves GET /admin/regions: the region grouping and,
// when replication is wired, its per-region counters.
func (s *Server) handleAdminRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]interface{}{
		"regions":      s.Registry.Regions(),
		"region_order": s.Registry.RegionOrder(),
	}
	if s.Repl != nil {
		resp["replication"] = s.Repl.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// nodeView is one entry of the /nodes listing.
type nodeView struct {
	NodeID  string  `json:"node_id"`
	BaseURL string  `json:"base_url"`
	Region  string  `json:"region,omitempty"`
	Status  string  `json:"status"`
	Shards  int64   `json:"shard_count"`
	RTTMs   float64 `json:"response_time_ms,omitempty"`
}

// handleNodes serves GET /nodes: the fleet with health and live shard
// counts.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	shardCounts, err := s.Meta.NodeShardCounts()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]nodeView, 0, s.Registry.Len())
	for _, n := range s.Registry.All() {
		v := nodeView{
			NodeID:  n.ID,
			BaseURL: n.BaseURL,
			Region:  n.Region,
			Status:  health.StatusUnknown,
			Shards:  shardCounts[n.ID],
		}
		if s.Monitor != nil {
			if h := s.Monitor.Get(n.ID); h != nil {
				v.Status = h.Status
				v.RTTMs = h.RTTMillis
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": views})
}
