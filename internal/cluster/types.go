// Package cluster holds the wire types shared by the gateway and the
// storage node binaries.
package cluster

// NodeInfo identifies one storage node in the fleet. The node list is
// static configuration; nodes do not register themselves.
type NodeInfo struct {
	ID      string `json:"node_id"`
	BaseURL string `json:"base_url"`
	Region  string `json:"region,omitempty"`
}

// HealthResponse is the body a storage node returns from /internal/health.
type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}

// StoredResponse is the body a storage node returns after persisting a shard.
type StoredResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// DeletedResponse is the body a storage node returns from a shard DELETE.
// Status is "deleted" or "not_found"; both count as success for callers.
type DeletedResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}
