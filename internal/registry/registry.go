// Package registry holds the static storage-node fleet and implements
// shard placement for the write pipeline.
//
// The registry is built once at startup from configuration and is
// read-only afterwards, so every method is safe for concurrent use
// without locking. Placement is deterministic: a given (count, region)
// input always yields the same node sequence until the configuration
// changes, which keeps failures reproducible and tests simple.
package registry

import (
	"github.com/abishekgiri/planetstore/internal/cluster"
	"github.com/abishekgiri/planetstore/internal/errs"
)

// Registry is the authoritative node list plus the region grouping used
// as a placement hint.
type Registry struct {
	nodes   []cluster.NodeInfo
	byID    map[string]cluster.NodeInfo
	regions map[string][]string
	order   []string // declared region order
}

// New builds a registry from an ordered node list and a region grouping.
// regionOrder fixes iteration order for reporting; regions not listed are
// appended in map order and should not be relied upon.
func New(nodes []cluster.NodeInfo, regions map[string][]string, regionOrder []string) *Registry {
	r := &Registry{
		nodes:   append([]cluster.NodeInfo(nil), nodes...),
		byID:    make(map[string]cluster.NodeInfo, len(nodes)),
		regions: make(map[string][]string, len(regions)),
		order:   append([]string(nil), regionOrder...),
	}
	for _, n := range nodes {
		r.byID[n.ID] = n
	}
	for name, ids := range regions {
		r.regions[name] = append([]string(nil), ids...)
	}
	return r
}

// Get returns the node with the given ID.
func (r *Registry) Get(id string) (cluster.NodeInfo, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// All returns the fleet in declared order.
func (r *Registry) All() []cluster.NodeInfo {
	return append([]cluster.NodeInfo(nil), r.nodes...)
}

// Len returns the fleet size.
func (r *Registry) Len() int { return len(r.nodes) }

// Regions returns the region grouping (region name -> node IDs).
func (r *Registry) Regions() map[string][]string {
	out := make(map[string][]string, len(r.regions))
	for name, ids := range r.regions {
		out[name] = append([]string(nil), ids...)
	}
	return out
}

// RegionOrder returns region names in declared order.
func (r *Registry) RegionOrder() []string {
	return append([]string(nil), r.order...)
}

// RegionOf returns the region a node belongs to, or "" if ungrouped.
func (r *Registry) RegionOf(nodeID string) string {
	n, ok := r.byID[nodeID]
	if !ok {
		return ""
	}
	return n.Region
}

// SelectNodes picks count nodes for shard placement.
//
// When preferredRegion names a known region, that region's nodes come
// first in declared order, then nodes from other regions in global order
// until count is filled. With no (or an unknown) region hint, the first
// count nodes in global order are returned.
func (r *Registry) SelectNodes(count int, preferredRegion string) ([]cluster.NodeInfo, error) {
	if count > len(r.nodes) {
		return nil, &errs.CapacityError{Needed: count, Have: len(r.nodes)}
	}

	regionIDs, known := r.regions[preferredRegion]
	if preferredRegion == "" || !known {
		return append([]cluster.NodeInfo(nil), r.nodes[:count]...), nil
	}

	selected := make([]cluster.NodeInfo, 0, count)
	taken := make(map[string]bool, count)
	for _, id := range regionIDs {
		if len(selected) == count {
			break
		}
		if n, ok := r.byID[id]; ok && !taken[id] {
			selected = append(selected, n)
			taken[id] = true
		}
	}
	for _, n := range r.nodes {
		if len(selected) == count {
			break
		}
		if !taken[n.ID] {
			selected = append(selected, n)
			taken[n.ID] = true
		}
	}
	return selected, nil
}
