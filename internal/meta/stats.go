package meta

import (
	"sort"

	"github.com/tidwall/buntdb"
)

// ClusterTotals aggregates store-wide numbers for /admin/metrics.
type ClusterTotals struct {
	TotalObjects  int64 // latest versions
	TotalSize     int64 // bytes across latest versions
	TotalVersions int64 // every version row
	UniqueContent int64 // content rows
	TotalRefcount int64 // sum of content refcounts
}

// DedupSavingsPercent derives the share of logical references served
// without storing new content.
func (t ClusterTotals) DedupSavingsPercent() float64 {
	if t.TotalRefcount == 0 {
		return 0
	}
	return float64(t.TotalRefcount-t.UniqueContent) / float64(t.TotalRefcount) * 100
}

// BucketStat is per-bucket logical usage (latest versions only).
type BucketStat struct {
	Name    string `json:"name"`
	Objects int64  `json:"objects"`
	Size    int64  `json:"size_bytes"`
}

// Totals computes cluster-wide aggregates in one read transaction.
func (s *Store) Totals() (ClusterTotals, error) {
	var t ClusterTotals
	err := s.db.View(func(tx *buntdb.Tx) error {
		if err := tx.AscendKeys("object:*", func(_, value string) bool {
			var ver ObjectVersion
			if json.Unmarshal([]byte(value), &ver) != nil {
				return true
			}
			t.TotalVersions++
			if ver.IsLatest {
				t.TotalObjects++
				t.TotalSize += ver.SizeBytes
			}
			return true
		}); err != nil {
			return err
		}
		return tx.AscendKeys("content:*", func(_, value string) bool {
			var row ContentRow
			if json.Unmarshal([]byte(value), &row) != nil {
				return true
			}
			t.UniqueContent++
			t.TotalRefcount += row.Refcount
			return true
		})
	})
	return t, err
}

// BucketStats returns logical usage per bucket, sorted by name.
func (s *Store) BucketStats() ([]BucketStat, error) {
	byName := make(map[string]*BucketStat)
	buckets, err := s.ListBuckets()
	if err != nil {
		return nil, err
	}
	for _, b := range buckets {
		byName[b.Name] = &BucketStat{Name: b.Name}
	}
	all, err := s.AllVersions()
	if err != nil {
		return nil, err
	}
	for _, v := range all {
		if !v.IsLatest {
			continue
		}
		st, ok := byName[v.Bucket]
		if !ok {
			st = &BucketStat{Name: v.Bucket}
			byName[v.Bucket] = st
		}
		st.Objects++
		st.Size += v.SizeBytes
	}
	out := make([]BucketStat, 0, len(byName))
	for _, st := range byName {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// NodeShardCounts counts how many live shards each node holds, derived
// from the content rows' layouts.
func (s *Store) NodeShardCounts() (map[string]int64, error) {
	counts := make(map[string]int64)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("content:*", func(_, value string) bool {
			var row ContentRow
			if json.Unmarshal([]byte(value), &row) != nil {
				return true
			}
			for _, loc := range row.Shards {
				counts[loc.NodeID]++
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
