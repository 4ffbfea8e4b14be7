// Package gc implements the background sweep that reclaims old object
// versions and the shard bytes they held the last reference to.
package gc

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/abishekgiri/planetstore/internal/errs"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/pipeline"
)

// Sweeper deletes expired non-latest versions on a timer. Two policies
// run back to back each sweep:
//
//   - retention: non-latest versions older than the retention window go
//   - version count: each key keeps at most maxVersions versions; the
//     oldest non-latest versions beyond that go, regardless of age
//
// The latest version of a key is never collected by either policy.
// Shard bytes are removed only when the version held the content's last
// reference; deduplicated content survives until every referencing
// version is gone.
type Sweeper struct {
	Meta     *meta.Store
	Pipeline *pipeline.Pipeline

	interval    time.Duration
	retention   time.Duration
	maxVersions int

	mu       sync.Mutex
	running  bool
	sweeping bool
	lastRun  time.Time
	nextRun  time.Time
	lastStat SweepStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweepStats summarizes one completed sweep.
type SweepStats struct {
	Examined        int `json:"versions_examined"`
	Deleted         int `json:"versions_deleted"`
	ContentReleased int `json:"content_rows_released"`
	Errors          int `json:"errors"`
}

// Status is the /admin/gc/status payload.
type Status struct {
	Running         bool       `json:"running"`
	Sweeping        bool       `json:"sweep_in_progress"`
	IntervalSeconds float64    `json:"interval_seconds"`
	RetentionDays   float64    `json:"retention_days"`
	MaxVersions     int        `json:"max_versions"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	NextRun         *time.Time `json:"next_run,omitempty"`
	LastSweep       SweepStats `json:"last_sweep"`
}

// NewSweeper builds a sweeper. maxVersions <= 0 disables the
// version-count policy; retention <= 0 disables the retention policy.
func NewSweeper(store *meta.Store, pl *pipeline.Pipeline, interval, retention time.Duration, maxVersions int) *Sweeper {
	return &Sweeper{
		Meta:        store,
		Pipeline:    pl,
		interval:    interval,
		retention:   retention,
		maxVersions: maxVersions,
	}
}

// Start launches the periodic sweep loop. The first sweep waits one full
// interval; use RunOnce for an immediate pass.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.mu.Lock()
	s.running = true
	s.nextRun = time.Now().UTC().Add(s.interval)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("gc started (interval %v, retention %v, max versions %d)", s.interval, s.retention, s.maxVersions)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
				s.mu.Lock()
				s.nextRun = time.Now().UTC().Add(s.interval)
				s.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Println("gc stopped")
}

// RunOnce performs a single sweep. Safe to call while the loop is
// running; concurrent calls are serialized by a flag so two sweeps never
// race over the same candidates.
func (s *Sweeper) RunOnce(ctx context.Context) SweepStats {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return SweepStats{}
	}
	s.sweeping = true
	s.mu.Unlock()

	start := time.Now()
	var stats SweepStats
	s.sweepRetention(ctx, &stats)
	s.sweepVersionCount(ctx, &stats)

	s.mu.Lock()
	s.sweeping = false
	s.lastRun = time.Now().UTC()
	s.lastStat = stats
	s.mu.Unlock()

	log.Printf("gc sweep done in %v: examined=%d deleted=%d released=%d errors=%d",
		time.Since(start).Round(time.Millisecond), stats.Examined, stats.Deleted, stats.ContentReleased, stats.Errors)
	return stats
}

// sweepRetention removes non-latest versions older than the retention
// window.
func (s *Sweeper) sweepRetention(ctx context.Context, stats *SweepStats) {
	if s.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	candidates, err := s.Meta.NonLatestOlderThan(cutoff)
	if err != nil {
		log.Printf("gc: listing retention candidates: %v", err)
		stats.Errors++
		return
	}
	for _, v := range candidates {
		if ctx.Err() != nil {
			return
		}
		stats.Examined++
		s.collect(ctx, v, stats)
	}
}

// sweepVersionCount trims each key to at most maxVersions versions,
// dropping the oldest non-latest versions first.
func (s *Sweeper) sweepVersionCount(ctx context.Context, stats *SweepStats) {
	if s.maxVersions <= 0 {
		return
	}
	all, err := s.Meta.AllVersions()
	if err != nil {
		log.Printf("gc: listing versions: %v", err)
		stats.Errors++
		return
	}

	byKey := make(map[[2]string][]meta.ObjectVersion)
	for _, v := range all {
		k := [2]string{v.Bucket, v.Key}
		byKey[k] = append(byKey[k], v)
	}

	for _, versions := range byKey {
		if len(versions) <= s.maxVersions {
			continue
		}
		// Oldest first; the latest version sorts wherever it falls but is
		// skipped below.
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].CreatedAt.Before(versions[j].CreatedAt)
		})
		excess := len(versions) - s.maxVersions
		for _, v := range versions {
			if excess == 0 {
				break
			}
			if v.IsLatest {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			stats.Examined++
			s.collect(ctx, v, stats)
			excess--
		}
	}
}

// collect deletes one version row and, when it held the last reference,
// the content's shards. Per-version errors are logged and the sweep
// moves on.
func (s *Sweeper) collect(ctx context.Context, v meta.ObjectVersion, stats *SweepStats) {
	res, err := s.Meta.DeleteVersion(v.Bucket, v.Key, v.VersionID)
	if err != nil {
		// Already gone (raced with a user delete) is not an error worth
		// counting.
		if errs.IsNotFound(err) {
			return
		}
		log.Printf("gc: deleting %s/%s@%s: %v", v.Bucket, v.Key, v.VersionID, err)
		stats.Errors++
		return
	}
	stats.Deleted++
	if res.ContentDeleted {
		stats.ContentReleased++
		s.Pipeline.DeleteContentShards(ctx, v.Bucket, res.Content)
	}
}

// CurrentStatus snapshots the sweeper state for the admin API.
func (s *Sweeper) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Running:         s.running,
		Sweeping:        s.sweeping,
		IntervalSeconds: s.interval.Seconds(),
		RetentionDays:   s.retention.Hours() / 24,
		MaxVersions:     s.maxVersions,
		LastSweep:       s.lastStat,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		st.LastRun = &t
	}
	if s.running && !s.nextRun.IsZero() {
		t := s.nextRun
		st.NextRun = &t
	}
	return st
}
