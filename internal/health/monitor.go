// Package health implements the periodic storage-node prober.
//
// The monitor is advisory: admin endpoints read it, but the write
// pipeline never consults it. Quorum is the real safety net, so a probe
// failure never aborts a user request.
package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/abishekgiri/planetstore/internal/cluster"
)

// Node status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// NodeHealth is the current view of one node. In-memory only; a gateway
// restart resets every node to unknown.
type NodeHealth struct {
	NodeID    string    `json:"node_id"`
	Status    string    `json:"status"`
	LastProbe time.Time `json:"last_check"`
	RTTMillis float64   `json:"response_time_ms"`
	LastError string    `json:"error,omitempty"`
}

// Monitor probes every node's /internal/health on a fixed interval.
// Thread-safe: the probe loop is the only writer; readers take the
// shared lock.
type Monitor struct {
	nodes    []cluster.NodeInfo
	interval time.Duration
	timeout  time.Duration

	probeFunc func(ctx context.Context, node cluster.NodeInfo) (time.Duration, error)

	mu     sync.RWMutex
	health map[string]*NodeHealth

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor builds a monitor for the given fleet. Every node starts in
// the unknown state until its first probe completes.
func NewMonitor(nodes []cluster.NodeInfo, interval time.Duration) *Monitor {
	m := &Monitor{
		nodes:    append([]cluster.NodeInfo(nil), nodes...),
		interval: interval,
		timeout:  5 * time.Second,
		health:   make(map[string]*NodeHealth, len(nodes)),
	}
	for _, n := range nodes {
		m.health[n.ID] = &NodeHealth{NodeID: n.ID, Status: StatusUnknown}
	}
	m.probeFunc = m.defaultProbe
	return m
}

// SetProbeFunc overrides the probe implementation. Tests use this to
// avoid real HTTP calls.
func (m *Monitor) SetProbeFunc(fn func(ctx context.Context, node cluster.NodeInfo) (time.Duration, error)) {
	m.probeFunc = fn
}

// Start launches the probe loop. An initial sweep runs immediately;
// subsequent sweeps run every interval until Stop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Printf("health monitor started (interval %v)", m.interval)
		m.probeAll(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probeAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	log.Println("health monitor stopped")
}

// ProbeAll runs one synchronous sweep over the fleet. The loop uses it;
// tests and admin tooling can call it directly.
func (m *Monitor) ProbeAll() {
	m.probeAll(context.Background())
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, node := range m.nodes {
		if ctx.Err() != nil {
			return
		}
		m.probeNode(ctx, node)
	}
}

func (m *Monitor) probeNode(ctx context.Context, node cluster.NodeInfo) {
	rtt, err := m.probeFunc(ctx, node)

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[node.ID]
	if h == nil {
		h = &NodeHealth{NodeID: node.ID}
		m.health[node.ID] = h
	}
	h.LastProbe = time.Now().UTC()
	if err != nil {
		h.Status = StatusUnhealthy
		h.RTTMillis = 0
		h.LastError = categorize(err)
		log.Printf("health: node %s unhealthy: %s", node.ID, h.LastError)
		return
	}
	if h.Status == StatusUnhealthy {
		log.Printf("health: node %s recovered", node.ID)
	}
	h.Status = StatusHealthy
	h.RTTMillis = float64(rtt.Microseconds()) / 1000.0
	h.LastError = ""
}

var probeClient = &http.Client{}

// defaultProbe GETs the node's /internal/health with the probe timeout
// and measures round-trip time. Any non-2xx status is a failure.
func (m *Monitor) defaultProbe(ctx context.Context, node cluster.NodeInfo) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, node.BaseURL+"/internal/health", nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := probeClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return time.Since(start), nil
}

// categorize collapses probe failures into the short strings surfaced by
// /admin/health.
func categorize(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "Timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused"
	default:
		return err.Error()
	}
}

// Get returns a copy of one node's health, or nil when the node is not
// monitored.
func (m *Monitor) Get(nodeID string) *NodeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[nodeID]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// All returns a copy of every node's health in fleet order.
func (m *Monitor) All() []NodeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NodeHealth, 0, len(m.nodes))
	for _, n := range m.nodes {
		if h, ok := m.health[n.ID]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// Status returns a node's status string; unknown nodes report unknown.
func (m *Monitor) Status(nodeID string) string {
	if h := m.Get(nodeID); h != nil {
		return h.Status
	}
	return StatusUnknown
}

// Interval returns the probe period.
func (m *Monitor) Interval() time.Duration { return m.interval }
