// Package config loads gateway configuration from environment variables.
//
// All settings have defaults suitable for a local six-node development
// fleet; production deployments override them via the environment:
//
//	STORAGE_NODES           node_id:url,node_id:url,... (ordered)
//	STORAGE_REGIONS         region=node_id|node_id;region=... (ordered)
//	META_DB_PATH            buntdb file path, or ":memory:"
//	GATEWAY_LISTEN          listen address (default ":8000")
//	HEALTH_INTERVAL_SECONDS health probe period (default 30)
//	GC_INTERVAL_HOURS       GC sweep period (default 1)
//	RETENTION_DAYS          non-latest version retention (default 7)
//	MAX_VERSIONS            non-latest versions kept per key (default 5)
//	RATE_LIMIT_RPM          per-IP requests per minute (default 100)
//	DEFAULT_QUOTA_BYTES     default per-bucket size limit (default 10 GiB)
//	DEFAULT_QUOTA_OBJECTS   default per-bucket object limit (default 10000)
//	SCRATCH_DIR             multipart part staging dir (default os temp)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abishekgiri/planetstore/internal/cluster"
)

// Config carries every tunable the gateway binary needs. It is built once
// in main and handed to the components that need slices of it; nothing
// reads the environment after startup.
type Config struct {
	Listen string

	Nodes   []cluster.NodeInfo
	Regions map[string][]string // region name -> node IDs, declared order

	MetaDBPath string
	ScratchDir string

	HealthInterval time.Duration
	GCInterval     time.Duration
	RetentionDays  int
	MaxVersions    int

	RateLimitRPM int

	DefaultQuotaBytes   int64
	DefaultQuotaObjects int64

	regionOrder []string
}

const defaultNodes = "node1:http://localhost:9001,node2:http://localhost:9002," +
	"node3:http://localhost:9003,node4:http://localhost:9004," +
	"node5:http://localhost:9005,node6:http://localhost:9006"

const defaultRegions = "us-east=node1|node2;eu-west=node3|node4;ap-south=node5|node6"

// Load builds a Config from the environment. It fails only on values that
// cannot be parsed; missing values fall back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Listen:              getenv("GATEWAY_LISTEN", ":8000"),
		MetaDBPath:          getenv("META_DB_PATH", filepath.Join(os.TempDir(), "planetstore-meta.db")),
		ScratchDir:          getenv("SCRATCH_DIR", filepath.Join(os.TempDir(), "planetstore-multipart")),
		RetentionDays:       7,
		MaxVersions:         5,
		RateLimitRPM:        100,
		DefaultQuotaBytes:   10 << 30,
		DefaultQuotaObjects: 10000,
		HealthInterval:      30 * time.Second,
		GCInterval:          time.Hour,
	}

	var err error
	cfg.Nodes, err = ParseNodes(getenv("STORAGE_NODES", defaultNodes))
	if err != nil {
		return nil, err
	}
	cfg.Regions, cfg.regionOrder, err = ParseRegions(getenv("STORAGE_REGIONS", defaultRegions))
	if err != nil {
		return nil, err
	}
	annotateRegions(cfg.Nodes, cfg.Regions)

	if v, err := intEnv("HEALTH_INTERVAL_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.HealthInterval = time.Duration(v) * time.Second
	}
	if v, err := intEnv("GC_INTERVAL_HOURS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.GCInterval = time.Duration(v) * time.Hour
	}
	if v, err := intEnv("RETENTION_DAYS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RetentionDays = v
	}
	if v, err := intEnv("MAX_VERSIONS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.MaxVersions = v
	}
	if v, err := intEnv("RATE_LIMIT_RPM"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RateLimitRPM = v
	}
	if v, err := intEnv("DEFAULT_QUOTA_BYTES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.DefaultQuotaBytes = int64(v)
	}
	if v, err := intEnv("DEFAULT_QUOTA_OBJECTS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.DefaultQuotaObjects = int64(v)
	}

	return cfg, nil
}

// RegionOrder returns region names in their declared order.
func (c *Config) RegionOrder() []string {
	return append([]string(nil), c.regionOrder...)
}

// ParseNodes parses the STORAGE_NODES format: comma-separated
// "node_id:url" pairs. The first colon separates the ID from the URL so
// that "http://" URLs survive intact. Order is preserved; it is the
// cluster's global placement order.
func ParseNodes(s string) ([]cluster.NodeInfo, error) {
	var nodes []cluster.NodeInfo
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, ":")
		if idx <= 0 || idx == len(part)-1 {
			return nil, fmt.Errorf("config: malformed node entry %q (want node_id:url)", part)
		}
		id, url := part[:idx], part[idx+1:]
		if seen[id] {
			return nil, fmt.Errorf("config: duplicate node id %q", id)
		}
		seen[id] = true
		nodes = append(nodes, cluster.NodeInfo{ID: id, BaseURL: strings.TrimRight(url, "/")})
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("config: no storage nodes configured")
	}
	return nodes, nil
}

// ParseRegions parses the STORAGE_REGIONS format: semicolon-separated
// "region=node_id|node_id" groups. Returns the grouping and the declared
// region order.
func ParseRegions(s string) (map[string][]string, []string, error) {
	regions := make(map[string][]string)
	var order []string
	for _, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		name, ids, ok := strings.Cut(group, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("config: malformed region entry %q (want region=id|id)", group)
		}
		if _, dup := regions[name]; dup {
			return nil, nil, fmt.Errorf("config: duplicate region %q", name)
		}
		var members []string
		for _, id := range strings.Split(ids, "|") {
			if id = strings.TrimSpace(id); id != "" {
				members = append(members, id)
			}
		}
		regions[name] = members
		order = append(order, name)
	}
	return regions, order, nil
}

// annotateRegions back-fills each node's Region field from the grouping.
func annotateRegions(nodes []cluster.NodeInfo, regions map[string][]string) {
	byID := make(map[string]string)
	for region, ids := range regions {
		for _, id := range ids {
			byID[id] = region
		}
	}
	for i := range nodes {
		nodes[i].Region = byID[nodes[i].ID]
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// intEnv parses an optional integer environment variable. Returns 0 when
// unset so callers keep their default.
func intEnv(k string) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", k, err)
	}
	return n, nil
}
