package config

import (
	"testing"
	"time"
)

func TestParseNodes(t *testing.T) {
	nodes, err := ParseNodes("a:http://localhost:9001, b:http://localhost:9002")
	if err != nil {
		t.Fatalf("ParseNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes", len(nodes))
	}
	if nodes[0].ID != "a" || nodes[0].BaseURL != "http://localhost:9001" {
		t.Errorf("node 0 = %+v", nodes[0])
	}
	if nodes[1].ID != "b" {
		t.Errorf("node 1 = %+v", nodes[1])
	}
}

func TestParseNodesTrimsTrailingSlash(t *testing.T) {
	nodes, err := ParseNodes("a:http://localhost:9001/")
	if err != nil {
		t.Fatalf("ParseNodes: %v", err)
	}
	if nodes[0].BaseURL != "http://localhost:9001" {
		t.Errorf("BaseURL = %q", nodes[0].BaseURL)
	}
}

func TestParseNodesErrors(t *testing.T) {
	for _, in := range []string{"", "no-colon", ":http://x", "a:", "a:http://x,a:http://y"} {
		if _, err := ParseNodes(in); err == nil {
			t.Errorf("ParseNodes(%q): expected error", in)
		}
	}
}

func TestParseRegions(t *testing.T) {
	regions, order, err := ParseRegions("us=n1|n2;eu=n3")
	if err != nil {
		t.Fatalf("ParseRegions: %v", err)
	}
	if len(order) != 2 || order[0] != "us" || order[1] != "eu" {
		t.Fatalf("order = %v", order)
	}
	if len(regions["us"]) != 2 || regions["us"][0] != "n1" {
		t.Errorf("us = %v", regions["us"])
	}
	if len(regions["eu"]) != 1 || regions["eu"][0] != "n3" {
		t.Errorf("eu = %v", regions["eu"])
	}
}

func TestParseRegionsErrors(t *testing.T) {
	for _, in := range []string{"nodash", "=n1", "us=n1;us=n2"} {
		if _, _, err := ParseRegions(in); err == nil {
			t.Errorf("ParseRegions(%q): expected error", in)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"GATEWAY_LISTEN", "STORAGE_NODES", "STORAGE_REGIONS", "META_DB_PATH",
		"HEALTH_INTERVAL_SECONDS", "GC_INTERVAL_HOURS", "RETENTION_DAYS",
		"MAX_VERSIONS", "RATE_LIMIT_RPM", "DEFAULT_QUOTA_BYTES",
		"DEFAULT_QUOTA_OBJECTS", "SCRATCH_DIR",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if len(cfg.Nodes) != 6 {
		t.Errorf("got %d default nodes", len(cfg.Nodes))
	}
	if cfg.HealthInterval != 30*time.Second {
		t.Errorf("HealthInterval = %v", cfg.HealthInterval)
	}
	if cfg.GCInterval != time.Hour {
		t.Errorf("GCInterval = %v", cfg.GCInterval)
	}
	if cfg.RetentionDays != 7 || cfg.MaxVersions != 5 || cfg.RateLimitRPM != 100 {
		t.Errorf("policy defaults = %d/%d/%d", cfg.RetentionDays, cfg.MaxVersions, cfg.RateLimitRPM)
	}
	if cfg.DefaultQuotaBytes != 10<<30 || cfg.DefaultQuotaObjects != 10000 {
		t.Errorf("quota defaults = %d/%d", cfg.DefaultQuotaBytes, cfg.DefaultQuotaObjects)
	}
	order := cfg.RegionOrder()
	if len(order) != 3 || order[0] != "us-east" {
		t.Errorf("region order = %v", order)
	}
	// Regions are back-filled onto the node entries.
	if cfg.Nodes[0].Region != "us-east" || cfg.Nodes[5].Region != "ap-south" {
		t.Errorf("region annotation: %q, %q", cfg.Nodes[0].Region, cfg.Nodes[5].Region)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_NODES", "x:http://h1:1,y:http://h2:2,z:http://h3:3,w:http://h4:4,v:http://h5:5,u:http://h6:6")
	t.Setenv("STORAGE_REGIONS", "one=x|y|z;two=w|v|u")
	t.Setenv("HEALTH_INTERVAL_SECONDS", "5")
	t.Setenv("MAX_VERSIONS", "2")
	t.Setenv("RATE_LIMIT_RPM", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HealthInterval != 5*time.Second {
		t.Errorf("HealthInterval = %v", cfg.HealthInterval)
	}
	if cfg.MaxVersions != 2 || cfg.RateLimitRPM != 7 {
		t.Errorf("overrides = %d/%d", cfg.MaxVersions, cfg.RateLimitRPM)
	}
	if cfg.Nodes[0].Region != "one" {
		t.Errorf("node x region = %q", cfg.Nodes[0].Region)
	}
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("RETENTION_DAYS", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric RETENTION_DAYS")
	}
}
