// The gateway binary is the client-facing entry point of the object
// store: it owns the metadata store, the erasure pipeline, and the
// background health and GC loops, and serves the bucket/object API.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abishekgiri/planetstore/internal/config"
	"github.com/abishekgiri/planetstore/internal/erasure"
	"github.com/abishekgiri/planetstore/internal/gateway"
	"github.com/abishekgiri/planetstore/internal/gc"
	"github.com/abishekgiri/planetstore/internal/health"
	"github.com/abishekgiri/planetstore/internal/meta"
	"github.com/abishekgiri/planetstore/internal/multipart"
	"github.com/abishekgiri/planetstore/internal/pipeline"
	"github.com/abishekgiri/planetstore/internal/quota"
	"github.com/abishekgiri/planetstore/internal/registry"
	"github.com/abishekgiri/planetstore/internal/replication"
	"github.com/abishekgiri/planetstore/internal/transport"
)

// logFatal is swapped out in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
	}

	store, err := meta.Open(cfg.MetaDBPath)
	if err != nil {
		logFatal("meta store: %v", err)
	}
	defer store.Close()

	codec, err := erasure.NewCodec(erasure.DataShards, erasure.TotalShards)
	if err != nil {
		logFatal("erasure codec: %v", err)
	}

	reg := registry.New(cfg.Nodes, cfg.Regions, cfg.RegionOrder())
	tr := transport.NewClient()
	gate := quota.NewGate(store, cfg.DefaultQuotaBytes, cfg.DefaultQuotaObjects)

	repl := replication.NewCoordinator(reg, tr, 0)
	repl.Start()
	defer repl.Stop()

	pl := pipeline.New(store, codec, reg, tr, gate, repl)

	mon := health.NewMonitor(cfg.Nodes, cfg.HealthInterval)
	mon.Start()
	defer mon.Stop()

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	sweeper := gc.NewSweeper(store, pl, cfg.GCInterval, retention, cfg.MaxVersions)
	sweeper.Start()
	defer sweeper.Stop()

	mp, err := multipart.NewManager(store, cfg.ScratchDir)
	if err != nil {
		logFatal("multipart: %v", err)
	}

	srv := gateway.NewServer(cfg, store, pl, gate, reg, mon, sweeper, mp, repl)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("gateway listening on %s (%d nodes, %d regions)", cfg.Listen, len(cfg.Nodes), len(cfg.Regions))
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
	log.Println("gateway stopped")
}
