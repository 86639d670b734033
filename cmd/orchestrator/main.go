// Command orchestrator runs the station-mesh service mesh: Discovery
// Registry, Resilient Client, and Workflow Engine wired together by
// internal/orchestrator. A CLI is explicitly out of scope (spec.md
// Non-goals); this is a single long-running process configured purely
// through STATION_MESH_* environment variables.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/station-mesh/orchestrator/internal/config"
	"github.com/station-mesh/orchestrator/internal/logging"
	"github.com/station-mesh/orchestrator/internal/orchestrator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	logging.Initialize(cfg.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := orchestrator.New(cfg)
	if err := o.Start(ctx); err != nil {
		log.Fatal("failed to start orchestrator:", err)
	}
	logging.Info("station-mesh orchestrator started")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	fmt.Println("\nreceived shutdown signal, draining in-flight workflows...")

	cancel()

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()

	select {
	case <-done:
		fmt.Println("orchestrator stopped gracefully")
	case <-time.After(30 * time.Second):
		fmt.Println("shutdown timeout exceeded, forcing exit")
	}
}
