// Command mainbrain is the coordinator process: it accepts camera
// registrations, drives the clock/trigger synchronization state machine,
// ingests per-camera feature packets over UDP, and exposes the operator
// HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/straln/braidcore/internal/config"
	"github.com/straln/braidcore/internal/coordinator"
	"github.com/straln/braidcore/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to mainbrain TOML config")
	versionFlag := flag.Bool("version", false, "print version and exit")
	// Accept "mainbrain run -config <path>" as well as "mainbrain -config <path>".
	if len(os.Args) > 1 && os.Args[1] == "run" {
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mainbrain v%s (git SHA: %s)\n", version.Version, version.GitSHA)
		os.Exit(0)
	}

	if *configPath == "" {
		log.Fatal("mainbrain: -config is required")
	}

	cfg, err := config.LoadMainbrain(*configPath)
	if err != nil {
		log.Printf("mainbrain: failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := coordinator.New(cfg)
	if err := orch.Start(ctx); err != nil {
		log.Printf("mainbrain: failed to start: %v", err)
		os.Exit(1)
	}

	log.Printf("mainbrain: listening for cameras on UDP port %d, HTTP on %s", cfg.LowlatencyCamdataUDPPort, cfg.HTTPListen)

	orch.Wait()

	if err := orch.Err(); err != nil && !errors.Is(err, coordinator.ErrClean) {
		if errors.Is(err, coordinator.ErrSyncFailedFatal) {
			log.Printf("mainbrain: exiting after fatal synchronization failure: %v", err)
			os.Exit(2)
		}
		log.Printf("mainbrain: exiting after error: %v", err)
		os.Exit(1)
	}

	log.Print("mainbrain: graceful shutdown complete")
}
