package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/chunkdex/internal/config"
	"github.com/syntrixbase/chunkdex/internal/logging"
	"github.com/syntrixbase/chunkdex/internal/services"
)

func main() {
	// 0. Parse Command Line Flags
	configDir := flag.String("config", "configs", "Configuration directory")
	runGateway := flag.Bool("gateway", false, "Run the HTTP gateway")
	runIndexers := flag.Bool("indexers", false, "Run the configured indexers")
	runAll := flag.Bool("all", false, "Run everything")
	flag.Parse()

	// Default to running all if no specific flags are provided or if --all is set
	if *runAll || (!*runGateway && !*runIndexers) {
		*runGateway = true
		*runIndexers = true
	}

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting chunkdex...",
		"gateway", *runGateway,
		"indexers", len(cfg.Indexers),
		"store", cfg.Store.Backend)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg, services.Options{
		RunGateway:  *runGateway,
		RunIndexers: *runIndexers,
	})

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		exit(mgr, 1)
	}

	// 3. Start Services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := mgr.Start(bgCtx); err != nil {
		slog.Error("Failed to start services", "error", err)
		exit(mgr, 1)
	}

	// 4. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down services...", "signal", sig.String())
	bgCancel()
	exit(mgr, 0)
}

func exit(mgr *services.Manager, code int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		code = 1
	}
	slog.Info("All services stopped.")
	_ = logging.Shutdown()
	os.Exit(code)
}
