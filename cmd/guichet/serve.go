package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/audit"
	"github.com/opengreffe/guichet/pkg/auth"
	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/events"
	"github.com/opengreffe/guichet/pkg/fusion"
	"github.com/opengreffe/guichet/pkg/gateway"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/ingest"
	"github.com/opengreffe/guichet/pkg/log"
	"github.com/opengreffe/guichet/pkg/metrics"
	"github.com/opengreffe/guichet/pkg/privacy"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/resilience"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway: connect Redis and the analytic store, prime the
provider credentials named in require_auth_at_boot, start the ingest
scheduler and serve the tool API until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitBadConfig)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	metrics.SetVersion(Version)

	fmt.Printf("Starting guichet %s\n", Version)
	fmt.Printf("  Listen: %s\n", cfg.Listen)
	fmt.Printf("  Store: %s\n", cfg.Store.Path)
	fmt.Printf("  Redis: %s\n", cfg.Redis.URL)
	fmt.Println()

	kv, err := cache.Connect(cfg.Redis.URL, cfg.Redis.Password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitNetInit)
	}
	metrics.RegisterComponent("redis", true, "connected")
	fmt.Println("✓ Redis connected")

	store, err := analytic.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStoreInit)
	}
	metrics.RegisterComponent("store", true, cfg.Store.Path)
	fmt.Println("✓ Analytic store opened")

	broker := events.NewBroker()
	broker.Start()

	credentials := auth.NewStore(cfg.Credentials, broker)
	if len(cfg.RequireAuthAtBoot) > 0 {
		primeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := credentials.Prime(primeCtx, cfg.RequireAuthAtBoot...)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitAuthBoot)
		}
		fmt.Printf("✓ Credentials primed (%s)\n", strings.Join(cfg.RequireAuthAtBoot, ", "))
	}

	limiter := cache.NewRateLimiter(kv)
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		Threshold: cfg.Breaker.Threshold,
		Recovery:  time.Duration(cfg.Breaker.RecoverySeconds) * time.Second,
	}, providers.BreakerOverrides(cfg.Providers))
	caller := httpcall.New(providers.Profiles(cfg.Providers), limiter, breakers, credentials, Version)
	registry := providers.NewRegistry(caller, cfg.Providers)

	ledger, err := audit.New(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to open audit ledger: %w", err)
	}
	fmt.Println("✓ Audit ledger open")

	manager := cache.NewManager(kv, ttlPolicy(cfg.Cache))
	manager.Watch(broker)

	scheduler, err := ingest.New(cfg.Ingest, store, broker)
	if err != nil {
		return fmt.Errorf("failed to build ingest scheduler: %w", err)
	}
	if cfg.Ingest.Enabled {
		scheduler.Start()
		fmt.Println("✓ Ingest scheduler started")
	}

	orchestrator := fusion.New(registry, store, manager, privacy.NewRedactor(), ledger)
	tools := gateway.NewTools(orchestrator, registry, store, manager, scheduler, ledger)
	server := gateway.NewServer(cfg.Listen, tools)
	metrics.RegisterComponent("gateway", true, cfg.Listen)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("✓ Gateway listening on %s\n", cfg.Listen)
	fmt.Println()
	fmt.Println("Gateway is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		exitCode = exitNetInit
	}

	// Stop components in reverse boot order.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: gateway shutdown: %v\n", err)
	}
	scheduler.Stop()
	orchestrator.Close()
	manager.Stop()
	broker.Stop()
	if err := ledger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: audit ledger close: %v\n", err)
	}
	_ = store.Close()
	_ = kv.Close()

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

func ttlPolicy(cfg config.CacheConfig) cache.TTLPolicy {
	return cache.TTLPolicy{
		Search:   time.Duration(cfg.SearchTTLSeconds) * time.Second,
		Profile:  time.Duration(cfg.ProfileTTLSeconds) * time.Second,
		Document: time.Duration(cfg.DocumentTTLSeconds) * time.Second,
	}
}
