package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
	"github.com/Await-d/claude-relay-service-sub004/internal/api"
	"github.com/Await-d/claude-relay-service-sub004/internal/buildinfo"
	"github.com/Await-d/claude-relay-service-sub004/internal/config"
	"github.com/Await-d/claude-relay-service-sub004/internal/connpool"
	"github.com/Await-d/claude-relay-service-sub004/internal/dispatcher"
	"github.com/Await-d/claude-relay-service-sub004/internal/directory"
	"github.com/Await-d/claude-relay-service-sub004/internal/scanloop"
	"github.com/Await-d/claude-relay-service-sub004/internal/scheduler"
	"github.com/Await-d/claude-relay-service-sub004/internal/session"
	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("relayd %s (%s, built %s) starting", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
	if config.IsWeakAdminToken(envCfg.AdminToken) {
		log.Printf("relayd: RELAY_ADMIN_TOKEN is weak, consider a longer random token")
	}

	ctx := context.Background()

	// 2. Open the state store
	var (
		st     store.Store
		purger *store.Purger
		closer func()
	)
	switch envCfg.StoreBackend {
	case "sqlite":
		if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
			log.Fatalf("create state dir: %v", err)
		}
		db, err := store.OpenDB(filepath.Join(envCfg.StateDir, "relayd.db"))
		if err != nil {
			log.Fatalf("open state db: %v", err)
		}
		if err := store.MigrateDB(db); err != nil {
			log.Fatalf("migrate state db: %v", err)
		}
		sq := store.NewSQLiteStore(db)
		purger, err = store.NewPurger(sq, envCfg.PurgeSchedule)
		if err != nil {
			log.Fatalf("store purger: %v", err)
		}
		purger.Start()
		st = sq
		closer = func() { _ = sq.Close() }
	default:
		st = store.NewMemoryStore()
		closer = func() {}
	}

	// 3. Runtime config overlays the env defaults for hot-updatable settings
	runtimeCfg, err := config.LoadRuntimeConfig(ctx, st)
	if err != nil {
		log.Fatalf("runtime config: %v", err)
	}
	defaultStrategy := envCfg.DefaultStrategy
	if runtimeCfg.DefaultStrategy != "" && account.Strategy(runtimeCfg.DefaultStrategy).IsValid() {
		defaultStrategy = runtimeCfg.DefaultStrategy
	}
	sessionTTL := envCfg.SessionTTL
	if d := runtimeCfg.SessionTTL.Std(); d > 0 {
		sessionTTL = d
	}
	rateLimitWindow := envCfg.RateLimitCheckWindow
	if d := runtimeCfg.RateLimitCheckWindow.Std(); d > 0 {
		rateLimitWindow = d
	}

	// 4. Account directory
	registry := directory.NewRegistry(directory.RegistryConfig{
		RateLimitCheckWindow: rateLimitWindow,
		RateLimitCacheSize:   envCfg.RateLimitCacheSize,
	})
	for _, typ := range account.AllTypes {
		registry.Register(directory.NewStoreProvider(typ, st, envCfg.UsageTTL))
	}
	if envCfg.AccountsFile != "" {
		seed, err := directory.LoadSeedFile(envCfg.AccountsFile)
		if err != nil {
			log.Fatalf("accounts: %v", err)
		}
		err = seed.Apply(ctx, registry, func(typ account.Type) *directory.StoreProvider {
			return directory.NewStoreProvider(typ, st, envCfg.UsageTTL)
		})
		if err != nil {
			log.Fatalf("accounts: %v", err)
		}
		log.Printf("relayd: loaded %d accounts, %d groups from %s", len(seed.Accounts), len(seed.Groups), envCfg.AccountsFile)
	}

	// 5. Scheduling engine
	sessions := session.NewTracker(st, sessionTTL)
	engine := scheduler.New(scheduler.Config{
		DefaultStrategy: account.Strategy(defaultStrategy),
	}, registry, sessions, st)

	// 6. Connection pool
	dialerBuilder, err := connpool.NewProxyDialerBuilder(envCfg.ConnectTimeout)
	if err != nil {
		log.Fatalf("dialer builder: %v", err)
	}
	pool := connpool.NewManager(connpool.Config{
		ConnectTimeout:      envCfg.ConnectTimeout,
		ProbeTimeout:        envCfg.ProbeTimeout,
		HealthInterval:      envCfg.HealthInterval,
		CleanupInterval:     envCfg.CleanupInterval,
		IdleEvict:           envCfg.IdleEvict,
		StatsEvict:          envCfg.StatsEvict,
		FailureWindow:       envCfg.FailureWindow,
		MaxFailures:         envCfg.MaxFailures,
		RecoveryWindow:      envCfg.RecoveryWindow,
		MinErrorSample:      envCfg.MinErrorSample,
		MaxConnsPerHost:     envCfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: envCfg.MaxIdleConnsPerHost,
	}, dialerBuilder)
	pool.Start()

	// 7. Dispatcher plus the admin API in front of it
	disp := dispatcher.New(engine, registry, pool)
	log.Printf("relayd: dispatcher ready (default strategy %s, session TTL %s)", defaultStrategy, sessionTTL)

	srv := api.NewServer(
		envCfg.ListenAddress,
		envCfg.APIPort,
		envCfg.AdminToken,
		api.SystemInfo{
			Version:   buildinfo.Version,
			GitCommit: buildinfo.GitCommit,
			BuildTime: buildinfo.BuildTime,
			StartedAt: time.Now().UTC(),
		},
		engine, disp, registry, pool,
	)
	go func() {
		log.Printf("relayd admin API starting on %s:%d", envCfg.ListenAddress, envCfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin API error: %v", err)
		}
	}()

	// Periodic pool summary.
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	scanloop.Go(&wg, stopCh, "pool summary", 5*time.Minute, func() {
		s := pool.StatsAll()
		log.Printf("relayd: pool entries=%d live_sockets=%d recovering=%d", len(s.Entries), s.LiveSockets, s.Recovering)
	})

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin API shutdown error: %v", err)
	}

	close(stopCh)
	wg.Wait()
	pool.Shutdown()
	_ = dialerBuilder.Close()
	registry.Close()
	if purger != nil {
		purger.Stop()
	}
	closer()
	log.Println("relayd stopped")
}
