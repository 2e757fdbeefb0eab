package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drey-labs/drey/internal/config"
	"github.com/drey-labs/drey/internal/health"
	"github.com/drey-labs/drey/internal/store"
)

// dreyd hosts the pool's observability surface: /healthz for store
// connectivity and /breakers for the freshly recomputed circuit-breaker
// state, and logs a breaker snapshot on a fixed cadence.
func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("DREY_INSTANCE_NAME")
	redisURL := os.Getenv("DREY_REDIS_URL")

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: DREY_INSTANCE_NAME and DREY_REDIS_URL must be set\n")
		os.Exit(1)
	}

	addr := os.Getenv("DREY_HEALTH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid DREY_REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create store client
	st, err := store.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create store client: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Load policy configuration (defaults when DREY_CONFIG is unset)
	policy := config.DefaultPolicy()
	if path := os.Getenv("DREY_CONFIG"); path != "" {
		f, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", path, err)
			os.Exit(1)
		}
		policy = f.Policy
	}

	monitor := health.NewMonitor(st, policy)

	// 6. Start the health server
	srv := health.NewServer(st, monitor)
	if err := srv.Start(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to start health server: %v\n", err)
		os.Exit(1)
	}
	defer srv.Shutdown(context.Background())

	fmt.Printf("dreyd serving health endpoints on %s for instance '%s'\n", addr, instanceName)

	// 7. Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 8. Log breaker snapshots until shutdown
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
			return

		case <-ticker.C:
			status, err := monitor.Check(ctx, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Breaker check failed: %v\n", err)
				continue
			}
			fmt.Printf("breakers: halt_new_envelopes=%v halt_large_settlements=%v loss_rate=%.2f ln_failure_rate=%.2f\n",
				status.HaltNewEnvelopes, status.HaltLargeSettlements, status.LossRate, status.LnFailureRate)
		}
	}
}
