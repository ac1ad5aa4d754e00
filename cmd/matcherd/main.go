package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/ban"
	"github.com/veilchat/veil/internal/engine"
	"github.com/veilchat/veil/internal/messaging"
	"github.com/veilchat/veil/internal/metrics"
	"github.com/veilchat/veil/internal/pairing"
	"github.com/veilchat/veil/internal/profile"
	"github.com/veilchat/veil/internal/queue"
	"github.com/veilchat/veil/internal/ratelimit"
	"github.com/veilchat/veil/internal/rating"
	"github.com/veilchat/veil/internal/state"
)

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func main() {
	log.Println("Starting Veil matching service...")

	engineConfig := engine.Config{
		MaxQueueSize:        envInt("MAX_QUEUE_SIZE", 500),
		ConversationTimeout: envDuration("CONVERSATION_TIMEOUT", 2*time.Hour),
		QueueSessionTimeout: envDuration("QUEUE_SESSION_TIMEOUT", 30*time.Minute),
		IdleGrace:           envDuration("IDLE_GRACE", 30*time.Second),
	}
	serviceConfig := engine.DefaultServiceConfig()
	serviceConfig.Workers = envInt("WORKER_POOL_SIZE", serviceConfig.Workers)
	metricsAddr := envStr("METRICS_ADDR", ":9100")

	// --- Redis ---
	redisAddr := envStr("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- PostgreSQL (ratings) ---
	dsn := envStr("DATABASE_URL", "postgres://localhost/veil?sslmode=disable")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open PostgreSQL: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	if err := rating.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "veil-matcherd"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Engine ---
	ratingStore := rating.NewStore(db)
	eng, err := engine.New(
		engineConfig,
		queue.New(rdb, engineConfig.MaxQueueSize),
		state.NewStore(rdb),
		pairing.NewStore(rdb),
		profile.NewStore(rdb),
		profile.NewStore(rdb),
		ratingStore,
		ban.NewStore(rdb),
	)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	svc := engine.NewService(eng, natsClient, ratelimit.NewLimiter(rdb), ratingStore, serviceConfig)
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start matching service: %v", err)
	}

	// Prometheus endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	log.Printf("Veil matching service running")
	log.Printf("  redis_addr:     %s", redisAddr)
	log.Printf("  nats_url:       %s", natsConfig.URL)
	log.Printf("  metrics_addr:   %s", metricsAddr)
	log.Printf("  max_queue_size: %d", engineConfig.MaxQueueSize)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	svc.Stop()
	natsClient.Close()
	rdb.Close()
	db.Close()
}
