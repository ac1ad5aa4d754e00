package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/veilchat/veil/internal/ban"
	"github.com/veilchat/veil/internal/messaging"
	"github.com/veilchat/veil/internal/moderation"
	"github.com/veilchat/veil/internal/ratelimit"
	"github.com/veilchat/veil/internal/rating"
	"github.com/veilchat/veil/internal/report"
)

func main() {
	log.Println("Starting Veil moderation service...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// PostgreSQL setup (shared schema with matcherd; migrate here too so
	// either service can start first).
	dsn := "postgres://localhost/veil?sslmode=disable"
	if v := os.Getenv("DATABASE_URL"); v != "" {
		dsn = v
	}
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

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "veil-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	svc := moderation.NewService(
		report.NewStore(db),
		ban.NewStore(rdb),
		natsClient,
		ratelimit.NewLimiter(rdb),
	)
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start moderation service: %v", err)
	}

	log.Printf("Veil moderation service running")
	log.Printf("  redis_addr: %s", redisAddr)
	log.Printf("  nats_url:   %s", natsConfig.URL)

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
