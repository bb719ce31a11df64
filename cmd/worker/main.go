package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"hostelattendance/internal/attendance"
	"hostelattendance/internal/audit"
	"hostelattendance/internal/config"
	"hostelattendance/internal/queue"
	"hostelattendance/internal/store"
)

// Worker drains audit messages from the queue into Postgres so a
// slow audit sink never adds latency to check-in decisions.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, store.PoolConfig{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := attendance.NewRepository(db.Client).EnsureSchema(ctx); err != nil {
		log.Printf("warning: schema check failed: %v", err)
	}

	if cfg.QueueBackend == "memory" {
		log.Println("QUEUE_BACKEND=memory: the api binary drains audit entries in-process; nothing for this worker to do")
		return
	}
	redisClient := store.NewRedis(cfg.RedisAddr, store.RedisOptions{
		DialTimeout: cfg.RedisDialTimeout,
		OpTimeout:   cfg.RedisOpTimeout,
	})
	q := queue.NewRedisQueue(redisClient.Client, "attendance:audit")

	log.Println("audit worker started, waiting for messages...")
	if err := audit.Drain(ctx, q, audit.NewSink(db.Client)); err != nil {
		log.Fatalf("audit drain failed: %v", err)
	}
	log.Println("audit worker stopped")
}
