package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/payflow/internal/api"
	"github.com/honeynil/payflow/internal/cache"
	"github.com/honeynil/payflow/internal/config"
	"github.com/honeynil/payflow/internal/handler"
	"github.com/honeynil/payflow/internal/infrastructure/kafka"
	"github.com/honeynil/payflow/internal/infrastructure/redis"
	"github.com/honeynil/payflow/internal/observability"
	core "github.com/honeynil/payflow/internal/repository/postgres"
	service "github.com/honeynil/payflow/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	shutdown, metricsHandler := observability.Setup("payflow")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	accountRepo := core.NewPostgresAccountRepository(db)
	paymentRepo := core.NewPostgresPaymentRepository(db)

	redisClient, err := redis.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	kafkaProducer := kafka.NewProducer(cfg.KafkaBrokers)
	defer kafkaProducer.Close()

	rng := service.NewLockedRand(cryptoSeed())
	allocator := service.NewAccountNumberAllocator(accountRepo, rng, cfg.AllocatorBatchSize)
	statusCache := cache.NewMemoryCache()

	accountSvc := service.NewAccountService(accountRepo, allocator, redisClient, kafkaProducer, cfg.JWTSecret)
	paymentSvc := service.NewPaymentService(paymentRepo, accountRepo, statusCache, kafkaProducer, rng, cfg.StatusCacheTTL)

	h := handler.NewHandler(accountSvc, paymentSvc)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret, metricsHandler)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

// cryptoSeed seeds the shared math/rand source from the OS entropy pool.
func cryptoSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
