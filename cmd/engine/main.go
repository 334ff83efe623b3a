package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_stock/internal/cache"
	enginehttp "github.com/fjod/go_stock/internal/http"
	"github.com/fjod/go_stock/internal/publisher"
	"github.com/fjod/go_stock/internal/service"
	"github.com/fjod/go_stock/internal/sweeper"

	"github.com/fjod/go_stock/internal/domain"
	"github.com/fjod/go_stock/internal/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	log.Println("inventory engine starting...")

	httpPort := getEnv("HTTP_PORT", "8080")
	requestTimeout := 10 * time.Second

	ttl := service.DefaultReservationTTL
	if raw := os.Getenv("RESERVATION_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("Invalid RESERVATION_TTL: %v", err)
		}
		ttl = parsed
	}

	// Store setup: postgres when configured, otherwise demo in-memory store
	var inventoryStore store.InventoryStore
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
		if err != nil {
			log.Fatalf("Invalid DB_PORT: %v", err)
		}
		creds := &store.Credentials{
			Host:              dbHost,
			Port:              dbPort,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "inventory"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/store/migrations"),
		}

		pg, err := store.NewPostgresStore(creds)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := pg.RunMigrations(creds); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Connected to postgres, migrations completed")
		inventoryStore = pg
	} else {
		mem := store.NewMemoryStore()
		seedDemoData(mem)
		log.Println("Using in-memory store with demo stock")
		inventoryStore = mem
	}
	defer inventoryStore.Close()

	// Product reads go through redis when configured
	var products service.ProductReader = inventoryStore
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		products = cache.NewReadThrough(inventoryStore, cache.NewRedisCache(client))
		log.Printf("Product cache enabled at %s", redisAddr)
	}

	reservations := service.NewReservationManager(products, inventoryStore, ttl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background sweep for abandoned checkouts
	sweep := sweeper.NewSweeper(inventoryStore, sweeper.DefaultInterval)
	go sweep.Run(ctx)

	// Outbox publishing when a broker is configured
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		poller := publisher.NewOutboxPoller(inventoryStore, strings.Split(brokers, ",")...)
		go poller.Run(ctx)
		log.Printf("Outbox poller publishing to %s", brokers)
	}

	// Operator HTTP surface
	handler := enginehttp.NewAdminHandler(inventoryStore, reservations, requestTimeout)
	srv := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      enginehttp.NewRouter(handler, requestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Operator endpoints listening on :%s", httpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down inventory engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Inventory engine stopped")
}

// seedDemoData loads the same demo catalog the tests use
func seedDemoData(mem *store.MemoryStore) {
	ctx := context.Background()

	warehouses := []domain.Warehouse{
		{ID: 1, Name: "Central", Active: true, CreatedAt: time.Now().Add(-48 * time.Hour)},
		{ID: 2, Name: "North", Active: true, CreatedAt: time.Now().Add(-24 * time.Hour)},
	}
	products := []domain.Product{
		{ID: 1, Name: "Laptop", BusinessID: 1, Active: true, AllowsSale: true},
		{ID: 2, Name: "Mouse", BusinessID: 1, Active: true, AllowsSale: true},
		{ID: 3, Name: "Keyboard", BusinessID: 1, Active: true, AllowsSale: true},
		{ID: 4, Name: "Monitor", BusinessID: 2, Active: true, AllowsSale: true},
		{ID: 5, Name: "Headphones", BusinessID: 2, Active: true, AllowsSale: true},
	}
	stock := map[int64]map[int64]int32{
		1: {1: 100, 2: 500, 3: 300, 4: 150, 5: 200},
		2: {1: 40, 2: 80, 3: 0},
	}

	for _, w := range warehouses {
		if err := mem.SaveWarehouse(ctx, &w); err != nil {
			log.Fatalf("Failed to seed warehouse %d: %v", w.ID, err)
		}
	}
	for _, p := range products {
		if err := mem.SaveProduct(ctx, &p); err != nil {
			log.Fatalf("Failed to seed product %d: %v", p.ID, err)
		}
	}
	for warehouseID, levels := range stock {
		for productID, onHand := range levels {
			if err := mem.SetStock(ctx, productID, warehouseID, onHand); err != nil {
				log.Fatalf("Failed to seed stock for product %d: %v", productID, err)
			}
		}
	}
}
