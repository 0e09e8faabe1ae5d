package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-site/internal/api/middleware"
	"auction-site/internal/clock"
	"auction-site/internal/config"
	"auction-site/internal/domain"
	"auction-site/internal/host"
	"auction-site/internal/infrastructure/mysql"
	redisinfra "auction-site/internal/infrastructure/redis"
	"auction-site/internal/infrastructure/websocket"
	"auction-site/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
)

// The stream service fans bid events out to websocket subscribers. It
// shares storage with the site service so it can reject connections to
// auctions that have already ended.
func main() {
	log := logger.New()
	log.Info("Starting stream service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping MySQL", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to MySQL")

	store := mysql.NewStore(db)
	jobs := mysql.NewSchedulerRepository(db)
	events := redisinfra.NewEventPublisher(rdb)
	clocks := clock.NewFactory(clock.NewSystemTimeSource())
	sites := host.New(store, clocks, events, jobs, log)

	connManager := websocket.NewConnectionManager(log)
	wsHandler := websocket.NewHandler(sites, connManager, log)

	subscriber := redisinfra.NewEventSubscriber(rdb, log)

	subscriberCtx, subscriberCancel := context.WithCancel(context.Background())
	defer subscriberCancel()

	go func() {
		err := subscriber.SubscribeToBidEvents(subscriberCtx, func(event *domain.BidEvent) error {
			key := websocket.AuctionKey(event.Site, event.AuctionID)

			if event.Type == domain.AuctionClosed || event.Type == domain.AuctionRemoved {
				defer func() {
					if err := connManager.CloseAndUnregisterConnections(key); err != nil {
						log.Error("Failed to close auction connections",
							"auction_key", key, "error", err)
					}
				}()
			}

			return connManager.BroadcastToAuction(key, event)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Event subscription stopped", "error", err)
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.CORS)
	router.HandleFunc("/ws/sites/{site}/auctions/{auctionID}", wsHandler.HandleConnection)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"service":   "stream-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}).Methods("GET")

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Info("Starting stream service server", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down stream service...")
	subscriberCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Stream service stopped")
}
