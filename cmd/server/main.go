package main

import (
	"context"
	"crypto/ecdsa"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoMarketProtocol/marketgate/internal/binding"
	"github.com/GoMarketProtocol/marketgate/internal/config"
	"github.com/GoMarketProtocol/marketgate/internal/handler"
	"github.com/GoMarketProtocol/marketgate/internal/ledger"
	"github.com/GoMarketProtocol/marketgate/internal/ledger/ethledger"
	"github.com/GoMarketProtocol/marketgate/internal/middleware"
	"github.com/GoMarketProtocol/marketgate/internal/pkg/logger"
	"github.com/GoMarketProtocol/marketgate/internal/repository"
	"github.com/GoMarketProtocol/marketgate/internal/scheduler"
	"github.com/GoMarketProtocol/marketgate/internal/service"
	"github.com/GoMarketProtocol/marketgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	// 2. Trading Wallet (optional: without it the gateway is read-only)
	var (
		wallet *signer.Wallet
		key    *ecdsa.PrivateKey
		sender common.Address
	)
	if cfg.Wallet.PrivateKey != "" {
		wallet, err = signer.NewWallet(cfg.Wallet.PrivateKey)
		if err != nil {
			log.Fatalf("Failed to load wallet: %v", err)
		}
		key = wallet.Key()
		sender = wallet.Address()
		logger.Info("Trading wallet loaded", "address", sender.Hex())
	} else {
		logger.Warn("No wallet configured, submissions will fail")
	}

	// 3. Ledger Provider and Binding Cache
	provider, err := ethledger.NewProvider(cfg, key)
	if err != nil {
		log.Fatalf("Failed to initialize ledger provider: %v", err)
	}
	bindings := binding.NewCache(provider)

	// 4. Persistence (Redis > Memory, Postgres optional)
	var store service.OrderStore
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			store = repository.NewRedisOrderStore(redisClient)
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory", "error", err)
		}
	}

	var audit service.SubmissionAudit
	var submissions *repository.PostgresSubmissionRepo
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			submissions = repository.NewPostgresSubmissionRepo(db)
			audit = submissions
		} else {
			logger.Error("Failed to connect to DB, submissions will not be audited", "error", err)
		}
	}

	// 5. Core Services
	sched := scheduler.New()
	hub := handler.NewHub()

	var ledgerWallet ledger.Wallet
	if wallet != nil {
		ledgerWallet = wallet
	}
	orch := service.NewOrchestrator(bindings, ledgerWallet, store, audit, sched, hub)
	sched.Subscribe(orch.OnOrderExpired)

	if submissions != nil {
		go cleanupLoop(submissions, cfg.Database.SubmissionRetentionDays)
	}

	// 6. Handlers
	orderHandler := handler.NewOrderHandler(orch, sender)
	collateralHandler := handler.NewCollateralHandler(orch, bindings, sender)

	// 7. Router
	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "marketgate"})
	})
	r.GET(cfg.Server.MetricsPath, gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(cfg))
	{
		v1.POST("/orders/trade", orderHandler.Trade)
		v1.POST("/orders/cancel", orderHandler.Cancel)
		v1.GET("/orders/:hash", orderHandler.GetOrder)
		v1.POST("/collateral/deposit", collateralHandler.Deposit)
		v1.POST("/collateral/withdraw", collateralHandler.Withdraw)
		v1.GET("/collateral/:contract/needed", collateralHandler.Needed)
		v1.GET("/collateral/:contract/balance", collateralHandler.Balance)
		v1.GET("/stream", hub.Serve)
	}

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("MarketGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sched.Unsubscribe()
	provider.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}

// cleanupLoop prunes old submission rows once a day.
func cleanupLoop(repo *repository.PostgresSubmissionRepo, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := repo.Cleanup(ctx, retention); err != nil {
			logger.Warn("submission cleanup failed", "error", err)
		}
		cancel()
	}
}
