// Package main provides the API server entry point for the metal price cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metal-price-cache/internal/adapter"
	"github.com/metal-price-cache/internal/api"
	"github.com/metal-price-cache/internal/config"
	"github.com/metal-price-cache/internal/logging"
	"github.com/metal-price-cache/internal/ratelimit"
	"github.com/metal-price-cache/internal/service"
	"github.com/metal-price-cache/internal/storage"
)

func main() {
	fmt.Println("Metal Price Cache API Server")
	log.Println("Server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":       cfg.Logging.Level,
		"format":      cfg.Logging.Format,
		"environment": cfg.Environment,
	}).Info("Structured logging initialized")

	// Secondary snapshot store; the memory tier alone is enough to serve prices
	secondary, closeStore, err := storage.OpenSnapshotStore(cfg)
	if err != nil {
		logger.WithError(err).WithField("backend", cfg.Persistence.Backend).
			Warn("Secondary price store unavailable, continuing with memory only")
		secondary = nil
	}
	defer closeStore()

	cache := storage.NewPriceCache(storage.PersistenceCapability(cfg.Persistence.Capability), secondary)
	logger.WithFields(map[string]interface{}{
		"capability": cfg.Persistence.Capability,
		"backend":    cache.SecondaryName(),
	}).Info("Price cache initialized")

	quotaConfig := &ratelimit.QuotaConfig{MinAPIInterval: cfg.Cache.MinAPIInterval}
	if err := quotaConfig.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid upstream quota configuration")
	}
	logger.Info(quotaConfig.String())

	fetcher := adapter.NewMetalPriceClient(&cfg.MetalPrice)
	switch {
	case cfg.MetalPrice.APIKey == "":
		logger.Warn("METALPRICE_API_KEY not set, serving cached or estimated prices only")
	case fetcher.IsTestMode():
		logger.Info("METALPRICE_API_KEY is the test key, serving fixed test prices")
	}

	priceService := service.NewPriceService(cache, fetcher, ratelimit.NewQuotaGuard(quotaConfig), cfg.Cache.FreshnessWindow)

	if cfg.Admin.Key == "" {
		logger.Warn("ADMIN_KEY not set, admin endpoints are disabled")
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second, // upstream fetch alone may take 15s
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TrustedProxies:    cfg.RateLimit.TrustedProxies,
		AdminKey:          cfg.Admin.Key,
		Production:        cfg.IsProduction(),
	}

	server := api.NewServer(serverConfig, priceService)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.WithFields(map[string]interface{}{
		"stats": priceService.Stats(),
	}).Info("Server exited")
}
