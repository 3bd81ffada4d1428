package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nicolasvandooren/dicom-forwarder/internal/cache"
	"github.com/nicolasvandooren/dicom-forwarder/internal/config"
	"github.com/nicolasvandooren/dicom-forwarder/internal/database"
	"github.com/nicolasvandooren/dicom-forwarder/internal/handlers"
	"github.com/nicolasvandooren/dicom-forwarder/internal/middleware"
	"github.com/nicolasvandooren/dicom-forwarder/internal/repository"
	"github.com/nicolasvandooren/dicom-forwarder/internal/services"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting DICOM Forwarder")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Type == "redis" {
			addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to connect to Redis")
			}
			log.Info().Msg("Redis cache initialized")
		} else {
			cacheImpl = cache.NewMemoryCache()
			log.Info().Msg("Memory cache initialized")
		}
	} else {
		cacheImpl = cache.NewMemoryCache() // Fallback
		log.Info().Msg("Cache disabled, using memory cache as fallback")
	}

	// Initialize repositories
	destRepo := repository.NewDestinationRepository()
	auditRepo := repository.NewAuditRepository()

	// Initialize services
	destService := services.NewDestinationService(destRepo, cacheImpl, cfg.DICOM)
	gateway := services.NewGateway(cfg.DICOM, destService, auditRepo, cacheImpl)
	defer gateway.Close()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cacheImpl)
	destinationsHandler := handlers.NewDestinationsHandler(destService)
	auditHandler := handlers.NewAuditHandler(auditRepo)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.Server.APIKey))

		// Destination configuration
		r.Post("/destinations", destinationsHandler.Create)
		r.Get("/destinations", destinationsHandler.List)
		r.Get("/destinations/{id}", destinationsHandler.Get)
		r.Put("/destinations/{id}", destinationsHandler.Update)
		r.Delete("/destinations/{id}", destinationsHandler.Delete)
		r.Post("/destinations/{id}/test", destinationsHandler.Test)

		// Audit trail
		r.Get("/audit", auditHandler.List)
		r.Get("/audit/{sopInstanceUID}", auditHandler.Trail)
	})

	// Start the store SCP in a goroutine
	scpCtx, scpCancel := context.WithCancel(context.Background())
	defer scpCancel()

	go func() {
		if err := gateway.Run(scpCtx); err != nil {
			log.Fatal().Err(err).Msg("Store SCP failed")
		}
	}()

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting associations, then drain HTTP
	scpCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
