package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/blagoySimandov/ampleadmin/internal/api"
	"github.com/blagoySimandov/ampleadmin/internal/config"
	"github.com/blagoySimandov/ampleadmin/internal/crud"
	"github.com/blagoySimandov/ampleadmin/internal/db"
	"github.com/blagoySimandov/ampleadmin/internal/entities"
	"github.com/blagoySimandov/ampleadmin/internal/events"
	"github.com/blagoySimandov/ampleadmin/internal/logger"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/record"
	"github.com/blagoySimandov/ampleadmin/internal/tags"
	"github.com/blagoySimandov/ampleadmin/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Configure(cfg.LogLevel, cfg.LogFormat)

	bdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer bdb.Close()

	store, err := uploads.Open(context.Background(), cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open upload store")
	}
	if c, ok := store.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Log.Error().Err(err).Msg("Failed to close upload store")
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := crud.NewEngine(bdb, metadata.NewRegistry(bdb), record.NewBuilder(store),
		crud.WithDebug(cfg.Debug),
		crud.WithPublisher(events.NewLogPublisher(logger.Log)),
		crud.WithMetrics(crud.NewMetrics(reg)),
	)
	if err := entities.Register(engine, tags.NewService()); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to register entities")
	}

	handler := api.NewCRUDHandler(engine, int64(cfg.UploadMaxMemory))
	router := api.SetupRoutes(handler, bdb, api.RouterConfig{
		CORSOrigin: cfg.CORSOrigin,
		Gatherer:   reg,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	logger.Log.Info().
		Str("addr", cfg.ServerAddr).
		Str("database_driver", cfg.DatabaseDriver).
		Str("upload_driver", store.Driver()).
		Strs("entities", engine.Registry.Names()).
		Msg("Server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log.Fatal().Err(err).Msg("Server failed to start")
	}

	logger.Log.Info().Msg("Server stopped")
}
