package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"brickcache-api/internal/app"
	"brickcache-api/internal/config"
	"brickcache-api/internal/handler"
	"brickcache-api/internal/logging"
	"brickcache-api/internal/middleware"
	"brickcache-api/internal/router"

	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()
	logging.Setup(cfg.App.LogLevel, cfg.App.IsDevelopment())
	log.Info().Msgf("Starting %s %s (%s)...", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	if cfg.Refresh.Enabled {
		a.Refresh.Start()
	} else {
		log.Info().Msg("Scheduled price refresh disabled")
	}

	checks := map[string]handler.Pinger{"database": a.Repo}
	if p, ok := a.Cache.(handler.Pinger); ok {
		checks["cache"] = p
	}
	sizer, _ := a.Cache.(handler.Sizer)

	// Initialize handlers
	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Version, checks),
		CatalogHandler:   handler.NewCatalogHandler(a.Catalog),
		InventoryHandler: handler.NewInventoryHandler(a.Catalog),
		AdminHandler:     handler.NewAdminHandler(a.Catalog, a.Refresh, a.Repo, sizer, cfg.MetadataDB.Type, cfg.Cache.Type),
		RunLogHandler:    handler.NewRunLogHandler(a.Repo),
		AuthMiddleware:   middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeys: cfg.App.APIKeys}),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Stop the refresher and drain background fetches before closing storage
	a.Close(ctx)

	log.Info().Msg("Server stopped")
}
