/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lot engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, optional .env, flags)
  2. Configure the zerolog logger
  3. Initialize SQLite store and back-fill legacy packaging rows
  4. Wire collaborators (HTTP services or static in-process versions)
  5. Create engine, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -db      SQLite database path; ":memory:" for an in-memory database

ENVIRONMENT:
  PORT, APP_ENV, LOG_LEVEL, DB_PATH, CORS_ORIGINS, INVENTORY_URL,
  VESSELS_URL, RECIPES_URL, HTTP_TIMEOUT, VOLUME_TOLERANCE, DEFAULT_ACTOR
  See config/config.go for defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - lot/engine.go: Engine options
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brewline/lot-engine/api"
	"github.com/brewline/lot-engine/config"
	"github.com/brewline/lot-engine/external"
	"github.com/brewline/lot-engine/lot"
	"github.com/brewline/lot-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Structured logger: pretty in development, JSON in production
	zerolog.SetGlobalLevel(cfg.Level())
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.Logger.With().Str("service", "lot-engine").Logger()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Collaborators
	opts := []lot.Option{
		lot.WithLogger(logger.With().Str("component", "engine").Logger()),
		lot.WithTolerance(cfg.Tolerance()),
	}
	handlerOpts := []api.HandlerOption{
		api.WithLogger(logger.With().Str("component", "api").Logger()),
		api.WithResetter(store),
		api.WithDefaultActor(cfg.DefaultActor),
	}

	if cfg.InventoryURL != "" {
		opts = append(opts, lot.WithInventory(external.NewInventoryClient(cfg.InventoryURL, cfg.HTTPTimeout)))
	} else {
		opts = append(opts, lot.WithInventory(external.NewStaticInventory(external.DemoStock())))
	}
	if cfg.VesselsURL != "" {
		opts = append(opts, lot.WithVessels(external.NewVesselClient(cfg.VesselsURL, cfg.HTTPTimeout)))
	} else {
		vessels := external.NewStaticVessels(external.DemoVessels()...)
		opts = append(opts, lot.WithVessels(vessels))
		handlerOpts = append(handlerOpts, api.WithVesselRegistry(vessels))
	}
	if cfg.RecipesURL != "" {
		opts = append(opts, lot.WithRecipes(external.NewRecipeClient(cfg.RecipesURL, cfg.HTTPTimeout)))
	} else {
		opts = append(opts, lot.WithRecipes(external.NewStaticRecipes(external.DemoRecipes()...)))
	}
	logger.Info().
		Bool("inventory_remote", cfg.InventoryURL != "").
		Bool("vessels_remote", cfg.VesselsURL != "").
		Bool("recipes_remote", cfg.RecipesURL != "").
		Msg("collaborators configured")

	engine := lot.NewEngine(store, opts...)

	// Attach legacy packaging rows that only carry a lot code
	ctx := context.Background()
	if n, err := engine.BackfillPackagingLotRefs(ctx); err != nil {
		logger.Warn().Err(err).Msg("packaging back-fill failed")
	} else if n > 0 {
		logger.Info().Int("runs", n).Msg("back-filled packaging lot references")
	}

	handler := api.NewHandler(engine, handlerOpts...)
	router := api.NewRouter(handler, cfg.Origins())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		logger.Info().Int("port", *port).Str("db", *dbPath).Str("env", cfg.Env).Msg("lot engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server exited")
}
