package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"trade-core/src/config"
	"trade-core/src/feed"
	"trade-core/src/handlers"
	"trade-core/src/journal"
	"trade-core/src/logger"
	"trade-core/src/middleware"
	"trade-core/src/publisher"
	"trade-core/src/routes"
	"trade-core/src/snapshot"
	"trade-core/src/store"
	"trade-core/src/trading"
)

func main() {
	cfg := config.Load(os.Getenv("ENV_FILE"))

	logger.InitLogger(cfg.Log)
	log := logger.GetLogger()

	log.Info().Strs("symbols", cfg.Symbols).Msg("Initializing trade core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		sinks   []snapshot.Sink
		closers []func() error
		fills   *journal.Journal
	)

	if cfg.Sinks.SnapshotDB != "" {
		db, err := store.Open(cfg.Sinks.SnapshotDB)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Sinks.SnapshotDB).Msg("Failed to open snapshot store")
		}
		sinks = append(sinks, db)
		closers = append(closers, db.Close)
	}
	if cfg.Sinks.JournalDir != "" {
		j, err := journal.Open(cfg.Sinks.JournalDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Sinks.JournalDir).Msg("Failed to open fill journal")
		}
		fills = j
		sinks = append(sinks, j)
		closers = append(closers, j.Close)
	}
	if len(cfg.Sinks.KafkaBrokers) > 0 {
		p := publisher.New(cfg.Sinks.KafkaBrokers, cfg.Sinks.KafkaTopic)
		sinks = append(sinks, p)
		closers = append(closers, p.Close)
	}

	dispatcher := snapshot.NewDispatcher(cfg.Sinks.QueueSize, logger.Component("snapshot"), sinks...)
	dispatcher.Start(ctx)

	exchange := trading.NewExchange(logger.Component("trading"), dispatcher, cfg.Symbols...)

	orderHandler := handlers.NewOrderHandler(exchange, cfg.API)
	orderHandler.Snapshots = dispatcher
	// edge case: leave the interface nil so the endpoint reports the journal as disabled
	if fills != nil {
		orderHandler.Fills = fills
	}

	feedDone := make(chan struct{})
	if cfg.Feed.URL != "" {
		client := feed.NewClient(cfg.Feed.URL, func(t feed.Tick) error {
			_, err := exchange.OnPriceUpdate(t.Symbol, t.Price)
			return err
		}, logger.Component("feed"))
		go func() {
			defer close(feedDone)
			_ = client.Run(ctx)
		}()
	} else {
		close(feedDone)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	routes.SetupRoutes(app, orderHandler, middleware.NewServiceAvailability(cfg.Availability), cfg)

	port := ":" + cfg.Server.Port
	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			// edge case: ignore shutdown errors, only report real errors
			if err.Error() != "server is shutting down" {
				serverError <- err
			}
		}
	}()

	log.Info().
		Str("port", port).
		Int("sinks", len(sinks)).
		Bool("feed", cfg.Feed.URL != "").
		Msg("Trade core started")
	log.Info().
		Strs("endpoints", routes.Endpoints()).
		Msg("API endpoints registered")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-serverError:
		log.Error().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
			Msg("Server failed to start")
	case <-quit:
		log.Info().Msg("Received shutdown signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", cfg.Server.ShutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().
				Err(err).
				Msg("Error during shutdown")
		}
	}

	cancel()
	<-feedDone

	// queued snapshots are flushed before the sinks close
	dispatcher.Close()
	stats := dispatcher.Stats()
	log.Info().
		Int64("delivered", stats.Delivered).
		Int64("dropped", stats.Dropped).
		Int64("failed", stats.Failed).
		Msg("Snapshot dispatcher drained")

	for _, closeSink := range closers {
		if err := closeSink(); err != nil {
			log.Error().Err(err).Msg("Error closing sink")
		}
	}

	log.Info().Msg("Shutdown complete")
	logger.CloseLogger()
}
