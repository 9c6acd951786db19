package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/ninebox/ninebox-backend/internal/broadcast"
	"github.com/ninebox/ninebox-backend/internal/clock"
	"github.com/ninebox/ninebox-backend/internal/config"
	"github.com/ninebox/ninebox-backend/internal/repository"
	"github.com/ninebox/ninebox-backend/internal/repository/storage"
	"github.com/ninebox/ninebox-backend/internal/usecase"
	"github.com/ninebox/ninebox-backend/transport/rest"
	"github.com/ninebox/ninebox-backend/transport/websocket"
)

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	sqliteStorage, err := storage.New(conf.SQLiteStoragePath)
	if err != nil {
		return fmt.Errorf("could not open sqlite storage: %w", err)
	}

	defer func() {
		if err = sqliteStorage.Close(); err != nil {
			log.Error("could not close sqlite storage", "error", err)
		}
	}()

	matchRepo, err := repository.NewMatchRepository(ctx, sqliteStorage.Connection)
	if err != nil {
		return fmt.Errorf("could not init match repository: %w", err)
	}

	playerRepo, err := repository.NewPlayerRepository(ctx, sqliteStorage.Connection)
	if err != nil {
		return fmt.Errorf("could not init player repository: %w", err)
	}

	clocks := clock.NewRegistry(clockwork.NewRealClock())
	defer clocks.Shutdown()

	hub := websocket.NewHub(logger)
	notifiers := broadcast.Multi{hub}

	if conf.Redis.Enabled() {
		publisher, pubErr := broadcast.NewPublisher(ctx, logger, conf.Redis.GetRedisAddr())
		if pubErr != nil {
			return fmt.Errorf("could not connect to redis publisher: %w", pubErr)
		}

		defer func() {
			if err = publisher.Close(); err != nil {
				log.Error("could not close redis publisher", "error", err)
			}
		}()

		notifiers = append(notifiers, publisher)
	}

	matchManager := usecase.NewMatchManager(logger, matchRepo, playerRepo, clocks, notifiers, clockwork.NewRealClock())

	// re-arm clocks for matches that were live before the last shutdown
	if err = matchManager.Recover(ctx); err != nil {
		return fmt.Errorf("could not recover active matches: %w", err)
	}

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		handlers := rest.NewHandlers(logger, matchManager)
		if httpErr := rest.Start(ctx, conf.HTTPPort, handlers); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, matchManager, hub)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
