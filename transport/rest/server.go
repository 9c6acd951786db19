package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Start runs the HTTP API until the context is cancelled.
func Start(ctx context.Context, port string, handlers *Handlers) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", handlers.Ping)

	mux.Handle("POST /api/matches", handlers.withPlayer(handlers.CreateMatch))
	mux.Handle("GET /api/matches", handlers.withPlayer(handlers.RecentMatches))
	mux.Handle("POST /api/matches/{id}/join", handlers.withPlayer(handlers.JoinMatch))
	mux.Handle("POST /api/signup", handlers.withPlayer(handlers.Signup))
	mux.Handle("POST /api/login", handlers.withPlayer(handlers.Login))
	mux.Handle("POST /api/logout", handlers.withPlayer(handlers.Logout))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
