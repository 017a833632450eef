package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// HTTP API
// ============================================================================
// Small read-only HTTP surface next to the WS endpoint: a health check and a
// one-shot state snapshot. Both go through the event loop so they never touch
// DaemonState directly.
// ============================================================================

// newHTTPMux builds the daemon's HTTP routes. ws is registered on /ws.
func newHTTPMux(ws *Server, events chan<- Event, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		reply := make(chan StateSnapshot, 1)

		waitCtx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		select {
		case events <- RequestStateSnapshot{Reply: reply}:
		case <-waitCtx.Done():
			http.Error(w, "state unavailable", http.StatusServiceUnavailable)
			return
		}

		select {
		case snap := <-reply:
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(snap); err != nil {
				logger.Warn("state response encode failed", "error", err)
			}
		case <-waitCtx.Done():
			http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		}
	})

	if ws != nil {
		ws.Register(mux, "/ws")
	}

	return mux
}

// runHTTPServer starts the HTTP server on the specified port and shuts it
// down gracefully when ctx is canceled.
//
// This replaces http.ListenAndServe so we can call Server.Shutdown during
// program shutdown.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("http server listening", "port", port)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// Graceful shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
