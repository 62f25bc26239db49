package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/edavis/river/internal/archive"
	"github.com/edavis/river/internal/server/api"
	"github.com/edavis/river/internal/server/storage"
	"github.com/edavis/river/internal/state"
)

// apiKeyMiddleware rejects requests whose X-API-Key header does not
// match key. An empty key disables the check.
func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" {
				got := r.Header.Get("X-API-Key")
				if got == "" {
					http.Error(w, "API key required", http.StatusUnauthorized)
					return
				}
				if got != key {
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// newRouter assembles the routes and the request logging chain. stateDB
// may be nil, which leaves /v1/feeds answering 503.
func newRouter(arch *archive.Archive, stateDB *state.DB, logger zerolog.Logger) http.Handler {
	var repo storage.FeedStateRepository
	if stateDB != nil {
		repo = storage.NewRepository(stateDB)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/updates", api.NewUpdatesHandler(arch).GetUpdates)
	mux.HandleFunc("GET /v1/feeds", api.NewFeedsHandler(repo).GetFeeds)
	mux.HandleFunc("GET /health", handleHealth)

	chain := hlog.NewHandler(logger)(mux)
	chain = hlog.MethodHandler("method")(chain)
	chain = hlog.URLHandler("url")(chain)
	chain = hlog.RemoteAddrHandler("remote_addr")(chain)
	chain = hlog.UserAgentHandler("user_agent")(chain)
	chain = hlog.RequestIDHandler("req_id", "Request-Id")(chain)
	chain = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	})(chain)
	return chain
}

// RunServer starts the read-only HTTP API and blocks until a shutdown
// signal arrives or the listener fails. It serves archived updates and,
// when a state database is available, per-feed polling status. stateDB
// may be nil.
func RunServer(arch *archive.Archive, stateDB *state.DB, listenAddr string, logger zerolog.Logger, apiKey string) error {
	logger = logger.With().Str("service", "river-api").Logger()

	handler := newRouter(arch, stateDB, logger)
	if apiKey != "" {
		handler = apiKeyMiddleware(apiKey)(handler)
		logger.Info().Msg("API key authentication enabled")
	}

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-listenErr:
		return fmt.Errorf("server failed to start: %w", err)

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed, closing")
			httpServer.Close()
		}
		if err := <-listenErr; err != nil {
			logger.Error().Err(err).Msg("Listener error during shutdown")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// handleHealth reports liveness for monitoring probes.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	hlog.FromRequest(r).Debug().Msg("Health check")

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to write health response")
	}
}
