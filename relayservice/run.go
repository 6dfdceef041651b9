package relayservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/pmrelay/pmrelay/internal/api"
	"github.com/pmrelay/pmrelay/internal/config"
	"github.com/pmrelay/pmrelay/internal/dispatch"
	"github.com/pmrelay/pmrelay/internal/factory"
	"github.com/pmrelay/pmrelay/internal/health"
	"github.com/pmrelay/pmrelay/internal/logger"
	"github.com/pmrelay/pmrelay/internal/pinrenew"
	"github.com/pmrelay/pmrelay/internal/registry"
	"github.com/pmrelay/pmrelay/internal/store"
)

// Run starts the relay HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("pmrelay")

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("store_driver", cfg.StoreDriver).
		Int("http_port", cfg.HTTPPort).
		Str("webhook_prefix", cfg.WebhookPrefix).
		Int("bots", len(cfg.Bots)).
		Msg("Relay starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	stores, err := factory.NewStores(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn().Err(err).Msg("Close store")
		}
	}()

	bots, err := registry.New(cfg, stores, log)
	if err != nil {
		return err
	}

	executor := dispatch.NewExecutor(dispatch.Config{
		Shards:      cfg.DispatchShards,
		QueueSize:   cfg.DispatchQueueSize,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Logger:      log,
		ErrorHandler: func(key string, err error) {
			log.Warn().Err(err).Str("key", key).Msg("Update dropped")
		},
	})
	defer executor.Stop()

	if err := startPinRenewal(ctx, cfg, bots, log); err != nil {
		return err
	}

	svcHealth := startHealthCheckers(ctx, cfg, log, stores, bots)

	webhook := api.NewWebhookHandler(bots, executor, cfg.SecretToken, time.Minute)
	router := api.NewRouter(log, cfg.WebhookPrefix, webhook, api.NewHealthHandler(svcHealth.IsHealthy))

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		// accepted updates still run before the store closes
		executor.Stop()
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// startPinRenewal schedules renewal of the configured bots' pinned documents.
func startPinRenewal(ctx context.Context, cfg *config.Config, bots *registry.Registry, log zerolog.Logger) error {
	if !cfg.PinRenewEnabled || cfg.StoreDriver != config.StoreTelegram {
		return nil
	}
	if len(cfg.Bots) == 0 {
		log.Warn().Msg("PMRELAY_BOTS is empty; pins are only renewed on /init and /checkinit")
		return nil
	}
	source := func(context.Context) ([]pinrenew.Bot, error) { return bots.RenewalBots(), nil }
	worker, err := pinrenew.NewWorker(cfg.PinRenewCron, cfg.PinRenewMaxAge(), source, log.With().Str("component", "pinrenew").Logger())
	if err != nil {
		return err
	}
	worker.Start(ctx)
	return nil
}

// startHealthCheckers starts component checkers and service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, stores *factory.Stores, bots *registry.Registry) *health.ServiceHealthChecker {
	var checkers []health.HealthChecker
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	if docs := stores.Shared(); docs != nil {
		storeChecker := store.NewStoreHealthChecker(docs, log, probeTimeout)
		go storeChecker.Start(ctx, interval)
		checkers = append(checkers, storeChecker)
	}

	for _, c := range bots.Clients() {
		botChecker := health.NewPingChecker(fmt.Sprintf("telegram-%d", c.BotID()), c, log, probeTimeout)
		go botChecker.Start(ctx, interval)
		checkers = append(checkers, botChecker)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
