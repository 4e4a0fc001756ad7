// Package smsservice wires the SMS command pipeline service and runs its
// HTTP server.
package smsservice

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/api"
	"github.com/textmit/textmit/internal/api/recovery"
	"github.com/textmit/textmit/internal/config"
	"github.com/textmit/textmit/internal/health"
	"github.com/textmit/textmit/internal/identity"
	"github.com/textmit/textmit/internal/logger"
	"github.com/textmit/textmit/internal/orchestrator"
	"github.com/textmit/textmit/internal/shortcode"
	"github.com/textmit/textmit/internal/smsgateway"
	"github.com/textmit/textmit/internal/store"
	"github.com/textmit/textmit/internal/store/postgres"
	"github.com/textmit/textmit/internal/store/sqlite"
	"github.com/textmit/textmit/internal/taskapi"
	"github.com/textmit/textmit/internal/validator"
)

// Run starts the SMS service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("sms-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("task_api", cfg.TaskAPIBaseURL).
		Msg("SMS service starting")

	// Cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	st, err := newStore(cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store unavailable")
		return err
	}

	tasks := newTaskClient(cfg)
	sender := newSender(cfg, log)
	pipeline := newPipeline(cfg, log, st, tasks, sender)

	router := buildRouter(pipeline, log)

	startHealthCheckers(ctx, cfg, log, st, tasks)
	go purgeExpiredEntries(ctx, cfg, log, st)

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

func newStore(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Using postgres store")
		return postgres.NewWithDB(db), nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("Using sqlite store")
		return sqlite.New(db), nil
	}
}

func newTaskClient(cfg *config.Config) *taskapi.Client {
	session := identity.NewSession(cfg.AuthDomain, cfg.AuthClientID, cfg.AuthClientSecret, cfg.AuthAudience)
	return taskapi.New(cfg.TaskAPIBaseURL, session)
}

// newSender falls back to a logging sender when no gateway is configured, so
// development environments run without an outbound channel.
func newSender(cfg *config.Config, log zerolog.Logger) smsgateway.Sender {
	gw, err := smsgateway.NewHTTPGateway(cfg.SMSGatewayURL, cfg.SMSOriginNumber, cfg.SMSConfigurationSet)
	if err != nil {
		log.Warn().Err(err).Msg("SMS gateway not configured, outbound sends will be logged only")
		return smsgateway.NopSender{Log: log}
	}
	return gw
}

func newPipeline(cfg *config.Config, log zerolog.Logger, st store.Store, tasks orchestrator.TaskAPI, sender smsgateway.Sender) *orchestrator.Pipeline {
	v := validator.New(st, cfg.HourlyRateLimit, cfg.DailyCommandLimit, cfg.FailOpenOnLimitError, log)
	g := shortcode.NewGenerator(st.TaskCodes().Exists)
	return orchestrator.New(v, g, st, tasks, sender, log)
}

// buildRouter wires HTTP routes to handlers.
func buildRouter(pipeline *orchestrator.Pipeline, log zerolog.Logger) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	inbound := api.NewInboundHandler(pipeline, log)
	root.HandleFunc("/api/inbound", inbound.HandleInbound).Methods("POST")

	healthHandler := api.NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	return root
}

// startHealthCheckers starts component checkers and the service-level
// aggregator, and binds the health endpoint to it.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, tasks *taskapi.Client) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.HealthChecker
	if p, ok := st.(health.HealthPinger); ok {
		c := health.NewComponentChecker("store", p, log, probeTimeout)
		go c.Start(ctx, interval)
		checkers = append(checkers, c)
	}
	taskChecker := health.NewComponentChecker("taskapi", tasks, log, probeTimeout)
	go taskChecker.Start(ctx, interval)
	checkers = append(checkers, taskChecker)

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth
}

// purgeExpiredEntries periodically removes rate-limit entries past their
// expiry so the sliding-window table stays small.
func purgeExpiredEntries(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store) {
	interval := time.Duration(cfg.RateLimitPurgeMinutes) * time.Minute
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.RateLimits().PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("rate limit purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("rate limit entries purged")
			}
		}
	}
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
