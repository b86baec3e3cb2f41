// Package app wires the marketplace API: storage, domain services, event
// publishing, HTTP routing, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chocomarket/backend/internal/domain/auth"
	"github.com/chocomarket/backend/internal/domain/cart"
	"github.com/chocomarket/backend/internal/domain/order"
	"github.com/chocomarket/backend/internal/events"
	"github.com/chocomarket/backend/internal/handler"
	"github.com/chocomarket/backend/internal/storage/postgres"
	"github.com/chocomarket/backend/pkg/health"
	"github.com/chocomarket/backend/pkg/httpmiddleware"
)

func init() {
	// Money fields marshal as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health probes.
	probes := health.New(5 * time.Second)
	probes.AddReady("postgres", health.Ping(pool))
	probes.AddLive("goroutines", health.Goroutines(10000))
	probes.SetReady(true)

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	tokenRepo := postgres.NewRefreshTokenRepository(pool)

	// Order event publisher, if a broker is configured.
	var orderEvents order.Events = order.NopEvents{}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.OrderQueue)
		if err != nil {
			return errors.Wrap(err, "connect rabbitmq")
		}
		defer publisher.Close()
		orderEvents = publisher
		lg.Info("Order events enabled", zap.String("queue", cfg.OrderQueue))
	}

	// Domain services.
	tokenManager, err := auth.NewTokenManager([]byte(cfg.TokenKey))
	if err != nil {
		return errors.Wrap(err, "create token manager")
	}
	authService := auth.NewService(userRepo, tokenRepo, tokenManager)
	cartService := cart.NewService(cartRepo, productRepo)
	orderService := order.NewService(userRepo, cartRepo, productRepo, orderRepo, orderEvents)

	// Router: health endpoints + API routes on one server.
	h := handler.NewHandler(authService, cartService, orderService)
	router := chi.NewRouter()
	router.Get("/livez", probes.Live)
	router.Get("/readyz", probes.Ready)
	router.Route("/api", h.Routes)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("chocomarket-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		probes.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
