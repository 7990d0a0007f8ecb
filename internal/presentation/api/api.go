package api

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/parley/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/parley/internal/presentation/handler/messages"
	presenceHandler "github.com/hilthontt/parley/internal/presentation/handler/presence"
	roomHandler "github.com/hilthontt/parley/internal/presentation/handler/rooms"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type Application struct {
	config          configs.HTTPConfig
	rateConfig      configs.RateLimiterConfig
	roomHandler     *roomHandler.Handler
	healthHandler   *healthHandler.Handler
	messagesHandler *messagesHandler.Handler
	presenceHandler *presenceHandler.Handler
	authenticator   Authenticator
	logger          logging.Logger
	ratelimiter     ratelimiter.Limiter
}

func NewApplication(
	config configs.HTTPConfig,
	rateConfig configs.RateLimiterConfig,
	roomHandler *roomHandler.Handler,
	healthHandler *healthHandler.Handler,
	messagesHandler *messagesHandler.Handler,
	presenceHandler *presenceHandler.Handler,
	authenticator Authenticator,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
) *Application {
	return &Application{
		config:          config,
		rateConfig:      rateConfig,
		roomHandler:     roomHandler,
		healthHandler:   healthHandler,
		messagesHandler: messagesHandler,
		presenceHandler: presenceHandler,
		authenticator:   authenticator,
		logger:          logger,
		ratelimiter:     ratelimiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.loggerMiddleware)
	r.Use(app.metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   app.config.AllowedHeaders,
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/debug/vars", expvar.Handler())
	r.Get("/health", app.healthHandler.GetHealth)
	r.Get("/healthz", app.healthHandler.GetHealth)
	r.Get("/live", app.healthHandler.GetHealth)
	r.Get("/ready", app.healthHandler.GetReady)

	// The websocket route must not inherit the request timeout: the
	// connection lives as long as the request context.
	r.With(app.rateLimiterMiddleware, app.authMiddleware).Get("/ws", app.presenceHandler.ConnectHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(app.rateLimiterMiddleware)
		r.Use(app.authMiddleware)
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/presence", app.presenceHandler.ListConnectedHandler)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", app.roomHandler.ListRoomsHandler)
			r.Post("/", app.roomHandler.CreateRoomHandler)
			r.Get("/{roomId}/history", app.roomHandler.HistoryHandler)
			r.Get("/{roomId}/participants", app.roomHandler.ParticipantsHandler)
			r.Get("/{roomId}/audit", app.roomHandler.AuditHandler)
			r.Post("/{roomId}/join", app.roomHandler.JoinRoomHandler)
			r.Post("/{roomId}/invite", app.roomHandler.InviteHandler)
			r.Post("/{roomId}/out", app.roomHandler.OutRoomHandler)
			r.Post("/{roomId}/leave", app.roomHandler.LeaveRoomHandler)
			r.Post("/{roomId}/messages", app.messagesHandler.CreateNewMessageHandler)
		})
	})

	return otelhttp.NewHandler(r, "parley.http")
}

// Run serves mux until ctx is cancelled, then shuts the server down
// gracefully.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.Host, app.config.Port),
		Handler:      mux,
		WriteTimeout: app.config.WriteTimeout,
		ReadTimeout:  app.config.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.logger.Info(logging.General, logging.Shutdown, "server is stopping", map[logging.ExtraKey]any{
			"addr": srv.Addr,
		})
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})
	return nil
}
