// Command dispatchd is the dispatch-core composition root: it wires the
// Spatial Driver Index, Two-Phase Location Sync, Offer Manager, Connection
// Registry, and Ingress/Egress Adapters into one HTTP+WebSocket process.
// Grounded on the teacher's cmd/geo/main.go composition sequence (config ->
// logger -> Sentry -> tracer -> collaborators -> gin router -> server ->
// graceful shutdown), extended with a Postgres pool (the teacher's geo
// service never needed one; the Durable Store does) and two background
// loops (the Expiry Reaper and the Location Sync Worker) started alongside
// the HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/richxcame/dispatch-core/internal/dispatch"
	"github.com/richxcame/dispatch-core/internal/durable"
	"github.com/richxcame/dispatch-core/internal/geo"
	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/internal/realtime"
	"github.com/richxcame/dispatch-core/internal/registry"
	"github.com/richxcame/dispatch-core/internal/routing"
	"github.com/richxcame/dispatch-core/internal/syncworker"
	"github.com/richxcame/dispatch-core/pkg/common"
	"github.com/richxcame/dispatch-core/pkg/config"
	"github.com/richxcame/dispatch-core/pkg/database"
	dispatcherrors "github.com/richxcame/dispatch-core/pkg/errors"
	"github.com/richxcame/dispatch-core/pkg/eventbus"
	"github.com/richxcame/dispatch-core/pkg/jwtkeys"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"github.com/richxcame/dispatch-core/pkg/middleware"
	"github.com/richxcame/dispatch-core/pkg/models"
	"github.com/richxcame/dispatch-core/pkg/ratelimit"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"github.com/richxcame/dispatch-core/pkg/resilience"
	"github.com/richxcame/dispatch-core/pkg/tracing"
	"github.com/richxcame/dispatch-core/pkg/validation"
	ws "github.com/richxcame/dispatch-core/pkg/websocket"
)

const (
	serviceName = "dispatch-core"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting dispatch-core",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	if err := dispatcherrors.InitSentry(dispatcherrors.DefaultSentryConfig()); err != nil {
		logger.Warn("failed to initialize sentry, continuing without it", zap.Error(err))
	} else {
		defer dispatcherrors.Flush(2 * time.Second)
	}

	tracerEnabled := os.Getenv("OTEL_ENABLED") == "true"
	if tracerEnabled {
		tracerCfg := tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        true,
		}
		tp, err := tracing.InitTracer(tracerCfg, logger.Get())
		if err != nil {
			logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to shut down tracer", zap.Error(err))
				}
			}()
			logger.Info("opentelemetry tracing initialized")
		}
	}

	redisClient, err := dispatchredis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	pgPool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(pgPool)
	logger.Info("connected to database")

	var bus *eventbus.Bus
	if busURL := os.Getenv("NATS_URL"); busURL != "" {
		busCfg := eventbus.DefaultConfig()
		busCfg.URL = busURL
		busCfg.Name = serviceName
		bus, err = eventbus.New(busCfg)
		if err != nil {
			logger.Warn("failed to connect to event bus, continuing without it", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			logger.Info("connected to event bus")
		}
	}

	positions := geo.NewPositionStore(redisClient, cfg.Dispatch.PositionTTL())
	durableStore := durable.NewStore(pgPool)

	routingBreaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "routing-provider",
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	}, nil)
	routingTimeout := time.Duration(cfg.Dispatch.RoutingTimeoutMs) * time.Millisecond
	if routingTimeout <= 0 {
		routingTimeout = 2 * time.Second
	}
	routingProvider := routing.NewHTTPProvider(cfg.Dispatch.RoutingServiceURL, routingTimeout, cfg.Dispatch.AssumedSpeedKmh, routingBreaker)
	nearby := geo.NewNearbyQuery(positions, durableStore, routingProvider, cfg.Dispatch.MaxSearchRings)

	hub := ws.NewHub()
	go hub.Run()

	reg := registry.NewRegistry(hub, positions)
	manager := dispatch.NewManager(redisClient, positions, reg, bus, durableStore)
	reaper := dispatch.NewExpiryReaper(manager, time.Second)
	go reaper.Start(rootCtx)

	syncWorker := syncworker.NewWorker(redisClient, positions, durableStore)
	syncWorker.SetInterval(cfg.Dispatch.SyncCadence())
	go syncWorker.Start(rootCtx)

	realtime.NewAdapter(hub, positions, manager) // registers its wire-event handlers on the hub
	realtimeHandler := realtime.NewHandler(hub)

	keyManager, err := jwtkeys.NewManagerFromConfig(rootCtx, cfg.JWT, true)
	if err != nil {
		logger.Fatal("failed to initialize jwt key manager", zap.Error(err))
	}
	keyManager.StartAutoRefresh(rootCtx, time.Duration(cfg.JWT.RefreshMinutes)*time.Minute)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(common.NoRouteHandler())
	router.NoMethod(common.NoMethodHandler())

	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit)

	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Timeout.DefaultRequestTimeoutDuration()))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(limiter, cfg.RateLimit))
	if tracerEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	router.Use(middleware.ErrorHandler())

	healthChecks := map[string]func() error{
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		},
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pgPool.Ping(ctx)
		},
	}

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/")
	authed.Use(middleware.AuthMiddlewareWithProvider(keyManager))
	authed.GET("/ws", realtimeHandler.HandleWebSocket)
	authed.GET("/connections/stats", realtimeHandler.GetStats)

	authed.GET("/drivers/nearby", handleFindNearby(nearby))
	authed.POST("/rides/request", handleRequestRide(nearby, manager, routingProvider))

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	admin.POST("/sync/trigger", middleware.Idempotency(redisClient), func(c *gin.Context) {
		syncWorker.TriggerNow()
		c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
	})
	admin.GET("/sync/status", func(c *gin.Context) {
		status := syncWorker.Status()
		c.JSON(http.StatusOK, gin.H{
			"started_at":  status.StartedAt,
			"finished_at": status.FinishedAt,
			"snapshot":    status.Snapshot,
			"persisted":   status.Persisted,
			"failed":      status.Failed,
			"error":       errString(status.Err),
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancelRoot()
	syncWorker.Stop()
	reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// handleFindNearby exposes the Nearby-Driver Query over HTTP, letting a
// rider preview candidates before committing to handleRequestRide.
func handleFindNearby(query *geo.NearbyQuery) gin.HandlerFunc {
	return func(c *gin.Context) {
		lat, err := strconv.ParseFloat(c.Query("lat"), 64)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid or missing lat")
			return
		}
		lng, err := strconv.ParseFloat(c.Query("lng"), 64)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid or missing lng")
			return
		}
		if err := validation.ValidateCoordinates(lat, lng); err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		result, err := query.FindNearby(c.Request.Context(), lat, lng, geo.DefaultConstraints())
		if common.HandleServiceError(c, err, "failed to query nearby drivers") {
			return
		}
		common.SuccessResponse(c, result)
	}
}

type rideRequestBody struct {
	Pickup      geocell.LatLng `json:"pickup"`
	Destination geocell.LatLng `json:"destination"`
}

// handleRequestRide is the rider-facing entry point into the Offer
// Manager: it runs the Nearby-Driver Query against pickup, estimates
// fare from the routing provider's pickup->destination distance, and
// opens an Offer against the surviving candidates — spec.md's
// precondition that openOffer's recipients come from the Nearby Query.
func handleRequestRide(query *geo.NearbyQuery, manager *dispatch.Manager, router routing.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body rideRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validation.ValidateCoordinates(body.Pickup.Lat, body.Pickup.Lng); err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid pickup: "+err.Error())
			return
		}
		if err := validation.ValidateCoordinates(body.Destination.Lat, body.Destination.Lng); err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid destination: "+err.Error())
			return
		}

		riderID, err := middleware.GetUserID(c)
		if err != nil {
			common.ErrorResponse(c, http.StatusUnauthorized, "missing rider identity")
			return
		}

		ctx := c.Request.Context()
		result, err := query.FindNearby(ctx, body.Pickup.Lat, body.Pickup.Lng, geo.DefaultConstraints())
		if common.HandleServiceError(c, err, "failed to search for nearby drivers") {
			return
		}
		if len(result.Candidates) == 0 {
			common.ErrorResponse(c, http.StatusConflict, "no drivers available nearby")
			return
		}

		recipients := make([]uuid.UUID, len(result.Candidates))
		for i, candidate := range result.Candidates {
			recipients[i] = candidate.DriverID
		}

		route, _ := router.Route(ctx, body.Pickup, body.Destination) // best-effort; never errors, see internal/routing
		distanceKm := route.DistanceMeters / 1000
		fare := estimateFare(distanceKm)

		offer, err := manager.OpenOffer(ctx, riderID, body.Pickup, body.Destination, recipients, fare, distanceKm)
		if common.HandleServiceError(c, err, "failed to open ride offer") {
			return
		}
		common.SuccessResponse(c, offer)
	}
}

// estimateFare applies a flat base fare plus a per-kilometer rate.
// Pricing itself is out of scope; this only supplies openOffer's
// required fare argument from the distance the routing provider (or
// its haversine fallback) already computed.
func estimateFare(distanceKm float64) float64 {
	const baseFare = 2.5
	const perKmRate = 1.1
	return baseFare + perKmRate*distanceKm
}
