package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/playroom-live/playroom/backend/go/internal/v1/audit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/auth"
	"github.com/playroom-live/playroom/backend/go/internal/v1/bus"
	"github.com/playroom-live/playroom/backend/go/internal/v1/config"
	"github.com/playroom-live/playroom/backend/go/internal/v1/game"
	"github.com/playroom-live/playroom/backend/go/internal/v1/health"
	"github.com/playroom-live/playroom/backend/go/internal/v1/logging"
	"github.com/playroom-live/playroom/backend/go/internal/v1/middleware"
	"github.com/playroom-live/playroom/backend/go/internal/v1/ratelimit"
	"github.com/playroom-live/playroom/backend/go/internal/v1/storage"
	"github.com/playroom-live/playroom/backend/go/internal/v1/tracing"
	"github.com/playroom-live/playroom/backend/go/internal/v1/transport"
	"github.com/playroom-live/playroom/backend/go/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	developmentMode := cfg.DevelopmentMode
	if developmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(developmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	// --- Tracing (optional) ---
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "gameserver", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracer, continuing without tracing", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(ctx)
			}()
		}
	}

	// --- Auth ---
	skipAuth := cfg.SkipAuth
	if !skipAuth {
		// FALLBACK: If in dev mode and credentials missing, auto-skip
		if developmentMode && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
			slog.Warn("⚠️  Development Mode: Auth0 credentials missing. Auto-enabling SKIP_AUTH.")
			skipAuth = true
		} else if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			slog.Error("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set in environment when SKIP_AUTH=false")
			return
		}
	}

	var validator types.TokenValidator
	if !skipAuth {
		authValidator, err := auth.NewValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			return
		}
		slog.Info("✅ Auth0 validator initialized", "domain", cfg.Auth0Domain, "audience", cfg.Auth0Audience)
		validator = authValidator
	} else {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.MockValidator{}
	}

	// --- Redis Bus Initialization (Optional) ---
	// Redis carries pub/sub fan-out, the shared rate-limit windows, and the
	// room records. Absent Redis, everything degrades to in-process.
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil // Fallback to single-instance mode
		} else {
			slog.Info("✅ Redis pub/sub initialized for distributed messaging", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	limiter, err := ratelimit.NewLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	var store types.Store
	if client := busService.Client(); client != nil {
		store = storage.NewRedisStore(client)
		slog.Info("✅ Room persistence backed by Redis")
	} else {
		store = storage.NewMemoryStore()
	}

	securityLog, err := audit.New(cfg.SecurityLogPath)
	if err != nil {
		slog.Error("Failed to open security log", "error", err)
		os.Exit(1)
	}

	// --- Hub with Dependencies ---
	hub := transport.NewHub(transport.HubOptions{
		Validator: validator,
		Bus:       busService,
		Limiter:   limiter,
		Security:  securityLog,
		Store:     store,
		Registry:  game.DefaultRegistry(),
		Config:    cfg,
	})

	if err := hub.Restore(context.Background()); err != nil {
		slog.Error("Failed to restore rooms from storage", "error", err)
	}

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	go hub.RunJanitor(janitorCtx)

	// --- Set up Server ---
	if !developmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("gameserver"))

	corsCfg := cors.DefaultConfig()
	allowedOrigins := cfg.OriginList([]string{"http://localhost:3000"})
	corsCfg.AllowOrigins = allowedOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	// Routing
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/room/:code", hub.ServeWs)
	}

	apiGroup := router.Group("/api/v1")
	{
		apiGroup.GET("/schemas", transport.HandleSchemas)

		roomsGroup := apiGroup.Group("/rooms", hub.RequireAuth(), limiter.MiddlewareForRooms())
		{
			roomsGroup.POST("", hub.HandleCreateRoom)
			roomsGroup.GET("", hub.HandleListRooms)
			roomsGroup.GET("/:code", hub.HandleGetRoom)
			roomsGroup.DELETE("/:code", hub.HandleDeleteRoom)
		}
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService, hub.RoomCount)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Game server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	janitorCancel()

	// Close all active rooms and WebSocket connections gracefully
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if err := securityLog.Sync(); err != nil {
		slog.Warn("Failed to flush security log", "error", err)
	}

	// Close Redis connection if it was initialized
	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
