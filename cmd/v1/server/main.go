package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/aic"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/auth"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/bus"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/config"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/health"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/idempotency"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/logging"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/middleware"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/ratelimit"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/registry"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/room"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/safety"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/transport"
	"github.com/Two-Weeks-Team/openClawWorld/internal/v1/worldpack"
)

func main() {
	// Load .env file for local development. Try multiple paths to handle
	// different ways of running the app.
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

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Invalid environment configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	pack, err := worldpack.Load(cfg.PackDir)
	if err != nil {
		slog.Error("Failed to load world pack", "dir", cfg.PackDir, "error", err)
		os.Exit(1)
	}
	slog.Info("World pack loaded", "name", pack.Name, "version", pack.Version,
		"zones", len(pack.Zones), "objects", len(pack.Objects), "skills", len(pack.Skills))

	// Optional Redis-backed store for rate limiting across instances; without
	// it the limiter runs in memory. The idempotency cache is always in memory.
	var store *bus.Store
	if cfg.RedisEnabled {
		store, err = bus.NewStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, store.Client())
	if err != nil {
		slog.Error("Failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	sessions := auth.NewSessionStore()
	idem := idempotency.New(time.Duration(cfg.IdempotencyTTLMin) * time.Minute)
	safetyRegistry := safety.New()
	sessionTimeout := time.Duration(cfg.SessionTimeoutMs) * time.Millisecond

	reg := registry.New(registry.WorldPack{
		Grid:         pack.Grid,
		Skills:       pack.Skills,
		MaxOccupancy: cfg.RoomCapacity,
		RuntimeCfg: room.Config{
			TickRate:         time.Second / time.Duration(cfg.TickRateHz),
			ProximityRadius:  cfg.ProximityRadiusUnits,
			InteractionRange: cfg.InteractionRadius,
			EventLogCapacity: cfg.EventLogCapacity,
			EventLogTTL:      time.Duration(cfg.EventLogTTLSec) * time.Second,
			ChatCapacity:     cfg.ChatRingCapacity,
			Skills:           pack.Skills,
			Safety:           safetyRegistry,
			SpawnPoint:       pack.Spawn,
			Zones:            pack.Zones,
			Objects:          pack.Objects,
			StaleAgents: func(roomID string, nowMs int64) []string {
				var stale []string
				for _, s := range sessions.TimedOut(nowMs, sessionTimeout) {
					if s.RoomID == roomID {
						stale = append(stale, s.AgentID)
					}
				}
				return stale
			},
			EvictSession: func(agentID string) { sessions.Unregister(agentID) },
		},
	})
	defer reg.Shutdown()

	deps := &aic.Deps{
		Registry:    reg,
		Sessions:    sessions,
		RateLimit:   limiter,
		Idempotency: idem,
	}
	// Human websocket clients authenticate with identity-provider JWTs,
	// validated against the issuer's JWKS; SKIP_AUTH falls back to the
	// permissive development validator.
	var wsValidator transport.TokenValidator
	if cfg.SkipAuth {
		slog.Warn("Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		wsValidator = &auth.MockValidator{}
	} else if cfg.AuthDomain != "" {
		wsValidator, err = auth.NewValidator(context.Background(), cfg.AuthDomain, cfg.AuthAudience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			os.Exit(1)
		}
	}
	hub := transport.NewHub(reg, wsValidator)
	healthHandler := health.NewHandler(store, reg)

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	deps.RegisterRoutes(router)

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/room/:roomId", hub.ServeWs)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("AIC server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")
}
