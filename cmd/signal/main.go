// Command signal runs the random-pairing voice-chat signaling service.
package main

import (
	"context"
	"fmt"
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
	"go.uber.org/zap"

	"github.com/aldernet/voicepair/internal/analytics"
	"github.com/aldernet/voicepair/internal/config"
	"github.com/aldernet/voicepair/internal/health"
	"github.com/aldernet/voicepair/internal/logging"
	"github.com/aldernet/voicepair/internal/match"
	"github.com/aldernet/voicepair/internal/middleware"
	"github.com/aldernet/voicepair/internal/ratelimit"
	"github.com/aldernet/voicepair/internal/router"
	"github.com/aldernet/voicepair/internal/store"
	"github.com/aldernet/voicepair/internal/tracing"
	"github.com/aldernet/voicepair/internal/transport"
	"github.com/aldernet/voicepair/internal/wire"
)

const serviceName = "voicepair-signal"

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, relying on process environment")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Println("invalid configuration:", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		fmt.Println("failed to initialize logger:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logging.Info(ctx, "starting signaling service", zap.String("go_env", cfg.GoEnv))

	if cfg.OTLPAddr != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OTLPAddr)
		if err != nil {
			logging.Error(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logging.Error(ctx, "failed to shut down tracer provider", zap.Error(err))
				}
			}()
		}
	}

	sss, err := store.New(store.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.SSSHost, cfg.SSSPort),
		Password: cfg.SSSPassword,
		DB:       cfg.SSSDB,
	})
	if err != nil {
		logging.Fatal(ctx, "failed to connect to shared state store", zap.Error(err))
	}
	defer func() { _ = sss.Close() }()

	var as *analytics.Store
	if cfg.ASEnabled {
		as, err = analytics.New(ctx, cfg.ASDSN)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to analytics store", zap.Error(err))
		}
		defer as.Close()
	}

	matcher := match.New(sss, as)
	conns := router.New()

	limiter, err := ratelimit.New(cfg.RateLimitWsIP, cfg.RateLimitFindPartnerUser, sss.Client())
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	iceServers := make([]wire.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		iceServers = append(iceServers, wire.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	allowedOrigins := []string{cfg.CORSOrigin}
	gateway := transport.NewGateway(matcher, conns, limiter, iceServers, allowedOrigins)
	healthHandler := health.NewHandler(sss, as)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.CORSOrigin}
	engine.Use(cors.New(corsConfig))

	engine.GET("/ws", limiter.WebSocketUpgradeMiddleware(), gateway.ServeWs)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// srv.Shutdown closes the listener right away (no new connections
	// accepted). It does not wait for hijacked connections, and every /ws
	// connection is hijacked by the upgrade, so gateway.Shutdown is what
	// disconnects those; the two run side by side.
	srvShutdownErr := make(chan error, 1)
	go func() {
		srvShutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	gateway.Shutdown(shutdownCtx)

	if err := <-srvShutdownErr; err != nil {
		logging.Error(ctx, "http server did not shut down cleanly", zap.Error(err))
	}

	logging.Info(ctx, "signaling service stopped")
}
