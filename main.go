package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gymStreakAPI/handlers"
	"gymStreakAPI/internal/config"
	"gymStreakAPI/internal/persistence"
	"gymStreakAPI/internal/persistence/postgres"
	"gymStreakAPI/internal/persistence/sqlite"
	"gymStreakAPI/middleware"
	"gymStreakAPI/services"
	"gymStreakAPI/utils"
)

// storage bundles the repositories of the configured backend.
type storage struct {
	attendance persistence.AttendanceRepository
	streaks    persistence.StreakRepository
	directory  directory
	ping       func(ctx context.Context) error
	close      func()
}

type directory interface {
	persistence.Directory
	services.MembershipChecker
	services.RosterProvider
}

func openStorage(ctx context.Context, cfg config.AppConfig) (*storage, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{
			attendance: sqlite.NewAttendanceRepository(db),
			streaks:    sqlite.NewStreakRepository(db),
			directory:  sqlite.NewDirectory(db),
			ping:       db.PingContext,
			close:      func() { db.Close() },
		}, nil
	default:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &storage{
			attendance: postgres.NewAttendanceRepository(pool),
			streaks:    postgres.NewStreakRepository(pool),
			directory:  postgres.NewDirectory(pool),
			ping:       pool.Ping,
			close:      pool.Close,
		}, nil
	}
}

// openViewCache falls back to no caching when Redis is not configured or not
// reachable at startup.
func openViewCache(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (services.ViewCache, func()) {
	if cfg.RedisAddr == "" {
		return services.NoopViewCache{}, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, view cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		rdb.Close()
		return services.NoopViewCache{}, func() {}
	}

	logger.Info("view cache connected", zap.String("addr", cfg.RedisAddr))
	return services.NewRedisViewCache(rdb, cfg.ViewCacheTTL, logger), func() { rdb.Close() }
}

func tokenVerifier(cfg config.AppConfig) middleware.TokenVerifier {
	var chain middleware.ChainVerifier
	if cfg.ClerkSecretKey != "" {
		clerk.SetKey(cfg.ClerkSecretKey)
		chain = append(chain, middleware.ClerkVerifier{})
	}
	if cfg.AuthJWTSecret != "" {
		chain = append(chain, middleware.NewHS256Verifier(cfg.AuthJWTSecret))
	}
	return chain
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		os.Stderr.WriteString("invalid configuration: " + errors.ErrorStack(err) + "\n")
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		os.Stderr.WriteString("creating logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	store, err := openStorage(startCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("opening storage", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer func() {
		logger.Info("closing storage")
		store.close()
	}()
	logger.Info("storage ready", zap.String("driver", cfg.DBDriver))

	viewCache, closeCache := openViewCache(ctx, cfg, logger)
	defer closeCache()

	reg := prometheus.DefaultRegisterer
	middleware.InitPrometheus(reg)
	metrics := services.NewEngineMetrics(reg)

	clk := clock.WallClock
	attendanceStore := services.NewAttendanceStore(store.attendance, clk)
	historyRecorder := services.NewHistoryRecorder(store.streaks, clk)
	streakTracker := services.NewStreakTracker(store.streaks, historyRecorder, clk, cfg.StreakMaxAttempts, metrics, logger)
	orchestrator := services.NewAttendanceOrchestrator(attendanceStore, streakTracker, store.directory, viewCache, metrics, logger)
	projector := services.NewQueryProjector(attendanceStore, streakTracker, historyRecorder, store.directory, viewCache, clk, metrics, logger)

	access := handlers.NewAccessPolicy(store.directory)
	attendanceHandler := handlers.NewAttendanceHandler(orchestrator, projector, access, logger)
	streakHandler := handlers.NewStreakHandler(projector, historyRecorder, access, logger)
	webhookHandler := handlers.NewWebhookHandler(store.directory, viewCache, cfg.ClerkWebhookSecret, clk, logger)
	if cfg.ClerkWebhookSecret == "" {
		logger.Warn("CLERK_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	clientIPs := middleware.NewClientIPResolver(cfg.TrustedProxies)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, clientIPs)
	go rateLimiter.Cleanup(ctx)

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(logger, clientIPs))
	r.Use(middleware.Recoverer(logger))
	r.Use(rateLimiter.Middleware)
	r.Use(middleware.MonitorMiddleware)

	r.Handle("/metrics", middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "gym-streak-api"}`))
	}).Methods("GET")

	r.HandleFunc("/webhooks/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(tokenVerifier(cfg), logger))
	handlers.RegisterAPIRoutes(api, attendanceHandler, streakHandler)

	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("server shutdown complete")
}
