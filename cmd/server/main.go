package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/coldtrack/coldtrack/internal/handler"
	"github.com/coldtrack/coldtrack/internal/infrastructure/logger"
	"github.com/coldtrack/coldtrack/internal/infrastructure/redis"
	"github.com/coldtrack/coldtrack/internal/observability/metrics"
	"github.com/coldtrack/coldtrack/internal/observability/tracing"
	"github.com/coldtrack/coldtrack/internal/repository"
	"github.com/coldtrack/coldtrack/internal/security"
	"github.com/coldtrack/coldtrack/internal/security/audit"
	"github.com/coldtrack/coldtrack/internal/security/auth"
	"github.com/coldtrack/coldtrack/internal/security/middleware"
	"github.com/coldtrack/coldtrack/internal/security/ratelimit"
	"github.com/coldtrack/coldtrack/internal/service"
	"github.com/coldtrack/coldtrack/internal/worker"
	"github.com/coldtrack/coldtrack/pkg/config"
	"github.com/coldtrack/coldtrack/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting coldtrack server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, "coldtrack", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Initialize storage
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, log)
	if err != nil {
		log.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := pool.Migrate(ctx)
	if err != nil {
		log.Error("failed to apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("migrations applied", slog.Int("count", applied))

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	// 4. Initialize repositories
	db := pool.GetDB()
	workspaceRepo := repository.NewPostgresWorkspaceRepository(db, log)
	userRepo := repository.NewPostgresUserRepository(db, log)
	vehicleRepo := repository.NewPostgresVehicleRepository(db, log)
	logRepo := repository.NewPostgresLogRepository(db, log)
	exportRepo := repository.NewPostgresExportRepository(db, log)
	notificationRepo := repository.NewPostgresNotificationRepository(db, log)
	auditRepo := repository.NewPostgresAuditRepository(db, log)
	leaseRepo := repository.NewLeaseRepository(redisClient, log)
	boardCache := repository.NewLiveBoardCache(redisClient, log)

	// 5. Initialize services
	auditLogger := audit.NewLogger(log, auditRepo)
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, "coldtrack")

	workspaceService := service.NewWorkspaceService(workspaceRepo, userRepo, vehicleRepo, logRepo, auditLogger, log).
		WithDefaultTimezone(cfg.DefaultTimezone)
	notificationService := service.NewNotificationService(notificationRepo, leaseRepo, log)
	authService := service.NewAuthService(userRepo, workspaceRepo, tokenManager, auditLogger, cfg.TokenTTL, log)
	userService := service.NewUserService(userRepo, workspaceService, auditLogger, log)
	vehicleService := service.NewVehicleService(vehicleRepo, workspaceService, auditLogger, log)
	logService := service.NewLogService(logRepo, vehicleRepo, workspaceService, notificationService, auditLogger, boardCache, nil, log)
	dashboardService := service.NewDashboardService(logRepo, vehicleRepo, userRepo, workspaceService, auditRepo, boardCache, cfg.LiveCacheTTL, nil, log)
	exportService := service.NewExportService(exportRepo, logRepo, vehicleRepo, userRepo, workspaceService,
		service.NewJSONRenderer(cfg.ExportDir), auditLogger, log)
	backupService := service.NewBackupService(workspaceRepo, userRepo, vehicleRepo, logRepo, workspaceService, auditLogger, log)

	// 6. Initialize handlers
	handlers := &handler.Handlers{
		Health:        handler.NewHealthHandler(handler.PingFunc(pool.Health), handler.PingFunc(redisClient.Ping), log),
		Auth:          handler.NewAuthHandler(authService, log),
		Logs:          handler.NewLogHandler(logService, log),
		Dashboard:     handler.NewDashboardHandler(dashboardService, log, cfg.CORSAllowedOrigins, cfg.LivePushInterval),
		Users:         handler.NewUserHandler(userService, log),
		Vehicles:      handler.NewVehicleHandler(vehicleService, log),
		Settings:      handler.NewSettingsHandler(workspaceService, log),
		Exports:       handler.NewExportHandler(exportService, log),
		Notifications: handler.NewNotificationHandler(notificationService, log),
		Portal:        handler.NewPortalHandler(workspaceService, handler.NewOwnerAccess(authService, userService), log),
		Backup:        handler.NewBackupHandler(backupService, log),
	}

	// 7. Setup HTTP routes
	mux := http.NewServeMux()
	handlers.Register(mux, security.NewAuthorizationService(log))

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)
	loginLimiter := ratelimit.NewLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)

	// Chain middleware: request ID -> CORS -> input checks -> login limit -> JWT -> account -> rate limit -> audit -> metrics
	chain := []func(http.Handler) http.Handler{
		middleware.RequestID(log),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.SanitizeInputs(log),
		middleware.ValidateJSONContentType(log),
		middleware.LoginRateLimit(loginLimiter, cfg.LoginRateLimit, cfg.LoginRateWindow, log),
		middleware.JWTMiddleware(tokenManager, log),
		middleware.AccountGuard(authService, auditLogger),
		middleware.RateLimitMiddleware(rateLimiter, log),
		middleware.AuditMiddleware(auditLogger),
		metrics.HTTPMetricsMiddleware,
	}
	var root http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		root = chain[i](root)
	}
	root = otelhttp.NewHandler(root, "coldtrack.http")

	// 8. Start background workers
	workers := []interface{ Start(context.Context) }{
		worker.NewSchedulerWorker(workspaceService, exportService, logRepo, leaseRepo, auditLogger, log, nil, cfg.SchedulerInterval),
		worker.NewExpiryWorker(userRepo, vehicleRepo, auditLogger, log, nil, cfg.ExpiryInterval),
		worker.NewOverdueWorker(workspaceService, dashboardService, notificationService, log, nil, cfg.OverdueInterval),
	}
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

	// 9. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("auth", "jwt"),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.Duration("scheduler_interval", cfg.SchedulerInterval),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error("server error", slog.String("error", err.Error()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // stop workers
	wg.Wait()
	rateLimiter.Stop()
	loginLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
