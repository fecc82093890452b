package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scopeops/scopeops-engine/pkg/config"
	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/handlers"
	"github.com/scopeops/scopeops-engine/pkg/logging"
	"github.com/scopeops/scopeops-engine/pkg/middleware"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
	"github.com/scopeops/scopeops-engine/pkg/retry"
	"github.com/scopeops/scopeops-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("scopeops-engine stopped", zap.String("error", logging.SanitizeError(err)))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Strings("strategy_order", cfg.Resolution.StrategyOrder),
		zap.Strings("disclosure_keys", cfg.Resolution.DisclosureKeys),
		zap.Float64("min_match_score", cfg.Resolution.MinMatchScore))

	db, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	mux, err := buildRoutes(cfg, db, redisClient, logger)
	if err != nil {
		return err
	}

	var handler http.Handler = mux
	handler = middleware.RequestLogger(logger.Named("http"))(handler)
	handler = middleware.Recoverer(logger.Named("http"))(handler)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting scopeops-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// connectDatabase opens the pool, retrying while PostgreSQL comes up, and applies migrations.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	dsn := cfg.Database.ConnectionString()

	connectRetry := retry.DefaultConfig()
	connectRetry.MaxRetries = 5
	connectRetry.InitialDelay = 500 * time.Millisecond

	db, err := retry.DoWithResult(ctx, connectRetry, func() (*database.DB, error) {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            dsn,
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			logger.Warn("Database not ready", zap.String("error", logging.SanitizeError(err)))
		}
		return db, err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger.Named("migrations")); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildRoutes(cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zap.Logger) (*http.ServeMux, error) {
	supplierRepo := repositories.NewSupplierRepository()
	factorRepo := repositories.NewEmissionFactorRepository()
	spendRepo := repositories.NewSpendRecordRepository()
	mappingRepo := repositories.NewCategoryMappingRepository()
	categoryRepo := repositories.NewCategoryRepository()

	var disclosures services.DisclosureSource
	if cfg.Resolution.DisclosuresPath != "" {
		catalog, err := services.LoadDisclosureCatalogFile(cfg.Resolution.DisclosuresPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded disclosure catalog",
			zap.String("path", cfg.Resolution.DisclosuresPath),
			zap.Int("disclosures", len(catalog.Disclosures())))
		disclosures = catalog
	} else {
		disclosures = services.NewRepositoryDisclosureSource(repositories.NewDisclosureRepository())
	}

	strategies, err := services.NewResolutionStrategies(&cfg.Resolution, disclosures, factorRepo, services.NewTokenSetMatcher(), logger)
	if err != nil {
		return nil, err
	}

	runLock := services.NewNoopRunLock()
	if redisClient != nil {
		runLock = services.NewRedisRunLock(redisClient)
	}

	hierarchyService := services.NewHierarchyService(supplierRepo, logger)
	resolver := services.NewFactorResolver(strategies, supplierRepo, services.NewOwnerContextFunc(db), cfg.Resolution.Concurrency, logger)
	calculator := services.NewEmissionCalculator(spendRepo, supplierRepo, factorRepo, mappingRepo, runLock, services.CalculatorConfig{
		RunLockTTL: cfg.Calculation.RunLockTTL,
		Retry: &retry.Config{
			MaxRetries:       cfg.Calculation.MaxRetries,
			InitialDelay:     cfg.Calculation.RetryInitialDelay,
			MaxDelay:         cfg.Calculation.RetryMaxDelay,
			Multiplier:       2.0,
			JitterFactor:     0.1,
			MaxSameErrorType: 5,
		},
	}, logger)
	rollupService := services.NewRollupService(supplierRepo, spendRepo, logger)
	catalogService := services.NewCatalogService(categoryRepo, factorRepo, mappingRepo, spendRepo, supplierRepo, logger)

	tenantMiddleware := handlers.TenantMiddleware(database.WithOwnerContext(db, logger.Named("tenant")))

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewSupplierHandler(hierarchyService, resolver, rollupService, logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewCalculationHandler(calculator, logger).RegisterRoutes(mux, tenantMiddleware)
	handlers.NewCatalogHandler(catalogService, logger).RegisterRoutes(mux, tenantMiddleware)
	return mux, nil
}
