package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"userdesk/internal/auth"
	"userdesk/internal/backup"
	"userdesk/internal/config"
	apphttp "userdesk/internal/http"
	"userdesk/internal/repository"
	"userdesk/internal/repository/jsonfile"
	"userdesk/internal/repository/postgres"
	"userdesk/internal/repository/sqlite"
	"userdesk/internal/service"
	"userdesk/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userRepo, closeRepo, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	defer closeRepo()

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	tokens := auth.NewIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	userService := service.NewUserService(userRepo, tokens, service.Options{
		BcryptCost:  cfg.Auth.BcryptCost,
		UniqueEmail: cfg.Users.UniqueEmail,
	})

	var backups backup.Manager
	if cfg.Backup.Bucket != "" {
		backups, err = buildBackups(ctx, cfg, userRepo, logger)
		if err != nil {
			logger.Fatalf("setup backups: %v", err)
		}
		if err := backups.Start(ctx); err != nil {
			logger.Fatalf("start backups: %v", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(userService, tokens, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s (storage: %s)", cfg.Addr(), cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if backups != nil {
		backups.Shutdown()
	}

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func buildRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (repository.UserRepository, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("using sqlite database %s", cfg.Storage.SQLitePath)
		return sqlite.NewUserRepository(db), func() { db.Close() }, nil
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using postgres user store")
		return postgres.NewUserRepository(pool), pool.Close, nil
	default:
		logger.Infof("using json user file %s", cfg.Storage.DataPath)
		return jsonfile.NewUserRepository(cfg.Storage.DataPath, logger), func() {}, nil
	}
}

func buildBackups(ctx context.Context, cfg config.Config, users repository.UserRepository, logger *logrus.Logger) (backup.Manager, error) {
	store, err := storage.NewS3ServiceFromConfig(ctx, storage.S3Config{
		Region:   cfg.Backup.Region,
		Endpoint: cfg.Backup.Endpoint,
		Profile:  cfg.AWS.Profile,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("using s3 bucket %s (region %s) for backups", cfg.Backup.Bucket, cfg.Backup.Region)

	return backup.NewManager(backup.Config{
		Bucket:    cfg.Backup.Bucket,
		KeyPrefix: cfg.Backup.KeyPrefix,
		Interval:  cfg.Backup.Interval,
		Keep:      cfg.Backup.Keep,
		Logger:    logger,
	}, users, store), nil
}
