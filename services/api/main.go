package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketchat/internal/attachment"
	"github.com/marketchat/internal/config"
	"github.com/marketchat/internal/handler"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/repository"
	"github.com/marketchat/internal/service"
	"github.com/marketchat/internal/startup"
	"github.com/marketchat/internal/storage"
	"github.com/marketchat/internal/storage/memory"
)

// fileBackend: хранилище вложений, из которого их же и отдаём.
type fileBackend interface {
	attachment.Store
	attachment.Opener
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	if err := run(cfg, *dev, *migrate); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, dev, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := openAttachments(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := files.(io.Closer); ok {
		defer c.Close()
	}

	var store storage.Messaging
	switch {
	case cfg.StorageDriver == config.StorageDriverMemory && !migrateOnly:
		logger.Info("storage: in-memory (data is lost on restart)")
		store = memory.NewMessaging(files)
	default:
		if dev {
			db, err := startEmbeddedPostgres(cfg)
			if err != nil {
				return fmt.Errorf("embedded postgres: %w", err)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := db.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := startup.RunMigrations(ctx, pool); err != nil {
			return err
		}
		if migrateOnly {
			return nil
		}
		logger.Info("database connected, migrations applied")
		store = repository.NewStore(pool, files)
	}

	identities, err := openIdentities(ctx, cfg)
	if err != nil {
		return err
	}
	defer identities.Close()

	svc := service.NewMessagingService(store, files)
	r := handler.NewRouter(handler.RouterConfig{
		Service:       svc,
		Identities:    identities,
		Files:         files,
		MaxUploadSize: cfg.MaxUploadSize,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		RatePerIP:     cfg.RateLimitPerIP,
		RatePerUser:   cfg.RateLimitPerUser,
		AccessLog:     true,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	srvWg.Wait()
	logger.Info("server goroutine exited")
	return nil
}

func openAttachments(ctx context.Context, cfg *config.Config) (fileBackend, error) {
	switch cfg.Attachments.Driver {
	case config.AttachmentDriverGCS:
		s, err := attachment.NewGCS(ctx, cfg.Attachments.GCSBucket, cfg.Attachments.GCSPrefix, cfg.Attachments.CredentialsFile)
		if err != nil {
			return nil, err
		}
		logger.Infof("attachments: gs://%s/%s", cfg.Attachments.GCSBucket, cfg.Attachments.GCSPrefix)
		return s, nil
	default:
		s, err := attachment.NewLocal(cfg.Attachments.Dir)
		if err != nil {
			return nil, err
		}
		logger.Infof("attachments: %s", cfg.Attachments.Dir)
		return s, nil
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = min(4, poolCfg.MaxConns)
	return startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
}

// openIdentities возвращает источник сессий; dev-токены из конфига засеваются в выбранное хранилище.
func openIdentities(ctx context.Context, cfg *config.Config) (storage.IdentityStore, error) {
	seed := cfg.Identities()
	if cfg.IdentityDriver == config.IdentityDriverMemory {
		ids := memory.NewIdentities()
		for token, id := range seed {
			ids.Put(token, id)
		}
		logger.Infof("identities: in-memory, %d dev session(s)", len(seed))
		return ids, nil
	}

	client, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 60*time.Second)
	if err != nil {
		return nil, err
	}
	for token, id := range seed {
		if err := client.PutSession(ctx, token, id); err != nil {
			client.Close()
			return nil, fmt.Errorf("seed dev session: %w", err)
		}
	}
	logger.Info("identities: redis")
	return client, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "marketchat"
		password = "marketchat_secret"
		database = "marketchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
