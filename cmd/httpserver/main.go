package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/artifact-repository-backend/cmd/flags"
	"github.com/ruteri/artifact-repository-backend/common"
	"github.com/ruteri/artifact-repository-backend/config"
	"github.com/ruteri/artifact-repository-backend/deploy"
	"github.com/ruteri/artifact-repository-backend/httpserver"
	"github.com/ruteri/artifact-repository-backend/metadata"
	"github.com/ruteri/artifact-repository-backend/metrics"
	"github.com/ruteri/artifact-repository-backend/registry"
	"github.com/ruteri/artifact-repository-backend/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "artifact-server",
		Usage:  "Serve the artifact repository API",
		Flags:  append([]cli.Flag{flags.ConfigFileFlag, flags.ListenAddrFlag}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	ctx := cCtx.Context
	logger := flags.SetupLogger(cCtx)

	loader := config.NewLoader(cCtx.String(flags.ConfigFileFlag.Name), logger)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error("Failed to load config", "err", err)
		return err
	}

	metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
	if err != nil {
		logger.Error("Failed to create metrics server", "err", err)
		return err
	}
	observer := metricsSrv.Observer()

	var credentials storage.CredentialsResolver
	if cfg.Vault.Address != "" {
		logger.Info("Resolving storage credentials from Vault", "address", cfg.Vault.Address)
		vaultCredentials, err := storage.NewVaultCredentials(cfg.Vault.Address, cfg.Vault.Token, logger)
		if err != nil {
			logger.Error("Failed to create Vault client", "err", err)
			return err
		}
		credentials = vaultCredentials
	}

	factory := storage.NewStorageProviderFactory(logger, credentials).WithPool(cfg.Storage.PoolSize, observer)
	repositories := registry.New(factory, logger)
	if err := repositories.Apply(ctx, cfg.Repositories); err != nil {
		logger.Error("Failed to create repositories", "err", err)
		return err
	}

	cache, closeCache, err := newMetadataCache(ctx, cfg.Metadata, logger)
	if err != nil {
		logger.Error("Failed to create metadata cache", "err", err)
		return err
	}
	defer closeCache.Close()
	index := metadata.NewIndex(cache, logger).WithObserver(observer)

	auditSink, auditLog, closeAudit, err := newAuditSink(ctx, cfg.Audit, logger)
	if err != nil {
		logger.Error("Failed to create audit sink", "err", err)
		return err
	}
	defer closeAudit.Close()

	service := deploy.NewService(repositories, index, auditSink, logger).WithObserver(observer)
	auth := httpserver.NewAuthenticator(cfg.Tokens, logger)
	handler := httpserver.NewHandler(service, repositories, index, auth, httpserver.HandlerOptions{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		PrecheckQuota:  cfg.Server.PrecheckQuota,
	}, logger)
	admin := httpserver.NewAdminHandler(repositories, index, auditLog, logger)

	serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	serverCfg.CORSOrigins = cfg.Server.CORSOrigins
	server, err := httpserver.New(serverCfg, metricsSrv, handler, admin)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	// Repositories and tokens follow the config file; server, metadata and
	// audit settings need a restart
	loader.Watch(func(next *config.Config) {
		if err := repositories.Apply(context.Background(), next.Repositories); err != nil {
			logger.Error("Failed to apply repositories, keeping the previous ones", "err", err)
		}
		auth.Update(next.Tokens)
	})

	server.RunInBackground()

	// Wait for termination signal
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newMetadataCache(ctx context.Context, cfg config.MetadataConfig, logger *slog.Logger) (metadata.Cache, io.Closer, error) {
	switch cfg.Cache {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// Reads fall back to rebuilding while Redis is down
			logger.Warn("Redis is not reachable", "err", err, slog.String("addr", cfg.RedisAddr))
		}

		logger.Info("Using Redis metadata cache", slog.String("addr", cfg.RedisAddr))
		return metadata.NewRedisCache(client, cfg.TTL), client, nil
	case "memory":
		cache, err := metadata.NewMemoryCache(cfg.CacheSize, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return cache, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata cache %q", cfg.Cache)
	}
}

func newAuditSink(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (deploy.AuditSink, httpserver.AuditLog, io.Closer, error) {
	switch cfg.Driver {
	case "sqlite":
		sink, err := deploy.NewSQLiteAuditSink(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("Recording deploys to SQLite", slog.String("dsn", cfg.DSN))
		return sink, sink, sink, nil
	case "log":
		return deploy.NewLogAuditSink(logger), nil, nopCloser{}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}
