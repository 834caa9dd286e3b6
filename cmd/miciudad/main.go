package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/miciudad/miciudad/internal/app"
	"github.com/miciudad/miciudad/internal/gate"
	gatehttp "github.com/miciudad/miciudad/internal/gate/http"
	"github.com/miciudad/miciudad/internal/observability"
	"github.com/miciudad/miciudad/internal/platform/cache"
	"github.com/miciudad/miciudad/internal/securestore"
	"github.com/miciudad/miciudad/internal/session"
	"github.com/miciudad/miciudad/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("miciudad exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	kv, err := securestore.Open(securestore.Options{
		Backend:   cfg.StorageBackend,
		Dir:       cfg.StorageDir,
		Namespace: cfg.StorageNamespace,
		Secret:    cfg.StorageSecret,
		Redis:     redisClient,
		RedisTTL:  cfg.RedisTTL,
	})
	if err != nil {
		return err
	}

	deviceID, err := securestore.DeviceID(ctx, kv)
	if err != nil {
		logger.Warn("device id unavailable", slog.Any("error", err))
	} else {
		logger = logger.With(slog.String("device_id", deviceID))
	}

	metrics := observability.NewMetrics()
	repo := users.NewRepository(kv)
	store := session.NewStore(repo,
		session.WithLogger(logger),
		session.WithRecorder(metrics),
		session.WithPersistOnSetUser(cfg.SessionPersistSetUser),
		session.WithPersistTimeout(cfg.SessionPersistTimeout),
	)

	splash := gate.SplashFunc(func() { logger.Info("splash hidden") })
	navigator := gate.NavigatorFunc(func(sel gate.Selection) {
		logger.Info("navigation mounted", slog.String("root", string(sel.Root)), slog.String("entry", sel.Entry))
	})
	g := gate.New(store, repo, splash,
		gate.WithLogger(logger),
		gate.WithNavigator(navigator),
		gate.WithRecorder(metrics),
		gate.WithRestoreTimeout(cfg.GateRestoreTimeout),
	)
	defer g.Stop()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionHandler: gatehttp.NewHandler(logger, g, store, kv),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.Start(gctx)
		select {
		case <-g.Ready():
			logger.Info("session gate ready", slog.Bool("signed_in", g.Selection().SignedIn))
		case <-gctx.Done():
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("flush session store", slog.Any("error", err))
		}
		return nil
	})

	return group.Wait()
}
