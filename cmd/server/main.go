package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "smb-erp/internal/adapters/web"
	"smb-erp/internal/app"
	"smb-erp/internal/auth"
	"smb-erp/internal/cache"
	"smb-erp/internal/config"
	"smb-erp/internal/core"
	"smb-erp/internal/db"
	"smb-erp/internal/logging"
	"smb-erp/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.WithError(err).Fatal("database")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		logger.WithError(err).Fatal("metrics")
	}

	svcs := app.NewServices(pool, core.Options{
		Serializable: cfg.Database.Serializable,
		Logger:       logger,
	})

	challenges, closeChallenges := challengeStore(ctx, cfg, logger)
	defer closeChallenges()

	passkeys, err := auth.NewPasskeys(auth.PasskeyConfig{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	}, svcs.Users, challenges)
	if err != nil {
		logger.WithError(err).Warn("passkey login disabled")
		passkeys = nil
	}

	svc := app.NewAppService(pool, svcs, app.Config{
		DefaultCompany: cfg.Company.DefaultCode,
		Tokens:         auth.NewTokenManager(cfg.JWT.Secret, cfg.TokenTTL(), cfg.JWT.Issuer),
		Passkeys:       passkeys,
		Metrics:        m,
		Logger:         logger,
	})

	if err := svc.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("migrations")
	}

	handler := webAdapter.NewHandler(svc, webAdapter.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		DefaultCompany:  cfg.Company.DefaultCode,
		Metrics:         m,
		Gatherer:        reg,
		Logger:          logger,
		InsecureCookies: cfg.Server.InsecureCookies,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

// challengeStore returns Redis when configured and reachable, otherwise the
// in-process store. The returned func releases it.
func challengeStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (auth.ChallengeStore, func()) {
	if cfg.Redis.Addr != "" {
		rs, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			logger.WithField("addr", cfg.Redis.Addr).Info("passkey challenges stored in redis")
			return rs, func() { _ = rs.Close() }
		}
		logger.WithError(err).Warn("redis unavailable, falling back to in-memory challenge store")
	}
	ms := cache.NewMemoryStore()
	ms.StartPurge(ctx, time.Minute)
	return ms, func() {}
}
