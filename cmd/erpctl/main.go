package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"smb-erp/internal/adapters/cli"
	"smb-erp/internal/app"
	"smb-erp/internal/auth"
	"smb-erp/internal/config"
	"smb-erp/internal/core"
	"smb-erp/internal/db"
	"smb-erp/internal/logging"
)

func main() {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: "text",
		File:   cfg.Log.File,
	})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = closeLog() }()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	svcs := app.NewServices(pool, core.Options{
		Serializable: cfg.Database.Serializable,
		Logger:       logger,
	})
	svc := app.NewAppService(pool, svcs, app.Config{
		DefaultCompany: cfg.Company.DefaultCode,
		Tokens:         auth.NewTokenManager(cfg.JWT.Secret, cfg.TokenTTL(), cfg.JWT.Issuer),
		Logger:         logger,
	})

	if err := cli.Run(ctx, svc, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, cli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		pool.Close()
		log.Fatalf("%v", err)
	}
}
