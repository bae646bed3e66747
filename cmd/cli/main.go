package main

import (
	"context"
	"os"

	"github.com/dvloznov/expense-tracker/internal/config"
	"github.com/dvloznov/expense-tracker/internal/infra"
	"github.com/dvloznov/expense-tracker/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.NewWithOptions(os.Stderr, logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	a := &app{
		cfg:       cfg,
		ctx:       logger.WithContext(context.Background(), log),
		openStore: infra.OpenStore,
	}

	if err := newRootCommand(a).Execute(); err != nil {
		os.Exit(1)
	}
}
