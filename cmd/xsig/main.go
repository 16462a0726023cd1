package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"xsig/internal/infrastructure/config"
	"xsig/internal/infrastructure/logger"
	"xsig/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info", "console")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}
	defer func() {
		if err := sc.Close(); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}()

	log.Info().
		Str("config", *configPath).
		Str("primary", cfg.PrimaryRes.String()).
		Str("secondary", cfg.SecondaryRes.String()).
		Int("symbols", len(cfg.Session.Symbols)).
		Int("max_symbols", cfg.Session.MaxSymbols).
		Msg("xsig started")

	if err := sc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("xsig exited")
		return
	}
	log.Info().Msg("xsig stopped")
}
