// cmd/indengine runs the real-time FX indicator engine.
//
// Usage:
//
//	go run ./cmd/indengine --config=config/fxind.yaml
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"fxindicators/config"
	"fxindicators/internal/indengine"
	"fxindicators/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config (empty = built-in defaults)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Init("indengine", "info")
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init("indengine", cfg.LogLevel)

	svc, err := indengine.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
