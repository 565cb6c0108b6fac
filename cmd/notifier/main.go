package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-service/internal/app"
	"github.com/aliskhannn/notification-service/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()

	a, err := app.New(cfg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create app")
	}

	if err := a.Start(ctx); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to start app")
	}

	if err := a.Run(ctx); err != nil {
		zlog.Logger.Error().Err(err).Msg("app stopped with error")
	}

	zlog.Logger.Info().Msg("shutting down")

	if err := a.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close app")
	}
}
