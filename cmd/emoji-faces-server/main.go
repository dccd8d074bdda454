package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	emojifaces "github.com/menta2k/emoji-faces"
	"github.com/menta2k/emoji-faces/internal/backend"
	"github.com/menta2k/emoji-faces/internal/config"
	"github.com/menta2k/emoji-faces/pkg/catalog"
	"github.com/menta2k/emoji-faces/pkg/server"
)

func main() {
	cfgPath := flag.String("config", "", "JSON config file (EMOJIFACES_* environment variables override it)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Server.Environment, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.Catalog.Sources...)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", slog.Any("categories", cat.Categories()))

	det, err := backend.NewDetector(ctx, cfg.Detector, logger)
	if err != nil {
		return err
	}
	logger.Info("detector ready", slog.String("backend", cfg.Detector.Backend))

	studio := emojifaces.New(det, cat,
		emojifaces.WithMaxHeight(cfg.Image.MaxHeight),
		emojifaces.WithPreviewWidth(cfg.Image.PreviewWidth),
		emojifaces.WithLogger(logger),
	)

	return server.New(studio, cfg.Server, emojifaces.Version, logger).Run(ctx)
}
