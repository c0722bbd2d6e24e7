package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"torrentd/internal/config"
	"torrentd/internal/events"
	"torrentd/internal/logging"
	"torrentd/internal/mediainfo"
	"torrentd/internal/session"
	"torrentd/internal/store"
	"torrentd/internal/workflow"
	"torrentd/internal/workflow/expression"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StorePath, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	mi, err := mediainfo.New(mediaInfoConfig(cfg), cfg.MediaInfoCacheSize, log)
	if err != nil {
		return fmt.Errorf("failed to build media-info prefetcher: %w", err)
	}

	bus := events.New()

	settings, err := st.AllSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session settings: %w", err)
	}

	sup, err := session.New(cfg, settings, cfg.Extensions, st, bus, mi, log)
	if err != nil {
		return fmt.Errorf("failed to build session supervisor: %w", err)
	}

	if err := sup.Load(ctx); err != nil {
		return fmt.Errorf("failed to load persisted torrents: %w", err)
	}

	defs, err := workflow.LoadDir(cfg.WorkflowsDir)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}
	factory := workflow.BuiltinFactory{Log: log}
	wfService := workflow.NewService(defs, factory, expression.New(), log)
	wfService.Subscribe(bus)

	log.Info().Int("workflows", len(defs)).Msg("torrentd started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := sup.Shutdown(); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

func mediaInfoConfig(cfg *config.Config) mediainfo.Config {
	exts := make(map[string]struct{}, len(cfg.MediaInfoFileExtensions))
	for _, e := range cfg.MediaInfoFileExtensions {
		exts[e] = struct{}{}
	}

	return mediainfo.Config{
		Enabled:        cfg.MediaInfoEnabled,
		FileExtensions: exts,
		MinSize:        cfg.MediaInfoMinSize,
		WantedSize:     cfg.MediaInfoWantedSize,
	}
}
