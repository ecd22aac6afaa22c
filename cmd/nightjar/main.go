package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nightjar-media/nightjar/internal/config"
	"github.com/nightjar-media/nightjar/internal/database"
	"github.com/nightjar-media/nightjar/internal/ffmpeg"
	"github.com/nightjar-media/nightjar/internal/logger"
	"github.com/nightjar-media/nightjar/internal/modules/mediamodule"
	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
	"github.com/nightjar-media/nightjar/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nightjar:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("NIGHTJAR_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	log.Info("starting nightjar",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"max_transcodes", cfg.Streaming.MaxConcurrentTranscodes)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	resolver := mediamodule.NewResolver(db, log)
	prober := ffmpeg.NewProber(cfg.Streaming.FFprobePath)
	segments := ffmpeg.NewSegmentStore(cfg.Streaming.DataDir, log)
	executor := ffmpeg.NewExecutor(cfg.Streaming.FFmpegPath, segments, log)

	streaming := streamingmodule.NewHlsStreamingService(streamingmodule.Config{
		MaxConcurrentTranscodes: cfg.Streaming.MaxConcurrentTranscodes,
		SegmentLength:           cfg.Streaming.SegmentLength,
		IdleTimeout:             cfg.Streaming.IdleTimeout,
		ReapInterval:            cfg.Streaming.ReapInterval,
	}, resolver, prober, executor, segments, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reaper := streamingmodule.NewSessionReaper(streaming, log)
	go reaper.Run(ctx)

	srv := server.New(cfg.Server, server.Dependencies{
		Streaming:          streaming,
		Playlists:          streamingmodule.NewHlsPlaylistService(cfg.Streaming.SegmentLength),
		Segments:           segments,
		Executor:           executor,
		Resolver:           resolver,
		SegmentWaitTimeout: cfg.Streaming.SegmentWaitTimeout,
	}, log)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	// Tear surviving sessions down so no encoder outlives the server.
	shutdownCtx := context.Background()
	for _, session := range streaming.GetAllSessions() {
		if err := streaming.DestroySession(shutdownCtx, session.ID); err != nil {
			log.Warn("session teardown failed", "session_id", session.ID, "error", err)
		}
	}

	log.Info("nightjar stopped")
	return nil
}
