package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mjpegview/internal/api"
	"github.com/zsiec/mjpegview/internal/metrics"
	"github.com/zsiec/mjpegview/internal/sink"
	"github.com/zsiec/mjpegview/internal/stream"
	"github.com/zsiec/mjpegview/internal/transport"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	met := metrics.New()

	var recorder sink.FrameSink
	if cfg.RecordDir != "" {
		dir, err := sink.NewDir(cfg.RecordDir, nil)
		if err != nil {
			slog.Error("failed to create recorder", "error", err)
			os.Exit(1)
		}
		recorder = dir
	}

	mgr, err := stream.NewManager(stream.Options{
		Dialer: transport.NewMux(transport.Options{
			MaxMessageSize: cfg.MaxMessageSize,
			CertHash:       cfg.CertHash,
			SRTStreamID:    cfg.SRTStreamID,
		}),
		DefaultEndpoint: cfg.Endpoint,
		MaxPending:      cfg.MaxPending,
		Recorder:        recorder,
		Metrics:         met,
	})
	if err != nil {
		slog.Error("failed to create stream manager", "error", err)
		os.Exit(1)
	}

	slog.Info("mjpegview starting",
		"version", version,
		"api", cfg.APIAddr,
		"endpoint", cfg.Endpoint,
		"viewers", len(cfg.Viewers),
		"record_dir", cfg.RecordDir,
	)

	g, ctx := errgroup.WithContext(ctx)

	// Build the API after errgroup so viewers started over HTTP are bound
	// to the errgroup-derived context.
	apiSrv, err := api.NewServer(api.Config{
		Addr:    cfg.APIAddr,
		WebDir:  cfg.WebDir,
		Viewers: mgr,
		StartViewer: func(spec stream.Spec) (*stream.Viewer, error) {
			return mgr.Start(ctx, spec)
		},
		Metrics: met.Handler(),
	})
	if err != nil {
		slog.Error("failed to create API server", "error", err)
		os.Exit(1)
	}

	for _, spec := range cfg.Viewers {
		if _, err := mgr.Start(ctx, spec); err != nil {
			slog.Error("failed to start configured viewer", "key", spec.Key, "error", err)
			os.Exit(1)
		}
	}

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		mgr.StopAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
