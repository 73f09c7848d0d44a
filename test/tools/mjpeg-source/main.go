// Command mjpeg-source runs a synthetic MJPEG backend for local testing of
// mjpegview over WebSocket, QUIC and SRT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mjpegview/internal/certs"
	"github.com/zsiec/mjpegview/internal/source"
)

func main() {
	wsAddr := flag.String("ws", ":8081", "WebSocket listen address (empty to disable)")
	quicAddr := flag.String("quic", ":4443", "QUIC listen address (empty to disable)")
	srtAddr := flag.String("srt", ":6000", "SRT listen address (empty to disable)")
	fps := flag.Int("fps", 15, "Frames per second")
	width := flag.Int("width", 640, "Frame width")
	height := flag.Int("height", 360, "Frame height")
	quality := flag.Int("quality", 75, "JPEG quality (1-100)")
	minChunk := flag.Int("min-chunk", 1, "Smallest segment size in bytes")
	maxChunk := flag.Int("max-chunk", 8192, "Largest segment size in bytes")
	garbage := flag.Int("garbage", 0, "Bytes of non-frame data sent before the first frame")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	src := source.New(source.Config{
		FPS:      *fps,
		Width:    *width,
		Height:   *height,
		Quality:  *quality,
		MinChunk: *minChunk,
		MaxChunk: *maxChunk,
		Garbage:  *garbage,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if *wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws/stream/", src.WebSocketHandler())
		srv := &http.Server{Addr: *wsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			slog.Info("WebSocket listening", "addr", *wsAddr, "path", "/ws/stream/")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("WebSocket server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if *quicAddr != "" {
		cert, err := certs.Generate(14 * 24 * time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate cert: %v\n", err)
			os.Exit(1)
		}
		ln, err := source.ListenQUIC(*quicAddr, cert)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		slog.Info("QUIC certificate", "cert_hash", cert.FingerprintBase64(), "hint", "set MJPEG_CERT_HASH for the viewer")
		g.Go(func() error { return src.ServeQUIC(ctx, ln) })
	}

	if *srtAddr != "" {
		g.Go(func() error { return src.ServeSRT(ctx, *srtAddr) })
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
