package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skipperro/mosaic/internal/audio"
	"github.com/skipperro/mosaic/internal/certs"
	"github.com/skipperro/mosaic/internal/codec"
	"github.com/skipperro/mosaic/internal/render"
	"github.com/skipperro/mosaic/internal/session"
	"github.com/skipperro/mosaic/media"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	serverURL := envOr("SERVER_URL", "ws://localhost:8080/data")
	apiAddr := envOr("API_ADDR", ":9443")
	encoder := envOr("ENCODER", "jpeg")
	ffmpegPath := envOr("FFMPEG", "ffmpeg")
	bufferDepth := envIntOr("VIDEO_BUFFER", 0)
	shared := os.Getenv("SHARED") != ""

	mode, err := media.ParseEncoderMode(encoder)
	if err != nil {
		slog.Error("bad ENCODER", "error", err)
		os.Exit(1)
	}

	cert, err := certs.Generate()
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}

	slog.Info("mosaic starting",
		"version", version,
		"server", serverURL,
		"api", apiAddr,
		"encoder", mode,
		"cert_hash", cert.FingerprintBase64(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	surface := render.NewCanvas(media.FallbackWidth, media.FallbackHeight)
	mgr := codec.NewManager(codec.FFmpegFactory(ffmpegPath), nil)
	audioPipe := audio.NewPipeline(audio.NewOpusDecoder, audio.NewOtoSink(), nil)
	defer audioPipe.Close()

	client := session.NewClient(session.Config{
		ServerURL:   serverURL,
		Mode:        mode,
		BufferDepth: bufferDepth,
		PixelRatio:  1.0,
		Shared:      shared,
	}, mgr, audioPipe, surface, nil)

	coord := client.Coordinator()
	loop := render.NewLoop(surface, client.Painters(), coord.Mode, coord.Geometry, nil)

	apiSrv := &http.Server{
		Addr:    apiAddr,
		Handler: client.APIHandler(),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert.TLSCert},
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("render loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", apiAddr)
		if err := apiSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("client error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring bad integer env", "key", key, "value", v)
		return fallback
	}
	return n
}
