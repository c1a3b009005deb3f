package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/krau/signtagger/config"
	"github.com/krau/signtagger/onnx"
	"github.com/krau/signtagger/server"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(config.Path())
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("Starting SignTagger", slog.String("version", server.Version))

	ort.SetSharedLibraryPath(onnx.LibPath(cfg.Libonnx))
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("Failed to initialize ONNX Runtime environment", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	pipeline, closeModel, err := server.Init(cfg)
	if err != nil {
		slog.Error("Failed to initialize model", slog.String("error", err.Error()))
		ort.DestroyEnvironment()
		os.Exit(1)
	}
	defer closeModel()
	slog.Info("Model ready", slog.Int("labels", len(pipeline.Labels())), slog.Any("words", pipeline.Labels()))

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(cfg, pipeline)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		return srv.Stop(context.Background())
	})
	if err := g.Wait(); err != nil {
		slog.Error("Server error", slog.String("error", err.Error()))
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
