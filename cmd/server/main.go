// Command server serves pose estimation and garment classification over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-wardrobe/config"
	"github.com/nvr-ai/go-wardrobe/handlers"
	"github.com/nvr-ai/go-wardrobe/inference"
	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("WARDROBE_CONFIG"), "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file, ignored when missing")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid log configuration:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// loadEnvFile loads a .env file into the process environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "error loading %s", path)
}

func run(ctx context.Context, cfg config.AppConfig, log *zap.Logger) error {
	poseArgs, err := cfg.PoseArgs()
	if err != nil {
		return err
	}

	engine, err := inference.NewEngineBuilder(log).
		WithProvider(cfg.Runtime).
		WithPoseModel(poseArgs).
		WithGarmentClassifier(cfg.Garment).
		Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("error closing engine", zap.Error(err))
		}
		if err := providers.DestroyEnvironment(); err != nil {
			log.Warn("error destroying onnxruntime environment", zap.Error(err))
		}
	}()

	log.Info("models loaded",
		zap.String("backend", cfg.Runtime.Backend),
		zap.Bool("pose_available", engine.PoseAvailable()))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %s", addr)
	}

	srv := &http.Server{
		Handler:      handlers.NewHandler(engine, cfg.Server.MaxUploadBytes, log.Named("http")).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	log.Info("server listening", zap.String("addr", ln.Addr().String()))
	return serve(ctx, srv, ln, cfg.Server.ShutdownTimeout)
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
