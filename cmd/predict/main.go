// Command predict classifies the garment in an image, or in every image of a directory.
//
//	predict [-config wardrobe.yaml] <image_path|directory>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-wardrobe/config"
	"github.com/nvr-ai/go-wardrobe/inference"
	"github.com/nvr-ai/go-wardrobe/inference/providers"
	"github.com/nvr-ai/go-wardrobe/logger"
	"github.com/nvr-ai/go-wardrobe/models/garment"
	"github.com/nvr-ai/go-wardrobe/util"
)

// classifier is the part of inference.Engine the command uses.
type classifier interface {
	Classify(data []byte) (garment.Result, error)
	Close() error
}

type openFunc func(cfg config.AppConfig, log *zap.Logger) (classifier, error)

func openEngine(cfg config.AppConfig, log *zap.Logger) (classifier, error) {
	return inference.NewEngineBuilder(log).
		WithProvider(cfg.Runtime).
		WithGarmentClassifier(cfg.Garment).
		Build()
}

func main() {
	_ = godotenv.Load()
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, openEngine)
	if err := providers.DestroyEnvironment(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

type prediction struct {
	path   string
	result garment.Result
	err    error
}

// run returns the process exit code: 0 when every image was classified, 1 otherwise.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, open openFunc) int {
	fail := color.New(color.FgRed, color.Bold)

	flags := flag.NewFlagSet("predict", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv("WARDROBE_CONFIG"), "path to a YAML config file")
	workers := flags.Int("workers", runtime.NumCPU(), "images decoded concurrently in directory mode")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: predict [-config file] [-workers n] <image_path|directory>")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail.Fprintln(stderr, "Error loading configuration:", err)
		return 1
	}
	cfg.Log.Level = "warn"
	log, err := logger.New(cfg.Log)
	if err != nil {
		fail.Fprintln(stderr, "Error creating logger:", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	engine, err := open(cfg, log)
	if err != nil {
		fail.Fprintln(stderr, "Error loading model:", err)
		return 1
	}
	defer engine.Close()

	files, err := util.LoadImageFiles(flags.Arg(0))
	if err != nil {
		fail.Fprintln(stderr, "Error loading images:", err)
		return 1
	}
	if len(files) == 0 {
		fail.Fprintln(stderr, "No images found in", flags.Arg(0))
		return 1
	}

	predictions := make([]prediction, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(max(1, *workers))
	for i, file := range files {
		g.Go(func() error {
			res, err := engine.Classify(file.Data)
			predictions[i] = prediction{path: file.Path, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return report(predictions, stdout, stderr)
}

func report(predictions []prediction, stdout, stderr io.Writer) int {
	label := color.New(color.FgGreen).SprintFunc()
	class := color.New(color.FgCyan).SprintFunc()
	fail := color.New(color.FgRed, color.Bold)
	multi := len(predictions) > 1

	code := 0
	for _, p := range predictions {
		if p.err != nil {
			code = 1
			fail.Fprintf(stderr, "%s: %s: %s\n", p.path, inference.Classify(p.err).Message(), inference.Detail(p.err))
			continue
		}
		if multi {
			fmt.Fprintln(stdout, p.path)
		}
		fmt.Fprintf(stdout, "Predicted label: %s\n", label(p.result.Label))
		fmt.Fprintf(stdout, "Garment class: %s\n", class(p.result.Class))
	}
	return code
}
