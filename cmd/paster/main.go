// paster downloads an image that the strip server serves as 50
// horizontal PNG fragments, assembles them concurrently, and writes the
// stacked result to a single PNG.
//
// Flags configure the pipeline; the bare positional form
//
//	paster <b> <p> <c> <x> <n>
//
// (buffer size, producers, consumers, consumer delay ms, image number)
// is also accepted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/ratcht/pngcore/internal/config"
	"github.com/ratcht/pngcore/internal/fetch"
	"github.com/ratcht/pngcore/internal/pipeline"
	"github.com/ratcht/pngcore/internal/png"
)

const fetchTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var verbose bool

	cfg := config.Default()

	flagSet := pflag.NewFlagSet("paster", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cfg.AddFlags(flagSet)

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if configPath != "" {
		fileCfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// Flags given on the command line win over file values.
		flagSet.Visit(func(f *pflag.Flag) {
			applyFlag(&fileCfg, &cfg, f.Name)
		})
		cfg = fileCfg
	}

	if err := applyPositional(&cfg, flagSet.Args()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	p, err := pipeline.New(pipeline.Options{
		BufferSize:    cfg.BufferSize,
		NumProducers:  cfg.NumProducers,
		NumConsumers:  cfg.NumConsumers,
		ConsumerDelay: time.Duration(cfg.ConsumerDelayMS) * time.Millisecond,
		ImageNum:      cfg.ImageNum,
		Endpoint:      cfg.Endpoint,
		Fetcher:       fetch.NewClient(fetchTimeout),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting pipeline",
		slog.Int("buffer_size", cfg.BufferSize),
		slog.Int("producers", cfg.NumProducers),
		slog.Int("consumers", cfg.NumConsumers),
		slog.Int("delay_ms", cfg.ConsumerDelayMS),
		slog.Int("image", cfg.ImageNum))

	if err := p.Run(context.Background()); err != nil {
		return err
	}

	result, err := p.Result()
	if err != nil {
		return err
	}
	if err := png.WriteFile(cfg.Output, result); err != nil {
		return err
	}

	fmt.Printf("paster execution time: %.2f seconds\n", p.Elapsed().Seconds())
	return nil
}

// applyFlag copies one explicitly-set flag value from src to dst.
func applyFlag(dst, src *config.Config, name string) {
	switch name {
	case "buffer-size":
		dst.BufferSize = src.BufferSize
	case "producers":
		dst.NumProducers = src.NumProducers
	case "consumers":
		dst.NumConsumers = src.NumConsumers
	case "delay":
		dst.ConsumerDelayMS = src.ConsumerDelayMS
	case "image":
		dst.ImageNum = src.ImageNum
	case "endpoint":
		dst.Endpoint = src.Endpoint
	case "output":
		dst.Output = src.Output
	}
}

// applyPositional accepts the classic argument order:
// <b> <p> <c> <x> <n>.
func applyPositional(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) != 5 {
		return fmt.Errorf("expected 5 positional arguments <b> <p> <c> <x> <n>, got %d", len(args))
	}

	fields := []*int{
		&cfg.BufferSize,
		&cfg.NumProducers,
		&cfg.NumConsumers,
		&cfg.ConsumerDelayMS,
		&cfg.ImageNum,
	}
	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %q is not an integer", i+1, arg)
		}
		*fields[i] = v
	}
	return nil
}
