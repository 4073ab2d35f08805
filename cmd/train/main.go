package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolo-train/config"
	"github.com/nvr-ai/go-yolo-train/logger"
)

const (
	// DefaultConfigPath is the configuration file used when -config is not given.
	DefaultConfigPath = "config.json"
	// checkpointName is the native checkpoint written by -export.
	checkpointName = "weights.gob"
)

func main() {
	var (
		configPath string
		debug      bool
		strict     bool
		export     bool
	)
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Path to the JSON training configuration")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&strict, "strict", false, "Validate the whole configuration before building anything")
	flag.BoolVar(&export, "export", false, "Save the initialised model as a native checkpoint in the save folder")
	flag.Parse()

	logger.SetDebug(debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, strict, export); err != nil {
		log, _ := logger.GetZapLogger(ctx)
		log.Error("training bootstrap failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

// run builds the model, the generators and the training parameters described by the
// configuration, optionally validating it first and exporting the initialised model.
func run(ctx context.Context, configPath string, strict, export bool, opts ...config.Option) error {
	log, err := logger.GetZapLogger(ctx)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	parser, err := config.NewParser(configPath, opts...)
	if err != nil {
		return err
	}
	if strict {
		if err := parser.Validate(); err != nil {
			return err
		}
	}

	m, err := parser.CreateModel(ctx)
	if err != nil {
		return err
	}
	log.Info("model ready",
		zap.String("name", string(m.Options().Name)),
		zap.Int("classes", m.NumClasses()),
	)

	train, valid, err := parser.CreateGenerator()
	if err != nil {
		return err
	}
	fields := []zap.Field{zap.Int("train_batches", train.Len())}
	if valid != nil {
		fields = append(fields, zap.Int("valid_batches", valid.Len()))
	}
	log.Info("generators ready", fields...)

	params, err := parser.TrainParams()
	if err != nil {
		return err
	}
	log.Info("train params",
		zap.Float64("learning_rate", params.LearningRate),
		zap.String("save_folder", params.SaveFolder),
		zap.Int("num_epoch", params.NumEpoch),
	)

	if export {
		path := filepath.Join(params.SaveFolder, checkpointName)
		if err := m.SaveWeights(path); err != nil {
			return err
		}
		log.Info("checkpoint saved", zap.String("path", path))
	}

	return nil
}
