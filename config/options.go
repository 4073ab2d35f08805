package config

import (
	"io"

	"github.com/lestrrat-go/option"

	"github.com/nvr-ai/go-yolo-train/dataset"
	"github.com/nvr-ai/go-yolo-train/download"
	"github.com/nvr-ai/go-yolo-train/models/model"
)

// ModelFactory builds a fresh model for numClasses classes.
type ModelFactory func(numClasses int) (model.Model, error)

// GeneratorFactory builds a batch generator for one data split.
type GeneratorFactory func(args dataset.GeneratorArgs) (dataset.Generator, error)

// Option configures a Parser.
type Option interface {
	option.Interface
	parserOption()
}

type parserOption struct {
	option.Interface
}

func (*parserOption) parserOption() {}

type (
	identModelFactory     struct{}
	identDownloader       struct{}
	identGeneratorFactory struct{}
	identOutput           struct{}
	identSeed             struct{}
)

// WithModelFactory replaces the factory CreateModel builds models with.
func WithModelFactory(f ModelFactory) Option {
	return &parserOption{option.New(identModelFactory{}, f)}
}

// WithDownloader replaces the client that fetches missing darknet weights.
func WithDownloader(d download.Downloader) Option {
	return &parserOption{option.New(identDownloader{}, d)}
}

// WithGeneratorFactory replaces the factory CreateGenerator builds generators with.
func WithGeneratorFactory(f GeneratorFactory) Option {
	return &parserOption{option.New(identGeneratorFactory{}, f)}
}

// WithOutput sets where the sample count summary is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return &parserOption{option.New(identOutput{}, w)}
}

// WithSeed fixes the shuffling and augmentation seed of the generators.
func WithSeed(seed int64) Option {
	return &parserOption{option.New(identSeed{}, seed)}
}
