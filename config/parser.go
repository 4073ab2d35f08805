package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolo-train/dataset"
	"github.com/nvr-ai/go-yolo-train/download"
	"github.com/nvr-ai/go-yolo-train/logger"
	"github.com/nvr-ai/go-yolo-train/models"
	"github.com/nvr-ai/go-yolo-train/models/model"
	"github.com/nvr-ai/go-yolo-train/util"
)

var (
	// ErrParse is returned when the configuration file is missing or is not valid JSON.
	ErrParse = errors.New("cannot parse configuration")
	// ErrMissingKey is returned when a required key is absent.
	ErrMissingKey = errors.New("missing configuration key")
	// ErrInvalid is returned by Validate when the document does not match the schema.
	ErrInvalid = errors.New("invalid configuration")
)

// sections must all be present for a configuration to load.
var sections = []string{"model", "pretrained", "train"}

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/nvr-ai/go-yolo-train/blob/main/config/schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Parser reads a training configuration and builds the model, the generators and the
// training parameters it describes.
type Parser struct {
	path string
	k    *koanf.Koanf

	newModel     ModelFactory
	downloader   download.Downloader
	newGenerator GeneratorFactory
	out          io.Writer
	seed         int64
}

// NewParser loads the JSON configuration at path.
//
// Only the presence of the model, pretrained and train sections is checked here.
// Nested keys are looked up when an operation needs them.
//
// Arguments:
//   - path: The configuration file.
//   - opts: Replacements for the collaborators and the output writer.
//
// Returns:
//   - *Parser: The parser.
//   - error: ErrParse if the file is missing or malformed, ErrMissingKey if a section
//     is absent.
func NewParser(path string, opts ...Option) (*Parser, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, errors.Wrapf(ErrParse, "%s: %v", path, err)
	}
	for _, section := range sections {
		if !k.Exists(section) {
			return nil, errors.Wrapf(ErrMissingKey, "%s: %q", path, section)
		}
	}

	p := &Parser{
		path:         path,
		k:            k,
		newModel:     defaultModelFactory,
		newGenerator: defaultGeneratorFactory,
		out:          os.Stdout,
	}
	for _, o := range opts {
		switch o.Ident() {
		case identModelFactory{}:
			p.newModel = o.Value().(ModelFactory)
		case identDownloader{}:
			p.downloader = o.Value().(download.Downloader)
		case identGeneratorFactory{}:
			p.newGenerator = o.Value().(GeneratorFactory)
		case identOutput{}:
			p.out = o.Value().(io.Writer)
		case identSeed{}:
			p.seed = o.Value().(int64)
		}
	}
	if p.downloader == nil {
		p.downloader = download.NewClient(context.Background())
	}

	return p, nil
}

func defaultModelFactory(numClasses int) (model.Model, error) {
	return models.NewModel(model.NewModelArgs{
		Name:       model.ModelNameYOLOv3,
		Family:     model.ModelFamilyYOLO,
		NumClasses: numClasses,
	})
}

func defaultGeneratorFactory(args dataset.GeneratorArgs) (dataset.Generator, error) {
	g, err := dataset.NewBatchGenerator(args)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Path returns the configuration file the parser was loaded from.
func (p *Parser) Path() string {
	return p.path
}

// Config decodes the whole document into typed structs.
func (p *Parser) Config() (Config, error) {
	var cfg Config
	if err := p.k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrapf(ErrParse, "%s: %v", p.path, err)
	}
	return cfg, nil
}

// Validate checks the document against the configuration schema, reporting every
// missing or mistyped key at once.
func (p *Parser) Validate() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	if schemaErr != nil {
		return errors.Wrap(schemaErr, "compile configuration schema")
	}

	if err := schema.Validate(p.k.Raw()); err != nil {
		return errors.Wrapf(ErrInvalid, "%s: %v", p.path, err)
	}
	return nil
}

// CreateModel builds a model sized to the configured labels and fills its weights.
//
// The native checkpoint at pretrained.keras_format is loaded when it exists. Otherwise
// the darknet file at pretrained.darknet_format is downloaded from DarknetWeightsURL
// if needed and converted, leaving the detection layers untouched since their shape
// depends on the class count.
//
// Arguments:
//   - ctx: Cancels the download.
//
// Returns:
//   - model.Model: The model.
//   - error: ErrMissingKey, or the error of the factory, the download or the load.
func (p *Parser) CreateModel(ctx context.Context) (model.Model, error) {
	log, _ := logger.GetZapLogger(ctx)

	labels, err := p.strings("model.labels")
	if err != nil {
		return nil, err
	}
	kerasPath, err := p.str("pretrained.keras_format")
	if err != nil {
		return nil, err
	}

	m, err := p.newModel(len(labels))
	if err != nil {
		return nil, errors.WithMessage(err, "create model")
	}

	if util.Exists(kerasPath) {
		log.Info("loading native weights", zap.String("path", kerasPath))
		if err := m.LoadWeights(kerasPath); err != nil {
			return nil, errors.WithMessagef(err, "load weights %s", kerasPath)
		}
		return m, nil
	}

	darknetPath, err := p.str("pretrained.darknet_format")
	if err != nil {
		return nil, err
	}
	if err := p.downloader.EnsureLocal(ctx, darknetPath, DarknetWeightsURL); err != nil {
		return nil, errors.WithMessage(err, "fetch darknet weights")
	}

	log.Info("converting darknet weights",
		zap.String("path", darknetPath),
		zap.Int("classes", len(labels)),
	)
	if err := m.LoadDarknetParams(darknetPath, true); err != nil {
		return nil, errors.WithMessagef(err, "load darknet weights %s", darknetPath)
	}
	return m, nil
}

// CreateGenerator builds the training generator and, when the validation folder holds
// annotations, the validation generator.
//
// Validation runs at the single model.net_size resolution without shuffling or
// jitter, whatever the training size range is.
//
// Returns:
//   - dataset.Generator: The training generator.
//   - dataset.Generator: The validation generator, or nil without validation files.
//   - error: ErrMissingKey, or the error of the generator factory.
func (p *Parser) CreateGenerator() (dataset.Generator, dataset.Generator, error) {
	var (
		c   generatorKeys
		err error
	)
	if err = p.readGeneratorKeys(&c); err != nil {
		return nil, nil, err
	}

	trainFiles, err := util.FindFiles(c.trainAnnot, util.AnnotationPattern)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list training annotations")
	}
	validFiles, err := util.FindFiles(c.validAnnot, util.AnnotationPattern)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list validation annotations")
	}

	train, err := p.newGenerator(dataset.GeneratorArgs{
		AnnotationPaths: trainFiles,
		ImageFolder:     c.trainImages,
		BatchSize:       c.batchSize,
		Labels:          c.labels,
		Anchors:         c.anchors,
		MinNetSize:      c.minSize,
		MaxNetSize:      c.maxSize,
		Jitter:          c.jitter,
		Shuffle:         true,
		Seed:            p.seed,
	})
	if err != nil {
		return nil, nil, errors.WithMessage(err, "create training generator")
	}

	var valid dataset.Generator
	if len(validFiles) > 0 {
		valid, err = p.newGenerator(dataset.GeneratorArgs{
			AnnotationPaths: validFiles,
			ImageFolder:     c.validImages,
			BatchSize:       c.batchSize,
			Labels:          c.labels,
			Anchors:         c.anchors,
			MinNetSize:      c.netSize,
			MaxNetSize:      c.netSize,
			Jitter:          false,
			Shuffle:         false,
			Seed:            p.seed,
		})
		if err != nil {
			return nil, nil, errors.WithMessage(err, "create validation generator")
		}
	}

	fmt.Fprintf(p.out, "Training samples : %d, Validation samples : %d\n", len(trainFiles), len(validFiles))
	log, _ := logger.GetZapLogger(context.Background())
	log.Info("generators ready",
		zap.Int("train_samples", len(trainFiles)),
		zap.Int("valid_samples", len(validFiles)),
	)

	return train, valid, nil
}

// TrainParams returns the learning rate, save folder and epoch count.
func (p *Parser) TrainParams() (TrainParams, error) {
	lr, err := p.float("train.learning_rate")
	if err != nil {
		return TrainParams{}, err
	}
	saveFolder, err := p.str("train.save_folder")
	if err != nil {
		return TrainParams{}, err
	}
	numEpoch, err := p.integer("train.num_epoch")
	if err != nil {
		return TrainParams{}, err
	}
	return TrainParams{LearningRate: lr, SaveFolder: saveFolder, NumEpoch: numEpoch}, nil
}

type generatorKeys struct {
	trainAnnot, trainImages string
	validAnnot, validImages string
	labels                  []string
	anchors                 []float64
	netSize                 int
	minSize, maxSize        int
	batchSize               int
	jitter                  bool
}

func (p *Parser) readGeneratorKeys(c *generatorKeys) error {
	var err error
	for _, read := range []func(){
		func() { c.trainAnnot, err = p.str("train.train_annot_folder") },
		func() { c.trainImages, err = p.str("train.train_image_folder") },
		func() { c.validAnnot, err = p.str("train.valid_annot_folder") },
		func() { c.validImages, err = p.str("train.valid_image_folder") },
		func() { c.labels, err = p.strings("model.labels") },
		func() { c.anchors, err = p.floats("model.anchors") },
		func() { c.netSize, err = p.integer("model.net_size") },
		func() { c.minSize, err = p.integer("train.min_size") },
		func() { c.maxSize, err = p.integer("train.max_size") },
		func() { c.batchSize, err = p.integer("train.batch_size") },
		func() { c.jitter, err = p.boolean("train.jitter") },
	} {
		if read(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) require(key string) error {
	if !p.k.Exists(key) {
		return errors.Wrapf(ErrMissingKey, "%s: %q", p.path, key)
	}
	return nil
}

func (p *Parser) str(key string) (string, error) {
	if err := p.require(key); err != nil {
		return "", err
	}
	return p.k.String(key), nil
}

func (p *Parser) strings(key string) ([]string, error) {
	if err := p.require(key); err != nil {
		return nil, err
	}
	return p.k.Strings(key), nil
}

func (p *Parser) integer(key string) (int, error) {
	if err := p.require(key); err != nil {
		return 0, err
	}
	return p.k.Int(key), nil
}

func (p *Parser) float(key string) (float64, error) {
	if err := p.require(key); err != nil {
		return 0, err
	}
	return p.k.Float64(key), nil
}

func (p *Parser) floats(key string) ([]float64, error) {
	if err := p.require(key); err != nil {
		return nil, err
	}
	return p.k.Float64s(key), nil
}

func (p *Parser) boolean(key string) (bool, error) {
	if err := p.require(key); err != nil {
		return false, err
	}
	return p.k.Bool(key), nil
}
