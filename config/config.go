// Package config - JSON training configuration and the factories it drives.
package config

// DarknetWeightsURL is where the darknet YOLOv3 weights are fetched from when the
// configured darknet file is absent.
const DarknetWeightsURL = "https://pjreddie.com/media/files/yolov3.weights"

// Config is the typed view of a training configuration file.
type Config struct {
	Model      ModelConfig      `koanf:"model" json:"model"`
	Pretrained PretrainedConfig `koanf:"pretrained" json:"pretrained"`
	Train      TrainConfig      `koanf:"train" json:"train"`
}

// ModelConfig is the network geometry.
type ModelConfig struct {
	// Anchors is a flat sequence of width/height pairs, smallest first.
	Anchors []float64 `koanf:"anchors" json:"anchors"`
	Labels  []string  `koanf:"labels" json:"labels"`
	NetSize int       `koanf:"net_size" json:"net_size"`
}

// PretrainedConfig locates the pretrained weights.
type PretrainedConfig struct {
	// KerasFormat is the native checkpoint; it is loaded when it exists.
	KerasFormat string `koanf:"keras_format" json:"keras_format"`
	// DarknetFormat is the darknet weight file used otherwise.
	DarknetFormat string `koanf:"darknet_format" json:"darknet_format"`
}

// TrainConfig holds the training hyperparameters and dataset folders.
type TrainConfig struct {
	MinSize          int     `koanf:"min_size" json:"min_size"`
	MaxSize          int     `koanf:"max_size" json:"max_size"`
	NumEpoch         int     `koanf:"num_epoch" json:"num_epoch"`
	TrainImageFolder string  `koanf:"train_image_folder" json:"train_image_folder"`
	TrainAnnotFolder string  `koanf:"train_annot_folder" json:"train_annot_folder"`
	ValidImageFolder string  `koanf:"valid_image_folder" json:"valid_image_folder"`
	ValidAnnotFolder string  `koanf:"valid_annot_folder" json:"valid_annot_folder"`
	BatchSize        int     `koanf:"batch_size" json:"batch_size"`
	LearningRate     float64 `koanf:"learning_rate" json:"learning_rate"`
	SaveFolder       string  `koanf:"save_folder" json:"save_folder"`
	Jitter           bool    `koanf:"jitter" json:"jitter"`
}

// TrainParams is what the training loop needs beyond the model and the generators.
type TrainParams struct {
	LearningRate float64
	SaveFolder   string
	NumEpoch     int
}
