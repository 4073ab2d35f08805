// Package model - Definitions shared by every trainable detection model.
package model

// Family is the family of models.
type Family string

const (
	// ModelFamilyYOLO is the YOLO model family.
	ModelFamilyYOLO Family = "yolo"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLOv3 is the name of the darknet YOLOv3 model.
	ModelNameYOLOv3 Name = "yolov3"
)

// BaseModel describes a constructed model.
type BaseModel struct {
	Name       Name
	Family     Family
	NumClasses int
}

// Model is a trainable detector whose parameters can be restored from disk.
type Model interface {
	// Options returns the description of the model.
	Options() BaseModel
	// NumClasses returns the number of object classes the detection layers predict.
	NumClasses() int
	// LoadWeights restores every parameter from a native checkpoint.
	LoadWeights(path string) error
	// SaveWeights writes every parameter to a native checkpoint.
	SaveWeights(path string) error
	// LoadDarknetParams converts a darknet binary weight file into the model.
	// When skipDetectLayer is true the detection layers are read and discarded.
	LoadDarknetParams(path string, skipDetectLayer bool) error
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name       Name   `json:"name" yaml:"name"`
	Family     Family `json:"family" yaml:"family"`
	NumClasses int    `json:"num_classes" yaml:"num_classes"`
}
