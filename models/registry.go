// Package models - registry for models.
package models

import (
	"fmt"

	"github.com/nvr-ai/go-yolo-train/models/model"
	"github.com/nvr-ai/go-yolo-train/models/yolov3"
)

// NewModel creates a new detection model instance based on the specified model type.
//
// Arguments:
//   - args: Configuration parameters specifying the model type and class count.
//
// Returns:
//   - model.Model: A freshly initialised model implementing the Model interface.
//   - error: An error if the model type is unsupported or the arguments are invalid.
//
// Example:
//
// ```go
//
//	m, err := NewModel(model.NewModelArgs{
//	    Name:       model.ModelNameYOLOv3,
//	    NumClasses: 10,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//
// ```
func NewModel(args model.NewModelArgs) (model.Model, error) {
	switch args.Name {
	case model.ModelNameYOLOv3, "":
		m, err := yolov3.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", args.Name)
	}
}
