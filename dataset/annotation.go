// Package dataset - PASCAL VOC annotations and the batch generators that feed training.
package dataset

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolo-train/common"
	"github.com/nvr-ai/go-yolo-train/models/model"
)

// Annotation is one parsed PASCAL VOC annotation file.
type Annotation struct {
	// Source is the annotation file path.
	Source string `json:"source"`
	// ImagePath is the image the annotation refers to, inside the image folder.
	ImagePath string `json:"image_path"`
	// Width and Height are the image dimensions recorded in the annotation.
	Width  int `json:"width"`
	Height int `json:"height"`
	// Objects are the labelled boxes, in source pixel coordinates.
	Objects []common.BoundingBox `json:"objects"`
}

type vocAnnotation struct {
	XMLName  xml.Name `xml:"annotation"`
	Filename string   `xml:"filename"`
	Size     struct {
		Width  int `xml:"width"`
		Height int `xml:"height"`
	} `xml:"size"`
	Objects []struct {
		Name   string `xml:"name"`
		BndBox struct {
			XMin float32 `xml:"xmin"`
			YMin float32 `xml:"ymin"`
			XMax float32 `xml:"xmax"`
			YMax float32 `xml:"ymax"`
		} `xml:"bndbox"`
	} `xml:"object"`
}

// ParseAnnotation reads a PASCAL VOC annotation file.
//
// Objects whose name is not in labels are dropped; an empty labels slice keeps every
// object and assigns class -1. Boxes with no area are dropped.
//
// Arguments:
//   - path: The XML annotation file.
//   - imageFolder: The folder the annotated image lives in.
//   - labels: The label names, whose order defines the class indices.
//
// Returns:
//   - Annotation: The parsed annotation.
//   - error: An error if the file cannot be read or is not a VOC annotation.
func ParseAnnotation(path, imageFolder string, labels []string) (Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Annotation{}, errors.Wrap(err, "read annotation")
	}

	var voc vocAnnotation
	if err := xml.Unmarshal(data, &voc); err != nil {
		return Annotation{}, errors.Wrapf(err, "parse annotation %s", path)
	}
	if voc.Filename == "" {
		return Annotation{}, errors.Errorf("annotation %s has no filename", path)
	}

	classes := model.NewLabelSet(labels)

	ann := Annotation{
		Source:    path,
		ImagePath: filepath.Join(imageFolder, strings.TrimSpace(voc.Filename)),
		Width:     voc.Size.Width,
		Height:    voc.Size.Height,
	}
	for _, obj := range voc.Objects {
		name := strings.TrimSpace(obj.Name)
		class := -1
		if len(labels) > 0 {
			c, ok := classes.Index(name)
			if !ok {
				continue
			}
			class = c
		}

		box := common.BoundingBox{
			Label: name,
			Class: class,
			X1:    obj.BndBox.XMin,
			Y1:    obj.BndBox.YMin,
			X2:    obj.BndBox.XMax,
			Y2:    obj.BndBox.YMax,
		}
		if box.Area() <= 0 {
			continue
		}
		ann.Objects = append(ann.Objects, box)
	}

	return ann, nil
}
