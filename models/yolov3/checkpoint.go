package yolov3

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo-train/models/model"
)

const checkpointVersion = 2

// checkpointLayer holds the tensors of one layer in darknet order; each tensor
// serialises itself through its gob encoding.
type checkpointLayer struct {
	Spec    ConvSpec
	Tensors []*tensor.Dense
}

type checkpoint struct {
	Version    int
	Name       model.Name
	NumClasses int
	Layers     []checkpointLayer
}

// SaveWeights writes every parameter to a native checkpoint at path.
//
// The file is written next to path and renamed into place, so readers never see a
// partial checkpoint.
func (m *YOLOv3) SaveWeights(path string) error {
	ckpt := checkpoint{
		Version:    checkpointVersion,
		Name:       model.ModelNameYOLOv3,
		NumClasses: m.numClasses,
		Layers:     make([]checkpointLayer, len(m.layers)),
	}
	for i, l := range m.layers {
		ckpt.Layers[i] = checkpointLayer{Spec: l.Spec, Tensors: l.params()}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 1<<20)
	if err := gob.NewEncoder(w).Encode(&ckpt); err != nil {
		tmp.Close()
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}

	return errors.Wrap(os.Rename(tmp.Name(), path), "install checkpoint")
}

// LoadWeights restores every parameter from a native checkpoint written by SaveWeights.
//
// The checkpoint must match the model layer for layer, class count included.
// Nothing is written to the model unless every layer fits.
func (m *YOLOv3) LoadWeights(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	var ckpt checkpoint
	if err := gob.NewDecoder(bufio.NewReaderSize(f, 1<<20)).Decode(&ckpt); err != nil {
		return errors.Wrapf(err, "decode checkpoint %s", path)
	}

	if ckpt.Version != checkpointVersion {
		return errors.Errorf("checkpoint %s: unsupported version %d", path, ckpt.Version)
	}
	if ckpt.NumClasses != m.numClasses {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint %s has %d classes, model has %d",
			path, ckpt.NumClasses, m.numClasses)
	}
	if len(ckpt.Layers) != len(m.layers) {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint %s has %d layers, model has %d",
			path, len(ckpt.Layers), len(m.layers))
	}

	for i, l := range m.layers {
		params := l.params()
		stored := ckpt.Layers[i].Tensors
		if ckpt.Layers[i].Spec != l.Spec || len(stored) != len(params) {
			return errors.Wrapf(ErrShapeMismatch, "checkpoint %s: layer %d differs", path, i)
		}
		for j, p := range params {
			if stored[j] == nil || stored[j].Dtype() != tensor.Float32 {
				return errors.Wrapf(ErrShapeMismatch, "checkpoint %s: layer %d tensor %d is not float32", path, i, j)
			}
			if !stored[j].Shape().Eq(p.Shape()) {
				return errors.Wrapf(ErrShapeMismatch, "checkpoint %s: layer %d tensor %d has shape %v, want %v",
					path, i, j, stored[j].Shape(), p.Shape())
			}
		}
	}

	for i, l := range m.layers {
		for j, p := range l.params() {
			copy(p.Float32s(), ckpt.Layers[i].Tensors[j].Float32s())
		}
		l.Source = SourceCheckpoint
	}

	return nil
}
