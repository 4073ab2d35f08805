package yolov3

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-yolo-train/models/model"
)

var (
	// ErrTruncated is returned when a weight file ends before every layer is read.
	ErrTruncated = errors.New("weight file truncated")
	// ErrShapeMismatch is returned when stored parameters do not fit the model.
	ErrShapeMismatch = errors.New("parameter shape mismatch")
)

var _ model.Model = (*YOLOv3)(nil)

// DarknetHeader is the preamble of a darknet .weights file.
type DarknetHeader struct {
	Major, Minor, Revision int32
	// Seen is the number of images the network was trained on.
	Seen uint64
}

// ReadDarknetHeader reads the version triple and the seen counter, which is 64 bits
// wide from format version 0.2 onwards.
func ReadDarknetHeader(r io.Reader) (DarknetHeader, error) {
	var h DarknetHeader
	var version [3]int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return h, errors.Wrap(ErrTruncated, "header")
	}
	h.Major, h.Minor, h.Revision = version[0], version[1], version[2]

	if (h.Major*10+h.Minor) >= 2 && h.Major < 1000 && h.Minor < 1000 {
		if err := binary.Read(r, binary.LittleEndian, &h.Seen); err != nil {
			return h, errors.Wrap(ErrTruncated, "header")
		}
	} else {
		var seen uint32
		if err := binary.Read(r, binary.LittleEndian, &seen); err != nil {
			return h, errors.Wrap(ErrTruncated, "header")
		}
		h.Seen = uint64(seen)
	}

	return h, nil
}

// LoadDarknetParams converts a darknet binary weight file into the model.
//
// Layers are read in file order. When skipDetectLayer is true, the detection layers
// are read with the darknet source class count and discarded, so they keep their
// initial values; this is how weights move between label sets. Without skipping,
// the model's class count must equal the source class count.
//
// Nothing is written to the model unless the whole file converts cleanly.
//
// Arguments:
//   - path: The darknet .weights file.
//   - skipDetectLayer: Whether to leave the detection layers uninitialised.
//
// Returns:
//   - error: An error if the file cannot be read, is truncated, or has trailing data.
func (m *YOLOv3) LoadDarknetParams(path string, skipDetectLayer bool) error {
	if !skipDetectLayer && m.numClasses != m.sourceClasses {
		return errors.Wrapf(ErrShapeMismatch,
			"model has %d classes but darknet weights have %d; skip the detection layers",
			m.numClasses, m.sourceClasses)
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open darknet weights")
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	if _, err := ReadDarknetHeader(r); err != nil {
		return errors.WithMessage(err, path)
	}

	staged := make([][][]float32, len(m.layers))
	for i, l := range m.layers {
		if l.Spec.Detect && skipDetectLayer {
			filters := DetectFilters(m.sourceClasses)
			n := int64(filters + filters*l.Spec.In*l.Spec.Size*l.Spec.Size)
			if skipped, err := io.CopyN(io.Discard, r, n*4); err != nil || skipped != n*4 {
				return errors.Wrapf(ErrTruncated, "%s: detection layer %d", path, i)
			}
			continue
		}

		params := l.params()
		staged[i] = make([][]float32, len(params))
		for j, p := range params {
			buf := make([]float32, p.Shape().TotalSize())
			if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
				return errors.Wrapf(ErrTruncated, "%s: layer %d", path, i)
			}
			staged[i][j] = buf
		}
	}

	if _, err := r.ReadByte(); err != io.EOF {
		return errors.Wrapf(ErrShapeMismatch, "%s: trailing data after %d layers", path, len(m.layers))
	}

	for i, l := range m.layers {
		if staged[i] == nil {
			continue
		}
		for j, p := range l.params() {
			copy(p.Float32s(), staged[i][j])
		}
		l.Source = SourceDarknet
	}

	return nil
}

// WriteDarknetParams writes the model in darknet .weights layout (format 0.2).
//
// Detection layers are written with the model's own class count.
func (m *YOLOv3) WriteDarknetParams(w io.Writer, seen uint64) error {
	header := []int32{0, 2, 0}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, seen); err != nil {
		return err
	}
	for _, l := range m.layers {
		for _, p := range l.params() {
			if err := binary.Write(w, binary.LittleEndian, p.Float32s()); err != nil {
				return err
			}
		}
	}
	return nil
}
