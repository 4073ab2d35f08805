package yolov3

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-yolo-train/models/model"
)

// tinyArchitecture is a two-branch network small enough to allocate in tests.
func tinyArchitecture() Architecture {
	return Architecture{
		conv(3, 4, 3, 1),
		conv(4, 8, 3, 2),
		detect(8),
		ConvSpec{Filters: 4, In: 8, Size: 1, Stride: 1},
		detect(4),
	}
}

func newTiny(t *testing.T, numClasses int, opts ...Option) *YOLOv3 {
	t.Helper()
	opts = append([]Option{WithArchitecture(tinyArchitecture())}, opts...)
	m, err := NewModel(model.NewModelArgs{Name: model.ModelNameYOLOv3, NumClasses: numClasses}, opts...)
	require.NoError(t, err)
	return m
}

// fill sets every parameter of m to a value derived from its position so loads can
// be checked exactly.
func fill(m *YOLOv3, base float32) {
	for i, l := range m.Layers() {
		for j, p := range l.params() {
			data := p.Float32s()
			for k := range data {
				data[k] = base + float32(i*1000+j*100+k%100)
			}
		}
	}
}

func writeDarknet(t *testing.T, m *YOLOv3) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, m.WriteDarknetParams(&buf, 32013312))
	path := filepath.Join(t.TempDir(), "source.weights")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestYOLOv3Architecture(t *testing.T) {
	arch := YOLOv3Architecture()

	require.NoError(t, arch.Validate())
	assert.Len(t, arch, 75)
	assert.Equal(t, []int{58, 66, 74}, arch.DetectLayers())
	// Float count of the published yolov3.weights (248007048 bytes minus the header).
	assert.Equal(t, 62001757, arch.NumParams(DarknetSourceClasses))
	assert.Equal(t, 255, arch.OutChannels(58, 80))
	assert.Equal(t, 45, arch.OutChannels(74, 10))
}

func TestArchitectureValidate(t *testing.T) {
	assert.Error(t, Architecture{}.Validate())
	assert.Error(t, Architecture{{Filters: 0, In: 3, Size: 1, Stride: 1}}.Validate())
	assert.Error(t, Architecture{{In: 3, Size: 1, Stride: 1, Detect: true, BatchNorm: true}}.Validate())
}

func TestNewModel(t *testing.T) {
	_, err := NewModel(model.NewModelArgs{NumClasses: 0})
	assert.Error(t, err)

	m := newTiny(t, 2)
	assert.Equal(t, 2, m.NumClasses())
	assert.Equal(t, model.BaseModel{Name: model.ModelNameYOLOv3, Family: model.ModelFamilyYOLO, NumClasses: 2}, m.Options())
	assert.Equal(t, tinyArchitecture().NumParams(2), m.NumParams())

	det := m.Layers()[2]
	assert.Equal(t, tensor.Shape{21, 8, 1, 1}, det.Weights.Shape())
	assert.Nil(t, det.Gamma)

	bn := m.Layers()[0]
	assert.Equal(t, tensor.Shape{4, 3, 3, 3}, bn.Weights.Shape())
	assert.Equal(t, []float32{1, 1, 1, 1}, bn.Gamma.Float32s())
	assert.Equal(t, []float32{1, 1, 1, 1}, bn.Variance.Float32s())
	assert.Equal(t, []float32{0, 0, 0, 0}, bn.Mean.Float32s())

	for _, l := range m.Layers() {
		assert.Equal(t, SourceRandom, l.Source)
	}
}

func TestGraphLearnables(t *testing.T) {
	m := newTiny(t, 2)
	g, learnables := m.Graph()
	require.NotNil(t, g)

	// weights + bias for each layer, gamma for the two batch-norm layers.
	assert.Len(t, learnables, 2*5+2)
	assert.Equal(t, "conv_0_w", learnables[0].Name())
	assert.Equal(t, m.Layers()[0].Weights.Shape(), learnables[0].Shape())
}

func TestReadDarknetHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{0, 1, 0}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(77)))

	h, err := ReadDarknetHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, DarknetHeader{Major: 0, Minor: 1, Revision: 0, Seen: 77}, h)

	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{0, 2, 5}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(1<<40)))
	h, err = ReadDarknetHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), h.Seen)

	_, err = ReadDarknetHeader(bytes.NewReader([]byte{0, 0}))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestLoadDarknetParamsSkipsDetectLayers(t *testing.T) {
	// The source was trained on 80 classes, the target has 3.
	source := newTiny(t, DarknetSourceClasses)
	fill(source, 1)
	path := writeDarknet(t, source)

	target := newTiny(t, 3)
	before := make([]float32, len(target.Layers()[2].Weights.Float32s()))
	copy(before, target.Layers()[2].Weights.Float32s())

	require.NoError(t, target.LoadDarknetParams(path, true))

	for _, i := range []int{0, 1, 3} {
		l := target.Layers()[i]
		assert.Equal(t, SourceDarknet, l.Source, "layer %d", i)
		for j, p := range l.params() {
			assert.Equal(t, source.Layers()[i].params()[j].Float32s(), p.Float32s(), "layer %d tensor %d", i, j)
		}
	}

	for _, i := range []int{2, 4} {
		assert.Equal(t, SourceRandom, target.Layers()[i].Source, "detection layer %d", i)
	}
	assert.Equal(t, before, target.Layers()[2].Weights.Float32s())
}

func TestLoadDarknetParamsWithoutSkip(t *testing.T) {
	source := newTiny(t, 2)
	fill(source, 5)

	target := newTiny(t, 2, WithDarknetSourceClasses(2))
	require.NoError(t, target.LoadDarknetParams(writeDarknet(t, source), false))
	for i, l := range target.Layers() {
		assert.Equal(t, SourceDarknet, l.Source)
		assert.Equal(t, source.Layers()[i].Weights.Float32s(), l.Weights.Float32s())
	}

	mismatched := newTiny(t, 3)
	err := mismatched.LoadDarknetParams(writeDarknet(t, source), false)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoadDarknetParamsRejectsBadFiles(t *testing.T) {
	source := newTiny(t, DarknetSourceClasses)
	path := writeDarknet(t, source)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	truncated := filepath.Join(t.TempDir(), "truncated.weights")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)-8], 0o644))

	target := newTiny(t, 3)
	err = target.LoadDarknetParams(truncated, true)
	assert.ErrorIs(t, err, ErrTruncated)
	for _, l := range target.Layers() {
		assert.Equal(t, SourceRandom, l.Source, "failed loads must not touch the model")
	}

	trailing := filepath.Join(t.TempDir(), "trailing.weights")
	require.NoError(t, os.WriteFile(trailing, append(data, 0, 0, 0, 0), 0o644))
	assert.ErrorIs(t, target.LoadDarknetParams(trailing, true), ErrShapeMismatch)

	assert.Error(t, target.LoadDarknetParams(filepath.Join(t.TempDir(), "missing.weights"), true))
}

func TestCheckpointRoundTrip(t *testing.T) {
	source := newTiny(t, 3)
	fill(source, 2)
	path := filepath.Join(t.TempDir(), "svhn", "weights.gob")
	require.NoError(t, source.SaveWeights(path))

	target := newTiny(t, 3)
	require.NoError(t, target.LoadWeights(path))
	for i, l := range target.Layers() {
		assert.Equal(t, SourceCheckpoint, l.Source)
		for j, p := range l.params() {
			assert.Equal(t, source.Layers()[i].params()[j].Float32s(), p.Float32s())
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")
}

func TestLoadWeightsRejectsMismatch(t *testing.T) {
	source := newTiny(t, 3)
	path := filepath.Join(t.TempDir(), "weights.gob")
	require.NoError(t, source.SaveWeights(path))

	other := newTiny(t, 4)
	assert.ErrorIs(t, other.LoadWeights(path), ErrShapeMismatch)

	garbage := filepath.Join(t.TempDir(), "garbage.gob")
	require.NoError(t, os.WriteFile(garbage, []byte("nope"), 0o644))
	assert.Error(t, other.LoadWeights(garbage))
}

func writeCheckpoint(t *testing.T, ckpt checkpoint) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&ckpt))
	path := filepath.Join(t.TempDir(), "weights.gob")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestCheckpointStoresDenseTensors(t *testing.T) {
	source := newTiny(t, 3)
	fill(source, 3)
	path := filepath.Join(t.TempDir(), "weights.gob")
	require.NoError(t, source.SaveWeights(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ckpt checkpoint
	require.NoError(t, gob.NewDecoder(f).Decode(&ckpt))
	require.Len(t, ckpt.Layers, len(source.Layers()))
	w := ckpt.Layers[0].Tensors[len(ckpt.Layers[0].Tensors)-1]
	assert.Equal(t, tensor.Float32, w.Dtype())
	assert.Equal(t, tensor.Shape{4, 3, 3, 3}, w.Shape())
	assert.Equal(t, source.Layers()[0].Weights.Float32s(), w.Float32s())
}

func TestLoadWeightsRejectsForeignTensors(t *testing.T) {
	target := newTiny(t, 3)
	build := func() checkpoint {
		ckpt := checkpoint{Version: checkpointVersion, Name: model.ModelNameYOLOv3, NumClasses: 3}
		for _, l := range newTiny(t, 3).Layers() {
			ckpt.Layers = append(ckpt.Layers, checkpointLayer{Spec: l.Spec, Tensors: l.params()})
		}
		return ckpt
	}

	wrongType := build()
	wrongType.Layers[1].Tensors[0] = tensor.New(tensor.WithShape(8), tensor.WithBacking(make([]float64, 8)))
	assert.ErrorIs(t, target.LoadWeights(writeCheckpoint(t, wrongType)), ErrShapeMismatch)

	wrongShape := build()
	wrongShape.Layers[1].Tensors[0] = tensor.New(tensor.WithShape(9), tensor.WithBacking(make([]float32, 9)))
	assert.ErrorIs(t, target.LoadWeights(writeCheckpoint(t, wrongShape)), ErrShapeMismatch)

	oldVersion := build()
	oldVersion.Version = 1
	assert.Error(t, target.LoadWeights(writeCheckpoint(t, oldVersion)))

	for _, l := range target.Layers() {
		assert.Equal(t, SourceRandom, l.Source)
	}

	require.NoError(t, target.LoadWeights(writeCheckpoint(t, build())))
}
