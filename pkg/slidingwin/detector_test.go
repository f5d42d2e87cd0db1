package slidingwin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/stretchr/testify/require"
)

// A 4x4 window detector of bright squares. A fully lit window scores sigmoid(8).
func squareModel() *Model {
	w := make([]float32, 16)
	for i := range w {
		w[i] = 1
	}
	m := &Model{
		ModelConfig: nn.ModelConfig{
			Width:      4,
			Height:     4,
			Classes:    []string{"background", "square"},
			Background: 0,
		},
		Stride:    2,
		Scales:    []float32{1},
		Threshold: 0.9,
		NmsIou:    0.45,
		Templates: []Template{{Class: "square", Bias: -8, Weights: w}},
	}
	m.applyDefaults()
	return m
}

// 16x16 frame with a bright 4x4 square at row 4, column 8
func squareFrame(nchan int) nn.Frame {
	f := nn.Frame{Name: "square", Width: 16, Height: 16, NChan: nchan, Pixels: make([]byte, 16*16*nchan)}
	for y := 4; y < 8; y++ {
		for x := 8; x < 12; x++ {
			for c := 0; c < nchan; c++ {
				f.Pixels[(y*16+x)*nchan+c] = 255
			}
		}
	}
	return f
}

func TestForward(t *testing.T) {
	d, err := NewDetector(squareModel())
	require.NoError(t, err)
	defer d.Close()

	for _, nchan := range []int{1, 3} {
		frame := squareFrame(nchan)
		boxes, state, err := d.Forward(&frame)
		require.NoError(t, err)
		require.NoError(t, state.Validate())
		require.Equal(t, 1, len(boxes))
		b := boxes[0]
		require.Equal(t, 1, b.Class)
		require.Equal(t, float32(4), b.H0)
		require.Equal(t, float32(8), b.W0)
		require.Equal(t, float32(4), b.Height)
		require.Equal(t, 2, b.CellRow)
		require.Equal(t, 4, b.CellCol)
		require.Greater(t, b.Confidence, float32(0.99))

		require.Equal(t, 1, len(state.Maps))
		m := &state.Maps[0]
		require.Equal(t, 7, m.Rows())
		require.Equal(t, 7, m.Cols())
		// Half lit window is exactly on the boundary
		require.Equal(t, 1, m.Class(2, 3))
		require.InDelta(t, 0.5, m.Confidence(2, 3), 1e-6)
		// Empty window is confidently background
		require.Equal(t, 0, m.Class(0, 0))
		require.Greater(t, m.Confidence(0, 0), float32(0.99))

		fp, ok := state.Footprint(b)
		require.True(t, ok)
		sample := state.ExtractSample(fp, 4, 4)
		for _, v := range sample.Data {
			require.Equal(t, float32(1), v)
		}
	}
}

func TestPyramid(t *testing.T) {
	model := squareModel()
	model.Scales = []float32{1, 0.5, 0.1}
	d, err := NewDetector(model)
	require.NoError(t, err)
	frame := squareFrame(1)
	_, state, err := d.Forward(&frame)
	require.NoError(t, err)

	// At 0.1, the image is smaller than the window, so there is no map, but there is still an input
	require.Equal(t, 3, len(state.Inputs))
	require.Equal(t, 2, len(state.Maps))
	require.Equal(t, 8, state.Inputs[1].Tensor.Width)

	c := state.Cells(1)
	require.Equal(t, 1, c.Scale)
	require.Equal(t, float32(4), c.StepH)
	require.Equal(t, float32(8), c.Window.Height)
	require.Equal(t, 3, state.Maps[1].Rows())
}

func TestBadFrames(t *testing.T) {
	d, err := NewDetector(squareModel())
	require.NoError(t, err)
	_, _, err = d.Forward(&nn.Frame{Name: "x.jpg"})
	require.Error(t, err)
	f := squareFrame(1)
	f.NChan = 2
	f.Pixels = make([]byte, 16*16*2)
	_, _, err = d.Forward(&f)
	require.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(fn, []byte(`{
		"width": 2, "height": 2, "classes": ["bg", "face"], "background": 0,
		"templates": [{"class": "face", "bias": -1, "weights": [1, 1, 1, 1]}]
	}`), 0644))
	m, err := LoadModel(fn)
	require.NoError(t, err)
	require.Equal(t, "slidingwin", m.Architecture)
	require.Equal(t, 1, m.Stride)
	require.Equal(t, []float32{1}, m.Scales)
	require.Equal(t, float32(nn.DefaultProbabilityThreshold), m.Threshold)

	require.NoError(t, os.WriteFile(fn, []byte(`{
		"width": 2, "height": 2, "classes": ["bg", "face"], "background": 0,
		"templates": [{"class": "face", "weights": [1, 1, 1]}]
	}`), 0644))
	_, err = LoadModel(fn)
	require.ErrorContains(t, err, "weights")

	require.NoError(t, os.WriteFile(fn, []byte(`{
		"width": 2, "height": 2, "classes": ["bg", "face"], "background": 0,
		"templates": [{"class": "bg", "weights": [1, 1, 1, 1]}]
	}`), 0644))
	_, err = LoadModel(fn)
	require.ErrorContains(t, err, "background")
}
