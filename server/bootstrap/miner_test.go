package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cyclopcam/hardmine/pkg/matio"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/stretchr/testify/require"
)

// recordingLog keeps every message, so that tests can check diagnostics
type recordingLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLog) add(level, format string, a ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, a...))
}

func (l *recordingLog) Debugf(format string, a ...any)    { l.add("D", format, a...) }
func (l *recordingLog) Infof(format string, a ...any)     { l.add("I", format, a...) }
func (l *recordingLog) Warnf(format string, a ...any)     { l.add("W", format, a...) }
func (l *recordingLog) Errorf(format string, a ...any)    { l.add("E", format, a...) }
func (l *recordingLog) Criticalf(format string, a ...any) { l.add("C", format, a...) }

func (l *recordingLog) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// fakeGT serves ground truth from memory. A missing key means there is no ground truth file.
type fakeGT struct {
	accepted map[string]nn.BoxSet
	rejected map[string]nn.BoxSet
	broken   map[string]bool
	loads    int
}

func (g *fakeGT) Exists(name string) bool {
	_, a := g.accepted[name]
	_, r := g.rejected[name]
	return a || r || g.broken[name]
}

func (g *fakeGT) LoadClean(name string) (nn.BoxSet, nn.BoxSet, error) {
	g.loads++
	if g.broken[name] {
		return nil, nil, errors.New("bad json")
	}
	return g.accepted[name].Clone(), g.rejected[name].Clone(), nil
}

// A single map of rows x cols cells, with the given step and square window.
// Every cell is background with zero confidence.
func gridState(rows, cols int, step, window float32) *nn.State {
	s := &nn.State{ImageWidth: 64, ImageHeight: 64, Background: 0}
	s.Maps = []nn.ScoreMap{{Scale: 0, Output: 0, Tensor: nn.NewTensor(2, rows, cols)}}
	h := float32(rows) * step
	w := float32(cols) * step
	s.Geometry.Append(nn.Point{H: 0, W: 0}, nn.Point{H: 0, W: w}, nn.Point{H: h, W: 0}, nn.Point{H: h, W: w}, nn.Size{Height: window, Width: window})
	in := nn.NewTensor(1, 64, 64)
	for i := range in.Data {
		in.Data[i] = float32(i)
	}
	s.Inputs = []nn.ScaleInput{{Tensor: in, Factor: 1}}
	return s
}

func model(classes int, size int) *nn.ModelConfig {
	m := &nn.ModelConfig{Width: size, Height: size, Background: 0}
	for i := 0; i < classes; i++ {
		m.Classes = append(m.Classes, fmt.Sprintf("class%v", i))
	}
	return m
}

func positiveConfig() Config {
	c := DefaultConfig()
	c.Enabled = true
	c.Negatives = false
	c.ScaleFactors = []Factor{{Height: 20.0 / 24, Width: 20.0 / 24}}
	return c
}

func TestPositiveScenario(t *testing.T) {
	gt := nn.Box{H0: 10, W0: 10, Height: 20, Width: 20, Class: 1}
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": {gt}}}
	m := NewMiner(&recordingLog{}, positiveConfig(), truth, model(2, 24))
	state := gridState(10, 10, 4, 24)

	require.NoError(t, m.Mine(state, "a", true, 1))
	pos := m.PositiveSamples()
	require.Equal(t, 1, len(pos))
	b := pos[0].Box
	require.Equal(t, 1, b.Class)
	require.GreaterOrEqual(t, b.Confidence, float32(0.5))
	require.Equal(t, 2, b.CellRow)
	require.Equal(t, 2, b.CellCol)
	fp, ok := state.Footprint(b)
	require.True(t, ok)
	require.InDelta(t, gt.H0, fp.H0, 4)
	require.InDelta(t, gt.W0, fp.W0, 4)
	require.Equal(t, 0, len(m.NegativeSamples()))

	// The sample is the network input under the footprint
	require.Equal(t, 24, pos[0].Tensor.Height)
	require.Equal(t, float32(8*64+8), pos[0].Tensor.At(0, 0, 0))

	// Same input, same answer
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Mine(state, "a", true, 1))
		require.Equal(t, pos[0].Box, m.PositiveSamples()[0].Box)
	}

	// Without reset, samples accumulate
	require.NoError(t, m.Mine(state, "a", false, 1))
	require.Equal(t, 2, len(m.PositiveSamples()))
}

func TestPositiveGroundTruthScale(t *testing.T) {
	// Annotated on an image twice the size of the one we processed
	gt := nn.Box{H0: 20, W0: 20, Height: 40, Width: 40, Class: 1}
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": {gt}}}
	m := NewMiner(&recordingLog{}, positiveConfig(), truth, model(2, 24))
	require.NoError(t, m.Mine(gridState(10, 10, 4, 24), "a", true, 0.5))
	require.Equal(t, 1, len(m.PositiveSamples()))
	require.Equal(t, 2, m.PositiveSamples()[0].Box.CellRow)
}

func TestPositiveMirror(t *testing.T) {
	cfg := positiveConfig()
	cfg.Mirror = true
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": {{H0: 10, W0: 10, Height: 20, Width: 20, Class: 1}}}}
	m := NewMiner(&recordingLog{}, cfg, truth, model(2, 24))
	state := gridState(10, 10, 4, 24)
	require.NoError(t, m.Mine(state, "a", true, 1))
	pos := m.PositiveSamples()
	require.Equal(t, 2, len(pos))
	require.Equal(t, pos[0].Box.Width, pos[1].Box.Width)
	require.Equal(t, pos[0].Box.Height, pos[1].Box.Height)
	require.InDelta(t, float32(state.ImageWidth)-pos[0].Box.W0-pos[0].Box.Width, pos[1].Box.W0, 1e-4)
	require.Equal(t, pos[0].Tensor, pos[1].Tensor.MirrorWidth())
	back := pos[1].Mirror(float32(state.ImageWidth))
	require.InDelta(t, pos[0].Box.W0, back.Box.W0, 1e-4)
}

func TestPositiveNearMiss(t *testing.T) {
	cfg := positiveConfig()
	cfg.MinOverlap = 1.1 // impossible
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": {{H0: 10, W0: 10, Height: 20, Width: 20, Class: 1}}}}
	l := &recordingLog{}
	m := NewMiner(l, cfg, truth, model(2, 24))
	require.NoError(t, m.Mine(gridState(10, 10, 4, 24), "a", true, 1))
	require.Equal(t, 0, len(m.PositiveSamples()))
	require.True(t, l.contains("a: no positive"))
	require.True(t, l.contains("best overlap 1.000"))

	// Ground truth outside the map is also just a miss
	truth.accepted["far"] = nn.BoxSet{{H0: 500, W0: 500, Height: 10, Width: 10, Class: 1}}
	require.NoError(t, m.Mine(gridState(10, 10, 4, 24), "far", true, 1))
	require.Equal(t, 0, len(m.PositiveSamples()))
}

func TestClassOutOfRange(t *testing.T) {
	truth := &fakeGT{
		accepted: map[string]nn.BoxSet{"a": {{H0: 10, W0: 10, Height: 20, Width: 20, Class: 5}}},
		rejected: map[string]nn.BoxSet{"b": {{H0: 10, W0: 10, Height: 20, Width: 20, Class: -1}}},
	}
	m := NewMiner(&recordingLog{}, positiveConfig(), truth, model(2, 24))
	require.ErrorIs(t, m.Mine(gridState(10, 10, 4, 24), "a", true, 1), ErrClassOutOfRange)
	require.ErrorIs(t, m.Mine(gridState(10, 10, 4, 24), "b", true, 1), ErrClassOutOfRange)
}

func TestBrokenGroundTruthIsNoGroundTruth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	l := &recordingLog{}
	m := NewMiner(l, cfg, &fakeGT{broken: map[string]bool{"a": true}}, model(2, 8))
	require.NoError(t, m.Mine(gridState(2, 2, 10, 8), "a", true, 1))
	require.True(t, l.contains("ignoring ground truth"))
}

func negativeConfig() Config {
	c := DefaultConfig()
	c.Enabled = true
	c.Positives = false
	c.Threshold = 0.3
	c.MaxNegatives = 10
	return c
}

// 10x10 cells that don't overlap, all predicted as class 1, with confidences spread evenly over [0,1]
func negativeState() *nn.State {
	s := gridState(10, 10, 10, 8)
	m := &s.Maps[0]
	for r := 0; r < 10; r++ {
		for c := 0; c < 10; c++ {
			m.Set(nn.ChannelClass, r, c, 1)
			m.Set(nn.ChannelConfidence, r, c, float32(r*10+c)/99)
		}
	}
	return s
}

func TestNegativeScenario(t *testing.T) {
	m := NewMiner(&recordingLog{}, negativeConfig(), nil, model(2, 8))
	require.NoError(t, m.Mine(negativeState(), "a", true, 1))
	neg := m.NegativeSamples()
	require.Equal(t, 10, len(neg))
	for i, s := range neg {
		require.Equal(t, 0, s.Box.Class)
		require.GreaterOrEqual(t, s.Box.Confidence, float32(0.3))
		// Most confident first
		require.Equal(t, 9-i/10, s.Box.CellRow)
		require.Equal(t, 9-i%10, s.Box.CellCol)
	}
	require.Equal(t, 0, len(m.PositiveSamples()))
}

func TestNegativesAvoidRejectedObjects(t *testing.T) {
	rejected := nn.BoxSet{{H0: 85, W0: 75, Height: 10, Width: 20, Class: 1}}
	truth := &fakeGT{rejected: map[string]nn.BoxSet{"a": rejected}}
	m := NewMiner(&recordingLog{}, negativeConfig(), truth, model(2, 8))
	require.NoError(t, m.Mine(negativeState(), "a", true, 1))
	neg := m.NegativeSamples()
	require.Equal(t, 10, len(neg))
	for _, s := range neg {
		for _, g := range rejected {
			require.False(t, s.Box.Overlaps(g), "%v overlaps %v", s.Box, g)
		}
	}
	// Cells (8,7..9) and (9,7..9) touch the rejected object
	require.Equal(t, 6, neg[0].Box.CellCol)
	require.Equal(t, 9, neg[0].Box.CellRow)
}

func TestNegativesAvoidAcceptedObjects(t *testing.T) {
	accepted := nn.BoxSet{
		{H0: 90, W0: 90, Height: 8, Width: 8, Class: 1}, // Exactly cell (9,9)
		{H0: 90, W0: 80, Height: 8, Width: 8, Class: 2}, // Exactly cell (9,8), but a different class
	}
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": accepted}}
	m := NewMiner(&recordingLog{}, negativeConfig(), truth, model(3, 8))
	require.NoError(t, m.Mine(negativeState(), "a", true, 1))
	neg := m.NegativeSamples()
	require.Equal(t, 10, len(neg))
	require.Equal(t, 8, neg[0].Box.CellCol)
	for _, s := range neg {
		require.False(t, s.Box.CellRow == 9 && s.Box.CellCol == 9)
	}
}

func TestNegativesAreNotDuplicates(t *testing.T) {
	s := gridState(1, 10, 2, 8)
	for c := 0; c < 10; c++ {
		s.Maps[0].Set(nn.ChannelClass, 0, c, 1)
		s.Maps[0].Set(nn.ChannelConfidence, 0, c, 1-float32(c)*0.01)
	}
	m := NewMiner(&recordingLog{}, negativeConfig(), nil, model(2, 8))
	require.NoError(t, m.Mine(s, "a", true, 1))
	cols := []int{}
	for _, n := range m.NegativeSamples() {
		cols = append(cols, n.Box.CellCol)
	}
	require.Equal(t, []int{0, 3, 6, 9}, cols)
}

func TestZeroThresholdsAndEmptyPools(t *testing.T) {
	cfg := Config{Enabled: true, Positives: true, Negatives: true, MinContext: 1}
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": {{H0: 10, W0: 10, Height: 20, Width: 20, Class: 1}}}}
	m := NewMiner(&recordingLog{}, cfg, truth, model(2, 24))

	// Everything is background, so there are no negatives, but the positive gates accept anything
	require.NoError(t, m.Mine(gridState(10, 10, 4, 24), "a", true, 1))
	require.Equal(t, 0, len(m.NegativeSamples()))
	require.Equal(t, 1, len(m.PositiveSamples()))

	// A map with no cells at all
	require.NoError(t, m.Mine(gridState(0, 0, 4, 24), "a", true, 1))
	require.Equal(t, 0, len(m.PositiveSamples()))
	require.Equal(t, 0, len(m.NegativeSamples()))

	// No maps at all
	require.NoError(t, m.Mine(&nn.State{}, "a", true, 1))
}

func TestInactiveMinerDoesNothing(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMiner(&recordingLog{}, cfg, nil, model(2, 8))
	require.False(t, m.IsActive())
	require.False(t, m.WantsPositives())
	require.False(t, m.SkipFrame("anything"))
	require.NoError(t, m.Mine(negativeState(), "a", true, 1))
	require.Equal(t, 0, len(m.NegativeSamples()))
}

func TestSkipFrame(t *testing.T) {
	truth := &fakeGT{
		accepted: map[string]nn.BoxSet{
			"objects": {{H0: 1, W0: 1, Height: 5, Width: 5, Class: 1}},
			"empty":   {},
		},
		broken: map[string]bool{"broken": true},
	}
	cases := []struct {
		negatives bool
		gtOnly    bool
		frame     string
		skip      bool
	}{
		{false, false, "none", true},
		{true, false, "none", false},
		{true, true, "none", true},
		{false, false, "empty", true},
		{true, false, "empty", false},
		{false, false, "objects", false},
		{true, true, "objects", false},
		{false, false, "broken", true},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		cfg.Enabled = true
		cfg.Negatives = c.negatives
		cfg.NegativesGTOnly = c.gtOnly
		m := NewMiner(&recordingLog{}, cfg, truth, model(2, 8))
		require.Equal(t, c.skip, m.SkipFrame(c.frame), "%+v", c)
	}
}

func TestSkipFrameLoadIsReusedByMine(t *testing.T) {
	gt := nn.Box{H0: 20, W0: 20, Height: 40, Width: 40, Class: 1}
	truth := &fakeGT{accepted: map[string]nn.BoxSet{"a": {gt}, "b": {gt}}}
	m := NewMiner(&recordingLog{}, positiveConfig(), truth, model(2, 24))
	state := gridState(10, 10, 4, 24)

	require.False(t, m.SkipFrame("a"))
	require.Equal(t, 1, truth.loads)
	require.NoError(t, m.Mine(state, "a", true, 0.5))
	require.Equal(t, 1, truth.loads)
	require.Equal(t, 1, len(m.PositiveSamples()))
	require.Equal(t, 2, m.PositiveSamples()[0].Box.CellRow)

	// The cached load is used once, so a second Mine reads the file again
	require.NoError(t, m.Mine(state, "a", true, 0.5))
	require.Equal(t, 2, truth.loads)
	require.Equal(t, 2, m.PositiveSamples()[0].Box.CellRow)

	// A different frame never sees another frame's ground truth
	require.False(t, m.SkipFrame("a"))
	require.NoError(t, m.Mine(state, "b", true, 0.5))
	require.Equal(t, 4, truth.loads)
}

func TestSaveDataset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	samples := []nn.Sample{}
	for i := 0; i < 3; i++ {
		tensor := nn.NewTensor(1, 2, 2)
		tensor.Data[0] = float32(i)
		samples = append(samples, nn.Sample{Tensor: tensor, Box: nn.Box{H0: 1, W0: 2, Height: 3, Width: 4, Class: i, ScaleIndex: 2}})
	}
	require.NoError(t, SaveDataset(dir, "train", samples, []string{"bg", "face"}))

	data, err := matio.Load(filepath.Join(dir, "train"+SuffixData))
	require.NoError(t, err)
	require.Equal(t, []int{3, 1, 2, 2}, data.Dims)
	require.Equal(t, float32(2), data.Float32[8])

	labels, err := matio.Load(filepath.Join(dir, "train"+SuffixLabels))
	require.NoError(t, err)
	require.Equal(t, []int32{0, 1, 2}, labels.Int32)

	scales, err := matio.Load(filepath.Join(dir, "train"+SuffixScales))
	require.NoError(t, err)
	require.Equal(t, []int32{2, 2, 2}, scales.Int32)

	boxes, err := matio.Load(filepath.Join(dir, "train"+SuffixBoxes))
	require.NoError(t, err)
	require.Equal(t, []int{3, 4}, boxes.Dims)
	require.Equal(t, []float32{1, 2, 3, 4}, boxes.Float32[:4])

	classes, err := os.ReadFile(filepath.Join(dir, "train"+SuffixClasses))
	require.NoError(t, err)
	require.Equal(t, "bg\nface\n", string(classes))

	samples[1].Tensor = nn.NewTensor(2, 2, 2)
	require.ErrorIs(t, SaveDataset(dir, "bad", samples, nil), ErrInconsistentSamples)

	require.NoError(t, SaveDataset(dir, "empty", nil, nil))
}
