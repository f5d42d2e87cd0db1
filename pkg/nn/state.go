package nn

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Channels of a ScoreMap
const (
	ChannelClass      = 0 // Predicted class id of the cell
	ChannelConfidence = 1 // Confidence of that prediction
)

// ScoreMap is one raw output of a forward pass, at one (pyramid scale, output map) pair.
// The tensor has rows x cols cells, and at least two channels (see ChannelClass and ChannelConfidence).
type ScoreMap struct {
	Scale  int // Index of the pyramid level
	Output int // Index of the output map at this pyramid level
	Tensor
}

func (m *ScoreMap) Rows() int {
	return m.Height
}

func (m *ScoreMap) Cols() int {
	return m.Width
}

func (m *ScoreMap) Class(row, col int) int {
	return int(m.At(ChannelClass, row, col))
}

func (m *ScoreMap) Confidence(row, col int) float32 {
	return m.At(ChannelConfidence, row, col)
}

// GeometryTable maps output cells back into input space.
// All slices are parallel to State.Maps. The four corners are the input space
// extent covered by the cells of each map, and Window is the input space
// footprint of a single cell (the network's field of view at that scale).
type GeometryTable struct {
	TopLeft     []Point
	TopRight    []Point
	BottomLeft  []Point
	BottomRight []Point
	Window      []Size
}

func (g *GeometryTable) Len() int {
	return len(g.TopLeft)
}

func (g *GeometryTable) Append(topLeft, topRight, bottomLeft, bottomRight Point, window Size) {
	g.TopLeft = append(g.TopLeft, topLeft)
	g.TopRight = append(g.TopRight, topRight)
	g.BottomLeft = append(g.BottomLeft, bottomLeft)
	g.BottomRight = append(g.BottomRight, bottomRight)
	g.Window = append(g.Window, window)
}

func (g *GeometryTable) Reset() {
	g.TopLeft = g.TopLeft[:0]
	g.TopRight = g.TopRight[:0]
	g.BottomLeft = g.BottomLeft[:0]
	g.BottomRight = g.BottomRight[:0]
	g.Window = g.Window[:0]
}

// CellGeometry is the affine mapping from the cells of one score map to input space
type CellGeometry struct {
	Scale  int
	Output int
	Origin Point   // Input space position of cell (0,0)
	StepH  float32 // Input space distance between two rows
	StepW  float32 // Input space distance between two columns
	Window Size    // Input space size of one cell's footprint
}

// Footprint returns the input space rectangle seen by cell (row, col)
func (c *CellGeometry) Footprint(row, col int) Box {
	return Box{
		H0:          c.Origin.H + float32(row)*c.StepH,
		W0:          c.Origin.W + float32(col)*c.StepW,
		Height:      c.Window.Height,
		Width:       c.Window.Width,
		ScaleIndex:  c.Scale,
		OutputIndex: c.Output,
		CellRow:     row,
		CellCol:     col,
	}
}

// RowRange returns the inclusive range of rows whose footprint could touch b,
// widened by 'widen' rows on each side, and clamped to the map.
func (c *CellGeometry) RowRange(b Box, widen, rows int) (first, last int) {
	return cellRange(b.H0, b.H1(), c.Origin.H, c.StepH, c.Window.Height, widen, rows)
}

// ColRange is RowRange for columns
func (c *CellGeometry) ColRange(b Box, widen, cols int) (first, last int) {
	return cellRange(b.W0, b.W1(), c.Origin.W, c.StepW, c.Window.Width, widen, cols)
}

// Cells along one axis whose footprint [origin + i*step, origin + i*step + window)
// could touch [lo, hi). If n is zero, then last < first.
func cellRange(lo, hi, origin, step, window float32, widen, n int) (first, last int) {
	if n <= 0 {
		return 0, -1
	}
	if step <= 0 {
		return 0, n - 1
	}
	first = int(math32.Floor((lo-origin-window)/step)) - widen
	last = int(math32.Ceil((hi-origin)/step)) + widen
	return max(first, 0), min(last, n-1)
}

// ScaleInput is the preprocessed network input at one pyramid level
type ScaleInput struct {
	Tensor Tensor
	Factor float32 // Tensor coordinates = input space coordinates * Factor
}

// State is everything a forward pass leaves behind that bootstrapping needs.
// It is owned by the detector that produced it, and borrowed read-only by the
// miner, on the same thread, until the next forward pass.
type State struct {
	Maps        []ScoreMap
	Geometry    GeometryTable
	Inputs      []ScaleInput // Indexed by ScoreMap.Scale
	ImageWidth  int          // Input space dimensions
	ImageHeight int
	Background  int // Class id that means "nothing here"
}

func (s *State) Validate() error {
	if s.Geometry.Len() != len(s.Maps) ||
		len(s.Geometry.TopRight) != len(s.Maps) ||
		len(s.Geometry.BottomLeft) != len(s.Maps) ||
		len(s.Geometry.BottomRight) != len(s.Maps) ||
		len(s.Geometry.Window) != len(s.Maps) {
		return fmt.Errorf("Geometry table has %v entries, but there are %v score maps", s.Geometry.Len(), len(s.Maps))
	}
	for i := range s.Maps {
		if s.Maps[i].Channels < 2 {
			return fmt.Errorf("Score map %v has %v channels, but at least 2 are needed", i, s.Maps[i].Channels)
		}
	}
	return nil
}

// Cells returns the cell geometry of map i.
// The step sizes are the extent of the corners divided by the number of cells.
func (s *State) Cells(i int) CellGeometry {
	m := &s.Maps[i]
	g := &s.Geometry
	c := CellGeometry{
		Scale:  m.Scale,
		Output: m.Output,
		Origin: g.TopLeft[i],
		Window: g.Window[i],
	}
	if m.Rows() > 0 {
		c.StepH = (g.BottomLeft[i].H - g.TopLeft[i].H) / float32(m.Rows())
	}
	if m.Cols() > 0 {
		c.StepW = (g.TopRight[i].W - g.TopLeft[i].W) / float32(m.Cols())
	}
	return c
}

// Returns the index into Maps for the given scale and output, or -1
func (s *State) MapIndex(scale, output int) int {
	for i := range s.Maps {
		if s.Maps[i].Scale == scale && s.Maps[i].Output == output {
			return i
		}
	}
	return -1
}

// Footprint returns the unscaled cell footprint of a box that was produced from one of our maps
func (s *State) Footprint(b Box) (Box, bool) {
	i := s.MapIndex(b.ScaleIndex, b.OutputIndex)
	if i == -1 {
		return Box{}, false
	}
	c := s.Cells(i)
	return c.Footprint(b.CellRow, b.CellCol), true
}

// ExtractSample crops a height x width window out of the network input at the
// footprint's pyramid level. The window's top-left corner is the footprint's
// top-left corner, in that level's tensor coordinates.
// If we have no input for that level, the sample is all zeros.
func (s *State) ExtractSample(footprint Box, height, width int) Tensor {
	if footprint.ScaleIndex < 0 || footprint.ScaleIndex >= len(s.Inputs) {
		return NewTensor(1, height, width)
	}
	in := &s.Inputs[footprint.ScaleIndex]
	y0 := int(math32.Floor(footprint.H0*in.Factor + 0.5))
	x0 := int(math32.Floor(footprint.W0*in.Factor + 0.5))
	return in.Tensor.Crop(y0, x0, height, width)
}
