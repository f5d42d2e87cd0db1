package nn

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
)

// Box is an axis aligned rectangle in input space, plus everything we know
// about the network output that produced it.
// A finished box has Height > 0 and Width > 0. A box that is still being
// assembled may temporarily violate that.
type Box struct {
	H0         float32 `json:"h0"` // top
	W0         float32 `json:"w0"` // left
	Height     float32 `json:"height"`
	Width      float32 `json:"width"`
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`

	OutputIndex int `json:"outputIndex"` // Which output map of the network produced this box
	ScaleIndex  int `json:"scaleIndex"`  // Which level of the input pyramid produced this box
	CellRow     int `json:"cellRow"`     // Row of the cell in the output map
	CellCol     int `json:"cellCol"`     // Column of the cell in the output map
}

func (b Box) H1() float32 {
	return b.H0 + b.Height
}

func (b Box) W1() float32 {
	return b.W0 + b.Width
}

func (b Box) Valid() bool {
	return b.Height > 0 && b.Width > 0
}

func (b Box) Area() float32 {
	if !b.Valid() {
		return 0
	}
	return b.Height * b.Width
}

func (b Box) Center() Point {
	return Point{
		H: b.H0 + b.Height/2,
		W: b.W0 + b.Width/2,
	}
}

// Area of the intersection of b and o
func (b Box) Intersection(o Box) float32 {
	h := math32.Min(b.H1(), o.H1()) - math32.Max(b.H0, o.H0)
	w := math32.Min(b.W1(), o.W1()) - math32.Max(b.W0, o.W0)
	if h <= 0 || w <= 0 {
		return 0
	}
	return h * w
}

// Returns true if b and o share any area at all
func (b Box) Overlaps(o Box) bool {
	return b.Intersection(o) > 0
}

// Match is the intersection over union of b and o.
// It is symmetric, and invariant to scaling both boxes by the same amount.
func (b Box) Match(o Box) float32 {
	inter := b.Intersection(o)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CoveredBy returns the fraction of b's area that lies inside o
func (b Box) CoveredBy(o Box) float32 {
	area := b.Area()
	if area <= 0 {
		return 0
	}
	return b.Intersection(o) / area
}

// Scale the box by (fh, fw) around its center
func (b Box) ScaleCentered(fh, fw float32) Box {
	c := b.Center()
	r := b
	r.Height = b.Height * fh
	r.Width = b.Width * fw
	r.H0 = c.H - r.Height/2
	r.W0 = c.W - r.Width/2
	return r
}

// Scale all coordinates by f (eg to move a box from the original image into a resized image)
func (b Box) Scale(f float32) Box {
	r := b
	r.H0 *= f
	r.W0 *= f
	r.Height *= f
	r.Width *= f
	return r
}

// NormalizeAspect grows the shorter side of the box around its center, so
// that height/width equals 'ratio'. The box never shrinks.
func (b Box) NormalizeAspect(ratio float32) Box {
	if ratio <= 0 || !b.Valid() {
		return b
	}
	if b.Height/b.Width < ratio {
		return b.ScaleCentered(ratio*b.Width/b.Height, 1)
	}
	return b.ScaleCentered(1, b.Height/(ratio*b.Width))
}

// Mirror reflects the box horizontally inside an image of the given width.
// The size of the box does not change.
func (b Box) Mirror(imageWidth float32) Box {
	r := b
	r.W0 = imageWidth - b.W0 - b.Width
	return r
}

// Returns true if the two boxes cover exactly the same rectangle
func (b Box) SameGeometry(o Box) bool {
	return b.H0 == o.H0 && b.W0 == o.W0 && b.Height == o.Height && b.Width == o.Width
}

// Integer bounds that enclose the box, for the spatial index
func (b Box) Bounds() (x1, y1, x2, y2 int32) {
	return int32(math32.Floor(b.W0)), int32(math32.Floor(b.H0)), int32(math32.Ceil(b.W1())), int32(math32.Ceil(b.H1()))
}

func (b Box) String() string {
	return fmt.Sprintf("[class %v conf %.3f h0 %.1f w0 %.1f %.1fx%.1f scale %v out %v cell %v,%v]",
		b.Class, b.Confidence, b.H0, b.W0, b.Height, b.Width, b.ScaleIndex, b.OutputIndex, b.CellRow, b.CellCol)
}

// BoxSet is an ordered list of boxes. It preserves insertion order unless sorted.
// A BoxSet is owned by whoever created it. Use Clone when handing it to another thread.
type BoxSet []Box

func (s BoxSet) Clone() BoxSet {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

// MaxConfidence returns all boxes that share the highest confidence, in their original order
func (s BoxSet) MaxConfidence() BoxSet {
	if len(s) == 0 {
		return nil
	}
	best := s[0].Confidence
	for _, b := range s[1:] {
		best = max(best, b.Confidence)
	}
	r := BoxSet{}
	for _, b := range s {
		if b.Confidence == best {
			r = append(r, b)
		}
	}
	return r
}

// SortByConfidence sorts by descending confidence.
// The sort is stable, so equal confidences keep their insertion order.
func (s BoxSet) SortByConfidence() {
	slices.SortStableFunc(s, func(a, b Box) int {
		if a.Confidence > b.Confidence {
			return -1
		} else if a.Confidence < b.Confidence {
			return 1
		}
		return 0
	})
}

// ClosestTo returns the index of the box whose center is closest to p.
// On a tie, the earlier box wins. Returns -1 for an empty set.
func (s BoxSet) ClosestTo(p Point) int {
	best := -1
	bestDist := float32(0)
	for i, b := range s {
		d := b.Center().Distance(p)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Returns true if any box in the set overlaps b
func (s BoxSet) AnyOverlap(b Box) bool {
	for _, o := range s {
		if o.Overlaps(b) {
			return true
		}
	}
	return false
}

// Returns true if the set contains a box with the same geometry as b
func (s BoxSet) ContainsGeometry(b Box) bool {
	for _, o := range s {
		if o.SameGeometry(b) {
			return true
		}
	}
	return false
}
