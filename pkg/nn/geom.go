package nn

import (
	"github.com/chewxy/math32"
)

// Point is a position in input (image) space.
// H is the row (vertical) coordinate, and W is the column (horizontal) coordinate.
type Point struct {
	H float32 `json:"h"`
	W float32 `json:"w"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.H-b.H)*(p.H-b.H) + (p.W-b.W)*(p.W-b.W))
}

type Size struct {
	Height float32 `json:"height"`
	Width  float32 `json:"width"`
}

// Rect is the x,y,width,height form that annotation files use
type Rect struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

func (r Rect) ToBox(class int) Box {
	return Box{
		H0:     r.Y,
		W0:     r.X,
		Height: r.Height,
		Width:  r.Width,
		Class:  class,
	}
}
