package nn

import "slices"

// Tensor is a dense Channels x Height x Width block of float32, stored channel major.
type Tensor struct {
	Channels int       `json:"channels"`
	Height   int       `json:"height"`
	Width    int       `json:"width"`
	Data     []float32 `json:"-"`
}

func NewTensor(channels, height, width int) Tensor {
	return Tensor{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

func (t *Tensor) index(c, y, x int) int {
	return (c*t.Height+y)*t.Width + x
}

func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[t.index(c, y, x)]
}

func (t *Tensor) Set(c, y, x int, v float32) {
	t.Data[t.index(c, y, x)] = v
}

func (t *Tensor) Size() int {
	return t.Channels * t.Height * t.Width
}

func (t Tensor) Clone() Tensor {
	c := t
	c.Data = slices.Clone(t.Data)
	return c
}

func (t Tensor) SameShape(o Tensor) bool {
	return t.Channels == o.Channels && t.Height == o.Height && t.Width == o.Width
}

// MirrorWidth returns a copy of the tensor, flipped horizontally
func (t Tensor) MirrorWidth() Tensor {
	m := NewTensor(t.Channels, t.Height, t.Width)
	for c := 0; c < t.Channels; c++ {
		for y := 0; y < t.Height; y++ {
			row := t.index(c, y, 0)
			for x := 0; x < t.Width; x++ {
				m.Data[row+x] = t.Data[row+t.Width-1-x]
			}
		}
	}
	return m
}

// Crop returns a height x width window whose top-left corner is at (y0, x0).
// Any part of the window that falls outside the tensor is zero.
func (t Tensor) Crop(y0, x0, height, width int) Tensor {
	r := NewTensor(t.Channels, height, width)
	for c := 0; c < t.Channels; c++ {
		for y := 0; y < height; y++ {
			sy := y0 + y
			if sy < 0 || sy >= t.Height {
				continue
			}
			for x := 0; x < width; x++ {
				sx := x0 + x
				if sx < 0 || sx >= t.Width {
					continue
				}
				r.Data[r.index(c, y, x)] = t.Data[t.index(c, sy, sx)]
			}
		}
	}
	return r
}

// Sample is a training example: the network input at a location, and the box it represents.
type Sample struct {
	Tensor Tensor `json:"tensor"`
	Box    Box    `json:"box"`
}

func (s Sample) Clone() Sample {
	return Sample{
		Tensor: s.Tensor.Clone(),
		Box:    s.Box,
	}
}

// Mirror returns a horizontally flipped copy of the sample, inside an image of the given width
func (s Sample) Mirror(imageWidth float32) Sample {
	return Sample{
		Tensor: s.Tensor.MirrorWidth(),
		Box:    s.Box.Mirror(imageWidth),
	}
}

func CloneSamples(src []Sample) []Sample {
	if src == nil {
		return nil
	}
	dst := make([]Sample, len(src))
	for i := range src {
		dst[i] = src[i].Clone()
	}
	return dst
}
