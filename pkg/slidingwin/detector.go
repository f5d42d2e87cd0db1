// Package slidingwin is a multi-scale sliding window detector built from
// linear templates. It is small enough to run anywhere, and produces the
// score maps and cell geometry that bootstrapping needs.
package slidingwin

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/nfnt/resize"
)

type template struct {
	class   int
	bias    float32
	weights []float32
}

var _ nn.Detector = (*Detector)(nil)

// Detector is not safe for concurrent use
type Detector struct {
	model     Model
	templates []template
	state     nn.State
	gray      *image.Gray
}

func NewDetector(model *Model) (*Detector, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		model: *model,
	}
	for _, t := range model.Templates {
		d.templates = append(d.templates, template{
			class:   model.ClassIndex(t.Class),
			bias:    t.Bias,
			weights: t.Weights,
		})
	}
	return d, nil
}

func (d *Detector) Close() {
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.model.ModelConfig
}

func (d *Detector) Forward(frame *nn.Frame) (nn.BoxSet, *nn.State, error) {
	if err := d.toGray(frame); err != nil {
		return nil, nil, err
	}

	st := &d.state
	st.Maps = st.Maps[:0]
	st.Inputs = st.Inputs[:0]
	st.Geometry.Reset()
	st.ImageWidth = frame.Width
	st.ImageHeight = frame.Height
	st.Background = d.model.Background

	netW := d.model.Width
	netH := d.model.Height
	stride := d.model.Stride
	boxes := nn.BoxSet{}

	for si, s := range d.model.Scales {
		input := d.pyramidLevel(s)
		st.Inputs = append(st.Inputs, nn.ScaleInput{Tensor: input, Factor: s})
		if input.Width < netW || input.Height < netH {
			// Image is smaller than the window at this scale
			continue
		}
		rows := (input.Height-netH)/stride + 1
		cols := (input.Width-netW)/stride + 1
		m := nn.ScoreMap{Scale: si, Output: 0, Tensor: nn.NewTensor(2, rows, cols)}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				cls, conf := d.classify(&input, r*stride, c*stride)
				m.Set(nn.ChannelClass, r, c, float32(cls))
				m.Set(nn.ChannelConfidence, r, c, conf)
			}
		}
		st.Maps = append(st.Maps, m)

		step := float32(stride) / s
		h := float32(rows) * step
		w := float32(cols) * step
		st.Geometry.Append(nn.Point{H: 0, W: 0}, nn.Point{H: 0, W: w}, nn.Point{H: h, W: 0}, nn.Point{H: h, W: w},
			nn.Size{Height: float32(netH) / s, Width: float32(netW) / s})

		cells := st.Cells(len(st.Maps) - 1)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				cls := m.Class(r, c)
				conf := m.Confidence(r, c)
				if cls == d.model.Background || conf < d.model.Threshold {
					continue
				}
				b := cells.Footprint(r, c)
				b.Class = cls
				b.Confidence = conf
				boxes = append(boxes, b)
			}
		}
	}

	return nn.SuppressNonMaxima(boxes, d.model.NmsIou), st, nil
}

// Best template response for the window whose top-left corner is at (y0, x0).
// Below 0.5, the window is background, and its confidence is that of being background.
func (d *Detector) classify(input *nn.Tensor, y0, x0 int) (class int, confidence float32) {
	netW := d.model.Width
	netH := d.model.Height
	best := float32(-1)
	bestClass := d.model.Background
	for i := range d.templates {
		t := &d.templates[i]
		sum := t.bias
		for y := 0; y < netH; y++ {
			row := input.Data[(y0+y)*input.Width+x0 : (y0+y)*input.Width+x0+netW]
			wrow := t.weights[y*netW : (y+1)*netW]
			for x, v := range row {
				sum += v * wrow[x]
			}
		}
		p := sigmoid(sum)
		if p > best {
			best = p
			bestClass = t.class
		}
	}
	if best < 0.5 {
		return d.model.Background, 1 - best
	}
	return bestClass, best
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Resize the grayscale image by s, and return it as a 1 channel tensor with values in [0,1]
func (d *Detector) pyramidLevel(s float32) nn.Tensor {
	var img image.Image = d.gray
	b := d.gray.Bounds()
	if s != 1 {
		w := max(1, int(math32.Floor(float32(b.Dx())*s+0.5)))
		h := max(1, int(math32.Floor(float32(b.Dy())*s+0.5)))
		img = resize.Resize(uint(w), uint(h), d.gray, resize.Bilinear)
	}
	b = img.Bounds()
	t := nn.NewTensor(1, b.Dy(), b.Dx())
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
			for x, v := range row {
				t.Data[y*b.Dx()+x] = float32(v) / 255
			}
		}
		return t
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			t.Data[y*b.Dx()+x] = float32(v.Y) / 255
		}
	}
	return t
}

func (d *Detector) toGray(frame *nn.Frame) error {
	if frame.IsReference() {
		return fmt.Errorf("Frame '%v' has not been loaded", frame.Name)
	}
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pixels) != frame.ByteSize() {
		return fmt.Errorf("Frame '%v' has %v bytes, which is wrong for %vx%vx%v", frame.Name, len(frame.Pixels), frame.Width, frame.Height, frame.NChan)
	}
	if d.gray == nil || d.gray.Bounds().Dx() != frame.Width || d.gray.Bounds().Dy() != frame.Height {
		d.gray = image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
	}
	src := frame.Pixels
	dst := d.gray.Pix
	switch frame.NChan {
	case 1:
		copy(dst, src)
	case 3, 4:
		n := frame.NChan
		for i := range dst {
			p := src[i*n : i*n+3]
			dst[i] = uint8((299*uint32(p[0]) + 587*uint32(p[1]) + 114*uint32(p[2]) + 500) / 1000)
		}
	default:
		return fmt.Errorf("Frame '%v' has %v channels. Only 1, 3 or 4 are supported", frame.Name, frame.NChan)
	}
	return nil
}
