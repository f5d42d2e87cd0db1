// Package imageload decodes image files into frames
package imageload

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/hardmine/pkg/nn"
)

// Loader decodes JPEG and PNG files with cimg.
// If MaxWidth is not zero, wider images are downsized to MaxWidth, preserving aspect ratio.
type Loader struct {
	MaxWidth int
}

// Load decodes the image at path.
// scale converts coordinates in the image file to coordinates in the frame, and is 1 unless the image was downsized.
func (l *Loader) Load(path string) (frame nn.Frame, scale float32, err error) {
	img, err := cimg.ReadFile(path)
	if err != nil {
		return nn.Frame{}, 0, fmt.Errorf("Failed to decode %v: %w", path, err)
	}
	scale = 1
	if l.MaxWidth > 0 && img.Width > l.MaxWidth {
		scale = float32(l.MaxWidth) / float32(img.Width)
		h := max(1, img.Height*l.MaxWidth/img.Width)
		img = cimg.ResizeNew(img, l.MaxWidth, h, nil)
	}
	return FromImage(path, img), scale, nil
}

// FromImage copies a cimg image into a tightly packed frame
func FromImage(name string, img *cimg.Image) nn.Frame {
	nchan := img.NChan()
	f := nn.Frame{
		Name:   name,
		Width:  img.Width,
		Height: img.Height,
		NChan:  nchan,
		Pixels: make([]byte, img.Width*img.Height*nchan),
	}
	rowBytes := img.Width * nchan
	for y := 0; y < img.Height; y++ {
		copy(f.Pixels[y*rowBytes:(y+1)*rowBytes], img.Pixels[y*img.Stride:y*img.Stride+rowBytes])
	}
	return f
}
