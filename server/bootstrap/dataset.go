package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/hardmine/pkg/matio"
	"github.com/cyclopcam/hardmine/pkg/nn"
)

var ErrInconsistentSamples = errors.New("Samples have different tensor shapes")

// Dataset file name suffixes. The full name is <dir>/<name><suffix>.
const (
	SuffixData    = "_data.mat"    // N x C x H x W float32
	SuffixLabels  = "_labels.mat"  // N int32 class ids
	SuffixScales  = "_scales.mat"  // N int32 pyramid levels
	SuffixBoxes   = "_boxes.mat"   // N x 4 float32 (h0, w0, height, width)
	SuffixClasses = "_classes.txt" // One class name per line
)

// SaveDataset writes the samples as a set of parallel matrix files, plus the class names.
// Every sample must have the same tensor shape.
func SaveDataset(dir, name string, samples []nn.Sample, classNames []string) error {
	var c, h, w int
	if len(samples) != 0 {
		first := samples[0].Tensor
		c, h, w = first.Channels, first.Height, first.Width
	}
	n := len(samples)
	data := make([]float32, 0, n*c*h*w)
	labels := make([]int32, 0, n)
	scales := make([]int32, 0, n)
	boxes := make([]float32, 0, n*4)
	for i, s := range samples {
		t := &s.Tensor
		if t.Channels != c || t.Height != h || t.Width != w || len(t.Data) != c*h*w {
			return fmt.Errorf("%w: sample %v is %vx%vx%v (%v values), but sample 0 is %vx%vx%v", ErrInconsistentSamples, i, t.Channels, t.Height, t.Width, len(t.Data), c, h, w)
		}
		data = append(data, t.Data...)
		labels = append(labels, int32(s.Box.Class))
		scales = append(scales, int32(s.Box.ScaleIndex))
		boxes = append(boxes, s.Box.H0, s.Box.W0, s.Box.Height, s.Box.Width)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	base := filepath.Join(dir, name)
	if err := matio.Save(base+SuffixData, func(out io.Writer) error {
		return matio.WriteFloat32(out, []int{n, c, h, w}, data)
	}); err != nil {
		return err
	}
	if err := matio.Save(base+SuffixLabels, func(out io.Writer) error {
		return matio.WriteInt32(out, []int{n}, labels)
	}); err != nil {
		return err
	}
	if err := matio.Save(base+SuffixScales, func(out io.Writer) error {
		return matio.WriteInt32(out, []int{n}, scales)
	}); err != nil {
		return err
	}
	if err := matio.Save(base+SuffixBoxes, func(out io.Writer) error {
		return matio.WriteFloat32(out, []int{n, 4}, boxes)
	}); err != nil {
		return err
	}
	classes := strings.Join(classNames, "\n")
	if len(classNames) != 0 {
		classes += "\n"
	}
	return os.WriteFile(base+SuffixClasses, []byte(classes), 0644)
}
