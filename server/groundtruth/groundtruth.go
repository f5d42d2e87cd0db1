// Package groundtruth loads the annotated objects of an image from a JSON file.
//
// The annotation of "dir/img001.jpg" is "img001.json", either next to the
// image, or inside a dedicated annotation directory.
package groundtruth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cyclopcam/hardmine/pkg/nn"
)

var ErrUnknownClass = errors.New("Unknown class")

// Filters decide which annotated objects are clean enough to train on.
// Objects that fail are still real objects, so they are returned separately.
type Filters struct {
	Classes         []string `yaml:"classes"` // If not empty, only these classes are accepted
	IgnoreDifficult bool     `yaml:"ignoreDifficult"`
	IgnoreTruncated bool     `yaml:"ignoreTruncated"`
	IgnoreOccluded  bool     `yaml:"ignoreOccluded"`
	MinHeight       float32  `yaml:"minHeight"`
	MinWidth        float32  `yaml:"minWidth"`
	MinAspect       float32  `yaml:"minAspect"` // height / width. Zero means no limit.
	MaxAspect       float32  `yaml:"maxAspect"`
}

type Loader struct {
	dir     string
	classes []string
	filters Filters
}

// NewLoader creates a loader that resolves class names against 'classes'.
// If dir is empty, annotations are found next to their images.
func NewLoader(dir string, classes []string, filters Filters) *Loader {
	return &Loader{
		dir:     dir,
		classes: classes,
		filters: filters,
	}
}

// Path of the annotation file of an image
func (l *Loader) Path(frameName string) string {
	base := strings.TrimSuffix(frameName, filepath.Ext(frameName)) + ".json"
	if l.dir == "" {
		return base
	}
	return filepath.Join(l.dir, filepath.Base(base))
}

func (l *Loader) Exists(frameName string) bool {
	st, err := os.Stat(l.Path(frameName))
	return err == nil && !st.IsDir()
}

func (l *Loader) LoadAnnotation(frameName string) (*nn.Annotation, error) {
	fn := l.Path(frameName)
	raw, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	a := &nn.Annotation{}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("Failed to decode %v: %w", fn, err)
	}
	return a, nil
}

// Load returns every annotated object
func (l *Loader) Load(frameName string) (nn.BoxSet, error) {
	a, err := l.LoadAnnotation(frameName)
	if err != nil {
		return nil, err
	}
	boxes := nn.BoxSet{}
	for _, obj := range a.Objects {
		cls, err := l.classIndex(obj.Class)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", l.Path(frameName), err)
		}
		boxes = append(boxes, obj.Box.ToBox(cls))
	}
	return boxes, nil
}

// LoadClean splits the annotated objects into those that pass the filters, and those that don't
func (l *Loader) LoadClean(frameName string) (accepted, rejected nn.BoxSet, err error) {
	a, err := l.LoadAnnotation(frameName)
	if err != nil {
		return nil, nil, err
	}
	accepted = nn.BoxSet{}
	rejected = nn.BoxSet{}
	for _, obj := range a.Objects {
		cls, err := l.classIndex(obj.Class)
		if err != nil {
			return nil, nil, fmt.Errorf("%v: %w", l.Path(frameName), err)
		}
		b := obj.Box.ToBox(cls)
		if l.filters.accept(&obj) {
			accepted = append(accepted, b)
		} else {
			rejected = append(rejected, b)
		}
	}
	return accepted, rejected, nil
}

// A class is either one of our class names, or a numeric class id
func (l *Loader) classIndex(name string) (int, error) {
	if i := slices.Index(l.classes, name); i != -1 {
		return i, nil
	}
	if i, err := strconv.Atoi(name); err == nil {
		return i, nil
	}
	return 0, fmt.Errorf("%w '%v'", ErrUnknownClass, name)
}

func (f *Filters) accept(obj *nn.AnnotatedObject) bool {
	if len(f.Classes) != 0 && !slices.Contains(f.Classes, obj.Class) {
		return false
	}
	if (f.IgnoreDifficult && obj.Difficult) ||
		(f.IgnoreTruncated && obj.Truncated) ||
		(f.IgnoreOccluded && obj.Occluded) {
		return false
	}
	b := obj.Box
	if b.Height <= 0 || b.Width <= 0 || b.Height < f.MinHeight || b.Width < f.MinWidth {
		return false
	}
	aspect := b.Height / b.Width
	if (f.MinAspect > 0 && aspect < f.MinAspect) || (f.MaxAspect > 0 && aspect > f.MaxAspect) {
		return false
	}
	return true
}
