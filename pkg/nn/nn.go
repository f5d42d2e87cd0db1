// Package nn holds the types that flow between a detector, the detection
// workers, and the bootstrap miner. The detector itself lives behind the
// Detector interface.
package nn

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cyclopcam/hardmine/pkg/framebuf"
)

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// Frame is an image to run detection on.
// If Pixels is empty, then the frame is a reference to the file at Name, which
// the worker must load before it can run detection.
type Frame struct {
	Name   string
	Width  int
	Height int
	NChan  int // Number of channels (eg 3 for RGB)
	Pixels []byte
}

func (f *Frame) IsReference() bool {
	return len(f.Pixels) == 0
}

func (f *Frame) Stride() int {
	return f.Width * f.NChan
}

// Number of bytes that Pixels must hold for the frame's dimensions
func (f *Frame) ByteSize() int {
	return f.Width * f.Height * f.NChan
}

// CopyFrom makes f a copy of src, without aliasing src's memory.
// f's pixel buffer is reused if it has the capacity, so a steady stream of
// same-sized frames causes no allocations.
// Panics if src's pixel buffer doesn't match its dimensions, because we'd
// otherwise have to either truncate or read past the end.
func (f *Frame) CopyFrom(src *Frame) {
	f.Name = src.Name
	f.Width = src.Width
	f.Height = src.Height
	f.NChan = src.NChan
	if src.IsReference() {
		f.Pixels = f.Pixels[:0]
		return
	}
	if len(src.Pixels) != src.ByteSize() {
		panic(fmt.Sprintf("Frame '%v' has %v bytes, but %vx%vx%v needs %v", src.Name, len(src.Pixels), src.Width, src.Height, src.NChan, src.ByteSize()))
	}
	f.Pixels, _ = framebuf.Reserve(f.Pixels, len(src.Pixels))
	copy(f.Pixels, src.Pixels)
}

// Detector runs a forward pass of a sliding window network over a frame.
// A Detector is not safe for concurrent use. Each worker owns its own.
type Detector interface {
	// Close releases the detector's resources
	Close()

	// Forward runs the network over every pyramid level of the frame, and returns
	// the final (post NMS) detections, as well as the raw score maps and geometry
	// that produced them. The State belongs to the detector, and is only valid
	// until the next call to Forward.
	Forward(frame *Frame) (BoxSet, *State, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "slidingwin"
	Width        int      `json:"width"`        // Width of the network's input window, eg 32
	Height       int      `json:"height"`       // Height of the network's input window, eg 32
	Classes      []string `json:"classes"`      // eg ["background", "face"]
	Background   int      `json:"background"`   // Index into Classes of the background class
}

func (c *ModelConfig) ClassIndex(name string) int {
	for i, n := range c.Classes {
		if n == name {
			return i
		}
	}
	return -1
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
