package slidingwin

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/hardmine/pkg/nn"
)

// Template is a linear classifier over a grayscale window.
// Weights has Height*Width elements, row major, and is applied to pixels in [0,1].
type Template struct {
	Class   string    `json:"class"`
	Bias    float32   `json:"bias"`
	Weights []float32 `json:"weights"`
}

// Model is the JSON file that describes a sliding window detector
type Model struct {
	nn.ModelConfig
	Stride    int        `json:"stride"`    // Distance between windows, in network input pixels
	Scales    []float32  `json:"scales"`    // Pyramid levels. Each is a resize factor of the original image.
	Threshold float32    `json:"threshold"` // Minimum confidence of a detection
	NmsIou    float32    `json:"nmsIou"`    // IoU above which less confident detections are suppressed
	Templates []Template `json:"templates"`
}

func LoadModel(filename string) (*Model, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	m := &Model{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("Failed to decode model '%v': %w", filename, err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid model '%v': %w", filename, err)
	}
	return m, nil
}

func (m *Model) applyDefaults() {
	if m.Architecture == "" {
		m.Architecture = "slidingwin"
	}
	if m.Stride == 0 {
		m.Stride = 1
	}
	if len(m.Scales) == 0 {
		m.Scales = []float32{1}
	}
	if m.Threshold == 0 {
		m.Threshold = nn.DefaultProbabilityThreshold
	}
	if m.NmsIou == 0 {
		m.NmsIou = nn.DefaultNmsIouThreshold
	}
}

func (m *Model) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("Window size %vx%v is invalid", m.Width, m.Height)
	}
	if m.Stride <= 0 {
		return fmt.Errorf("Stride %v is invalid", m.Stride)
	}
	if m.Background < 0 || m.Background >= len(m.Classes) {
		return fmt.Errorf("Background class %v is not one of the %v classes", m.Background, len(m.Classes))
	}
	for _, s := range m.Scales {
		if s <= 0 {
			return fmt.Errorf("Scale %v is invalid", s)
		}
	}
	if len(m.Templates) == 0 {
		return fmt.Errorf("No templates")
	}
	for i, t := range m.Templates {
		cls := m.ClassIndex(t.Class)
		if cls == -1 {
			return fmt.Errorf("Template %v has unknown class '%v'", i, t.Class)
		}
		if cls == m.Background {
			return fmt.Errorf("Template %v is for the background class", i)
		}
		if len(t.Weights) != m.Width*m.Height {
			return fmt.Errorf("Template %v has %v weights, but the window needs %v", i, len(t.Weights), m.Width*m.Height)
		}
	}
	return nil
}
