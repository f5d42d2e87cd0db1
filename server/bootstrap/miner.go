// Package bootstrap mines training samples from the raw state of a forward pass.
//
// Positives are the network cells that best line up with each ground truth
// object. Negatives are confident detections that don't correspond to any
// object, which are the hard examples that a retrained network must learn to reject.
package bootstrap

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/hardmine/pkg/log"
	"github.com/cyclopcam/hardmine/pkg/nn"
)

var ErrClassOutOfRange = errors.New("Ground truth class is out of range")

// GroundTruth finds the annotated objects of a frame.
// LoadClean splits the objects into those that pass the cleaning filters, and those that don't.
type GroundTruth interface {
	Exists(frameName string) bool
	LoadClean(frameName string) (accepted, rejected nn.BoxSet, err error)
}

// Miner is owned by a single detection worker
type Miner struct {
	log        log.Log
	cfg        Config
	gt         GroundTruth
	numClasses int
	sampleH    int
	sampleW    int
	positives  []nn.Sample
	negatives  []nn.Sample
	lastGT     *loadedGT // Loaded by SkipFrame, and taken by the Mine that follows it
}

type loadedGT struct {
	frame    string
	accepted nn.BoxSet
	rejected nn.BoxSet
	err      error
}

// NewMiner creates a miner for a detector with the given model config.
// gt may be nil, in which case no frame has ground truth.
func NewMiner(logger log.Log, cfg Config, gt GroundTruth, model *nn.ModelConfig) *Miner {
	return &Miner{
		log:        logger,
		cfg:        cfg,
		gt:         gt,
		numClasses: len(model.Classes),
		sampleH:    model.Height,
		sampleW:    model.Width,
	}
}

func (m *Miner) IsActive() bool {
	return m.cfg.Enabled && (m.cfg.Positives || m.cfg.Negatives)
}

func (m *Miner) WantsPositives() bool {
	return m.IsActive() && m.cfg.Positives
}

// Samples mined since the last reset. The slices belong to the miner.
func (m *Miner) PositiveSamples() []nn.Sample {
	return m.positives
}

func (m *Miner) NegativeSamples() []nn.Sample {
	return m.negatives
}

// Mine extracts samples from the state of the forward pass over frameName.
// If reset is false, the samples are added to those of previous calls.
// scale converts ground truth coordinates into the coordinates of the frame that was processed.
// The only errors are configuration errors that would corrupt the dataset, and they must end the run.
func (m *Miner) Mine(state *nn.State, frameName string, reset bool, scale float32) error {
	if reset {
		m.positives = nil
		m.negatives = nil
	}
	if !m.IsActive() {
		return nil
	}
	if err := state.Validate(); err != nil {
		return err
	}
	accepted, rejected, err := m.loadGroundTruth(frameName, scale)
	if err != nil {
		return err
	}

	if m.cfg.Positives {
		for _, gt := range accepted {
			if s, ok := m.minePositive(state, gt, frameName); ok {
				m.positives = append(m.positives, s)
				if m.cfg.Mirror {
					m.positives = append(m.positives, s.Mirror(float32(state.ImageWidth)))
				}
			}
		}
	}
	if m.cfg.Negatives {
		m.negatives = append(m.negatives, m.mineNegatives(state, accepted, rejected)...)
	}
	return nil
}

// Missing or unreadable ground truth is the same as no objects.
// A class id that the network doesn't have is fatal.
func (m *Miner) loadGroundTruth(frameName string, scale float32) (accepted, rejected nn.BoxSet, err error) {
	if m.gt == nil || !m.gt.Exists(frameName) {
		return nil, nil, nil
	}
	accepted, rejected, err = m.loadClean(frameName)
	if err != nil {
		m.log.Warnf("%v: ignoring ground truth: %v", frameName, err)
		return nil, nil, nil
	}
	for _, set := range []nn.BoxSet{accepted, rejected} {
		for i := range set {
			if set[i].Class < 0 || set[i].Class >= m.numClasses {
				return nil, nil, fmt.Errorf("%w: %v: class %v, but the network has %v classes", ErrClassOutOfRange, frameName, set[i].Class, m.numClasses)
			}
			if scale != 1 {
				set[i] = set[i].Scale(scale)
			}
		}
	}
	return accepted, rejected, nil
}

// LoadClean, unless SkipFrame already loaded this frame
func (m *Miner) loadClean(frameName string) (accepted, rejected nn.BoxSet, err error) {
	last := m.lastGT
	m.lastGT = nil
	if last != nil && last.frame == frameName {
		return last.accepted, last.rejected, last.err
	}
	return m.gt.LoadClean(frameName)
}

// The network input under the cell that produced b, labelled with b
func (m *Miner) sample(state *nn.State, b nn.Box) nn.Sample {
	fp, _ := state.Footprint(b)
	return nn.Sample{
		Tensor: state.ExtractSample(fp, m.sampleH, m.sampleW),
		Box:    b,
	}
}
