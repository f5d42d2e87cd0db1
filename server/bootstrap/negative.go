package bootstrap

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/hardmine/pkg/nn"
)

// Collect the most confident detections that are not objects.
//
// Cells predicted as anything but background, with at least Threshold
// confidence, are visited in order of descending confidence. A cell is
// rejected if it matches an accepted object of the same class, if it touches
// a rejected object at all (those are real objects that failed cleaning), or
// if it duplicates a negative that we already have. Accepted negatives are
// relabelled as background.
func (m *Miner) mineNegatives(state *nn.State, accepted, rejected nn.BoxSet) []nn.Sample {
	cfg := &m.cfg
	pool := nn.BoxSet{}
	for i := range state.Maps {
		sm := &state.Maps[i]
		cells := state.Cells(i)
		fh, fw := cfg.scaleFactor(sm.Scale)
		for r := 0; r < sm.Rows(); r++ {
			for c := 0; c < sm.Cols(); c++ {
				cls := sm.Class(r, c)
				conf := sm.Confidence(r, c)
				if cls == state.Background || conf < cfg.Threshold {
					continue
				}
				b := cells.Footprint(r, c).ScaleCentered(fh, fw)
				b.Class = cls
				b.Confidence = conf
				pool = append(pool, b)
			}
		}
	}
	pool.SortByConfidence()

	var rejectedIndex *flatbush.Flatbush[int32]
	if len(rejected) != 0 {
		rejectedIndex = flatbush.NewFlatbush[int32]()
		rejectedIndex.Reserve(len(rejected))
		for _, b := range rejected {
			rejectedIndex.Add(b.Bounds())
		}
		rejectedIndex.Finish()
	}

	out := nn.BoxSet{}
	near := []int{}
	for _, b := range pool {
		if cfg.MaxNegatives > 0 && len(out) >= cfg.MaxNegatives {
			break
		}
		if matchesSameClass(b, accepted, cfg.Matching) {
			continue
		}
		if rejectedIndex != nil {
			x1, y1, x2, y2 := b.Bounds()
			near = rejectedIndex.SearchFast(x1, y1, x2, y2, near)
			if touchesAny(b, rejected, near) {
				continue
			}
		}
		if matchesAny(b, out, cfg.NegMatching) {
			continue
		}
		out = append(out, b)
	}

	samples := make([]nn.Sample, 0, len(out))
	for _, b := range out {
		s := m.sample(state, b)
		s.Box.Class = state.Background
		samples = append(samples, s)
	}
	return samples
}

func matchesSameClass(b nn.Box, set nn.BoxSet, threshold float32) bool {
	for _, o := range set {
		if o.Class == b.Class && b.Match(o) > threshold {
			return true
		}
	}
	return false
}

func matchesAny(b nn.Box, set nn.BoxSet, threshold float32) bool {
	for _, o := range set {
		if b.Match(o) > threshold {
			return true
		}
	}
	return false
}

// The spatial index is on integer bounds, so its hits still need an exact test
func touchesAny(b nn.Box, set nn.BoxSet, indices []int) bool {
	for _, i := range indices {
		if b.Overlaps(set[i]) {
			return true
		}
	}
	return false
}
