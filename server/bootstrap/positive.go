package bootstrap

import (
	"github.com/cyclopcam/hardmine/pkg/nn"
)

// The closest we got to a positive, for tuning thresholds
type nearMiss struct {
	match        float32
	matchScale   int
	overlap      float32
	overlapScale int
}

// Find the cell that best represents gt.
//
// A candidate is a cell footprint, scaled by the per-scale factor. It must
// match the aspect normalized ground truth by at least Matching, and its
// unscaled footprint must cover at least MinOverlap of the context box.
// Of the survivors, the highest match wins, and ties go to the candidate
// whose center is closest to the center of gt.
func (m *Miner) minePositive(state *nn.State, gt nn.Box, frameName string) (nn.Sample, bool) {
	cfg := &m.cfg
	miss := nearMiss{match: -1, matchScale: -1, overlap: -1, overlapScale: -1}
	candidates := nn.BoxSet{}

	for i := range state.Maps {
		sm := &state.Maps[i]
		cells := state.Cells(i)
		if cells.Window.Height <= 0 || cells.Window.Width <= 0 {
			continue
		}
		norm := gt.NormalizeAspect(cells.Window.Height / cells.Window.Width)
		context := norm.ScaleCentered(cfg.MinContext, cfg.MinContext)
		span := norm
		if context.Area() > norm.Area() {
			span = context
		}
		fh, fw := cfg.scaleFactor(sm.Scale)
		r0, r1 := cells.RowRange(span, cfg.Widen, sm.Rows())
		c0, c1 := cells.ColRange(span, cfg.Widen, sm.Cols())
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				fp := cells.Footprint(r, c)
				cand := fp.ScaleCentered(fh, fw)
				match := cand.Match(norm)
				if match > miss.match {
					miss.match = match
					miss.matchScale = sm.Scale
				}
				if match < cfg.Matching {
					continue
				}
				overlap := context.CoveredBy(fp)
				if overlap > miss.overlap {
					miss.overlap = overlap
					miss.overlapScale = sm.Scale
				}
				if overlap < cfg.MinOverlap {
					continue
				}
				cand.Class = gt.Class
				cand.Confidence = match
				if !candidates.ContainsGeometry(cand) {
					candidates = append(candidates, cand)
				}
			}
		}
	}

	if len(candidates) == 0 {
		m.log.Warnf("%v: no positive for %v. Best match %.3f (scale %v, need %.3f), best overlap %.3f (scale %v, need %.3f)",
			frameName, gt, miss.match, miss.matchScale, cfg.Matching, miss.overlap, miss.overlapScale, cfg.MinOverlap)
		return nn.Sample{}, false
	}

	best := candidates.MaxConfidence()
	pick := best[best.ClosestTo(gt.Center())]
	return m.sample(state, pick), true
}
