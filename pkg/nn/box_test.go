package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	a := Box{H0: 0, W0: 0, Height: 10, Width: 10}
	b := Box{H0: 5, W0: 5, Height: 10, Width: 10}
	require.InDelta(t, 25.0/175.0, a.Match(b), 1e-6)
	require.Equal(t, a.Match(b), b.Match(a))

	// Scaling both boxes by the same amount doesn't change the match
	require.InDelta(t, a.Match(b), a.Scale(3).Match(b.Scale(3)), 1e-6)

	// Touching edges is not an overlap
	c := Box{H0: 0, W0: 10, Height: 10, Width: 10}
	require.False(t, a.Overlaps(c))
	require.Equal(t, float32(0), a.Match(c))

	// Degenerate boxes never match
	require.Equal(t, float32(0), Box{}.Match(Box{}))
}

func TestCoveredBy(t *testing.T) {
	inner := Box{H0: 10, W0: 10, Height: 20, Width: 20}
	outer := Box{H0: 8, W0: 8, Height: 24, Width: 24}
	require.Equal(t, float32(1), inner.CoveredBy(outer))
	require.InDelta(t, 400.0/576.0, outer.CoveredBy(inner), 1e-6)
}

func TestScaleCenteredAndAspect(t *testing.T) {
	b := Box{H0: 10, W0: 10, Height: 20, Width: 20}
	s := b.ScaleCentered(1.5, 1.5)
	require.Equal(t, b.Center(), s.Center())
	require.Equal(t, float32(30), s.Height)

	wide := Box{H0: 0, W0: 0, Height: 10, Width: 40}
	n := wide.NormalizeAspect(1)
	require.Equal(t, float32(40), n.Height)
	require.Equal(t, float32(40), n.Width)
	require.Equal(t, wide.Center(), n.Center())

	tall := Box{H0: 0, W0: 0, Height: 40, Width: 10}
	n = tall.NormalizeAspect(2)
	require.Equal(t, float32(40), n.Height)
	require.Equal(t, float32(20), n.Width)
}

func TestMirrorBox(t *testing.T) {
	b := Box{H0: 3, W0: 10, Height: 7, Width: 20, Class: 2}
	m := b.Mirror(100)
	require.Equal(t, float32(70), m.W0)
	require.Equal(t, b.Width, m.Width)
	require.Equal(t, b.Height, m.Height)
	require.Equal(t, b, m.Mirror(100))
}

func TestBoxSet(t *testing.T) {
	s := BoxSet{
		{H0: 0, W0: 0, Height: 10, Width: 10, Confidence: 0.5},
		{H0: 20, W0: 20, Height: 10, Width: 10, Confidence: 0.9},
		{H0: 40, W0: 40, Height: 10, Width: 10, Confidence: 0.9},
		{H0: 60, W0: 60, Height: 10, Width: 10, Confidence: 0.1},
	}
	best := s.MaxConfidence()
	require.Equal(t, 2, len(best))
	require.Equal(t, float32(20), best[0].H0)
	require.Equal(t, float32(40), best[1].H0)

	require.Equal(t, 1, best.ClosestTo(Point{H: 44, W: 44}))
	// Equidistant: the first one wins
	require.Equal(t, 0, best.ClosestTo(Point{H: 35, W: 35}))
	require.Equal(t, -1, BoxSet{}.ClosestTo(Point{}))

	c := s.Clone()
	c.SortByConfidence()
	require.Equal(t, []float32{0.9, 0.9, 0.5, 0.1}, []float32{c[0].Confidence, c[1].Confidence, c[2].Confidence, c[3].Confidence})
	// stable
	require.Equal(t, float32(20), c[0].H0)
	// the original is untouched
	require.Equal(t, float32(0.5), s[0].Confidence)

	require.True(t, s.AnyOverlap(Box{H0: 5, W0: 5, Height: 2, Width: 2}))
	require.False(t, s.AnyOverlap(Box{H0: 100, W0: 100, Height: 2, Width: 2}))
	require.True(t, s.ContainsGeometry(Box{H0: 40, W0: 40, Height: 10, Width: 10}))
}

func TestSuppressNonMaxima(t *testing.T) {
	in := BoxSet{
		{H0: 0, W0: 0, Height: 10, Width: 10, Confidence: 0.6, Class: 1},
		{H0: 1, W0: 1, Height: 10, Width: 10, Confidence: 0.8, Class: 1},
		{H0: 1, W0: 1, Height: 10, Width: 10, Confidence: 0.7, Class: 2}, // different class survives
		{H0: 50, W0: 50, Height: 10, Width: 10, Confidence: 0.3, Class: 1},
	}
	out := SuppressNonMaxima(in, 0.45)
	require.Equal(t, 3, len(out))
	require.Equal(t, float32(0.8), out[0].Confidence)
	require.Equal(t, 2, out[1].Class)
	require.Equal(t, float32(0.3), out[2].Confidence)
	require.Equal(t, 0, len(SuppressNonMaxima(nil, 0.5)))
}
