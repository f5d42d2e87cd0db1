package bootstrap

// Factor is a per-scale scaling of candidate boxes, about their center
type Factor struct {
	Height float32 `yaml:"height" json:"height"`
	Width  float32 `yaml:"width" json:"width"`
}

// Config controls what the miner extracts from each frame.
// All thresholds are ratios in [0,1]. A threshold of zero lets everything through.
type Config struct {
	Enabled         bool `yaml:"enabled"`
	Positives       bool `yaml:"positives"`       // Mine one positive per ground truth object
	Negatives       bool `yaml:"negatives"`       // Mine confident detections that aren't objects
	NegativesGTOnly bool `yaml:"negativesGTOnly"` // Only mine negatives from images that have ground truth
	Mirror          bool `yaml:"mirror"`          // Add a horizontally flipped copy of every positive

	Matching    float32 `yaml:"matching"`    // Minimum match between a candidate and its ground truth
	MinOverlap  float32 `yaml:"minOverlap"`  // Minimum fraction of the context box that the cell footprint must cover
	MinContext  float32 `yaml:"minContext"`  // Ground truth is grown by this factor to produce the context box
	Widen       int     `yaml:"widen"`       // Extra cells searched on every side of the ground truth
	Threshold   float32 `yaml:"threshold"`   // Minimum confidence of a negative
	NegMatching float32 `yaml:"negMatching"` // Maximum match between two accepted negatives
	// Maximum number of negatives per frame. Zero means no limit.
	MaxNegatives int `yaml:"maxNegatives"`

	// Indexed by pyramid level. Levels beyond the end of the list use 1.
	ScaleFactors []Factor `yaml:"scaleFactors"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Positives:    true,
		Negatives:    true,
		Matching:     0.5,
		MinOverlap:   0.9,
		MinContext:   1.0,
		Widen:        2,
		Threshold:    0.5,
		NegMatching:  0.3,
		MaxNegatives: 10,
	}
}

func (c *Config) scaleFactor(scale int) (fh, fw float32) {
	if scale < 0 || scale >= len(c.ScaleFactors) {
		return 1, 1
	}
	f := c.ScaleFactors[scale]
	fh, fw = f.Height, f.Width
	if fh <= 0 {
		fh = 1
	}
	if fw <= 0 {
		fw = 1
	}
	return
}
