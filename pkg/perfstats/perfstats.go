// Package perfstats records how long the stages of the pipeline take, so that
// it's easy to compare detectors and hardware.
package perfstats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	if a.Samples == 0 || v < a.Min {
		a.Min = v
	}
	a.Max = max(a.Max, v)
	a.Samples++
	a.Total += v
}

// Merge adds all of b's samples into a
func (a *TimeAccumulator) Merge(b TimeAccumulator) {
	if b.Samples == 0 {
		return
	}
	if a.Samples == 0 || b.Min < a.Min {
		a.Min = b.Min
	}
	a.Max = max(a.Max, b.Max)
	a.Samples += b.Samples
	a.Total += b.Total
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

func (a TimeAccumulator) String() string {
	return fmt.Sprintf("%v samples, avg %.1f ms, min %.1f ms, max %.1f ms", a.Samples, ms(a.Average()), ms(a.Min), ms(a.Max))
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// Update an exponential moving average, which can be read from other threads.
// The first sample initializes the average.
func UpdateMovingAverage(stat *atomic.Int64, value int64) {
	// This is sampled stats, so a lost update between Load and Store is OK.
	if old := stat.Load(); old == 0 {
		stat.Store(value)
	} else {
		stat.Store((old*63 + value) >> 6)
	}
}
