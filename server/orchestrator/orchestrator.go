// Package orchestrator feeds frames to a pool of detection workers, and
// collects their detections and mined samples.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/hardmine/pkg/idgen"
	"github.com/cyclopcam/hardmine/pkg/log"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/cyclopcam/hardmine/pkg/perfstats"
	"github.com/cyclopcam/hardmine/pkg/syncx"
	"github.com/cyclopcam/hardmine/server/bootstrap"
	"github.com/cyclopcam/hardmine/server/sampledb"
	"github.com/cyclopcam/hardmine/server/worker"
)

// If no worker wakes us up within this time, we poll them all anyway
const idlePollInterval = 100 * time.Millisecond

const progressInterval = 5 * time.Second

type Options struct {
	Threads     int
	StopTimeout time.Duration
	NewDetector func() (nn.Detector, error) // Called once per worker
	Loader      worker.ImageLoader          // Decodes frames that are submitted by reference
	Console     *syncx.Console              // Where worker threads write their logs

	Bootstrap   bootstrap.Config
	GroundTruth bootstrap.GroundTruth // May be nil
	GTScale     float32               // Factor from ground truth coordinates to frame coordinates

	Catalog       *sampledb.SampleDB // Optional
	CatalogConfig string             // Recorded with the run in the catalog
}

// Summary of a run
type Summary struct {
	RunID     string // Catalog ID, if there is a catalog
	Frames    int    // Frames in the run
	Processed int    // Frames that went through the detector
	Skipped   int    // Frames that were skipped because they couldn't yield any samples
	Failed    int    // Frames on which detection failed
	Boxes     int
	Positives int
	Negatives int
	Forward   perfstats.TimeAccumulator
	Elapsed   time.Duration
}

func (s *Summary) String() string {
	return fmt.Sprintf("%v frames (%v processed, %v skipped, %v failed), %v detections, %v positives, %v negatives, forward pass %v",
		s.Frames, s.Processed, s.Skipped, s.Failed, s.Boxes, s.Positives, s.Negatives, s.Forward.String())
}

type Orchestrator struct {
	// OnResult, if set, is called for every frame that went through the detector
	OnResult func(r *worker.Result)

	log     log.Log
	opts    Options
	workers []*worker.DetectionWorker
	notify  chan struct{}
	classes []string

	positives  []nn.Sample
	negatives  []nn.Sample
	avgForward atomic.Int64 // Moving average of forward pass time, in nanoseconds
}

// New creates and starts the worker pool
func New(logger log.Log, opts Options) (*Orchestrator, error) {
	if opts.Threads < 1 {
		return nil, fmt.Errorf("Need at least one thread, not %v", opts.Threads)
	}
	if opts.GTScale == 0 {
		opts.GTScale = 1
	}
	o := &Orchestrator{
		log:    log.NewPrefixLogger(logger, "Orchestrator:"),
		opts:   opts,
		notify: make(chan struct{}, opts.Threads),
	}
	names := idgen.NewNames("Thread")
	for i := 0; i < opts.Threads; i++ {
		det, err := opts.NewDetector()
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("Failed to create detector %v: %w", i, err)
		}
		if i == 0 {
			o.classes = det.Config().Classes
		}
		w := worker.NewDetectionWorker(names, opts.Console, worker.DetectionWorkerOptions{
			Detector: det,
			Loader:   opts.Loader,
			Notify:   o.notify,
		})
		if opts.Bootstrap.Enabled {
			w.SetMiner(bootstrap.NewMiner(w.Log, opts.Bootstrap, opts.GroundTruth, det.Config()))
		}
		w.Start()
		o.workers = append(o.workers, w)
	}
	o.log.Infof("Started %v workers", len(o.workers))
	return o, nil
}

// Close stops all workers. An abandoned worker is reported as an error.
func (o *Orchestrator) Close() error {
	errs := []error{}
	for _, w := range o.workers {
		if err := w.Stop(o.opts.StopTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	o.workers = nil
	return errors.Join(errs...)
}

// Class names of the detector
func (o *Orchestrator) Classes() []string {
	return o.classes
}

// Samples mined by all runs so far
func (o *Orchestrator) Samples() (positives, negatives []nn.Sample) {
	return o.positives, o.negatives
}

// AverageForwardTime is a moving average of the forward pass time
func (o *Orchestrator) AverageForwardTime() time.Duration {
	return time.Duration(o.avgForward.Load())
}

// SaveDataset writes all mined samples, positives first
func (o *Orchestrator) SaveDataset(dir, name string) error {
	all := make([]nn.Sample, 0, len(o.positives)+len(o.negatives))
	all = append(all, o.positives...)
	all = append(all, o.negatives...)
	if err := bootstrap.SaveDataset(dir, name, all, o.classes); err != nil {
		return err
	}
	o.log.Infof("Saved %v positives and %v negatives to %v/%v", len(o.positives), len(o.negatives), dir, name)
	return nil
}

// Run sends every frame through the worker pool, and waits for all of the results.
// Frames are handed to whichever worker is available, so they complete in no particular order.
// A fatal result, a dead worker, or a cancelled context ends the run early. Frames that
// were still being processed at that point are discarded when a later run polls them.
func (o *Orchestrator) Run(ctx context.Context, frames []nn.Frame) (*Summary, error) {
	start := time.Now()
	s := &Summary{Frames: len(frames)}
	if o.opts.Catalog != nil {
		runID, err := o.opts.Catalog.StartRun(o.opts.CatalogConfig)
		if err != nil {
			return s, fmt.Errorf("Failed to record run: %w", err)
		}
		s.RunID = runID
		defer func() {
			if err := o.opts.Catalog.FinishRun(runID, o.totals(s)); err != nil {
				o.log.Errorf("Failed to record totals of run %v: %v", runID, err)
			}
		}()
	}

	busy := make([]bool, len(o.workers))
	next := 0
	inFlight := 0
	lastProgress := time.Now()
	var r worker.Result

	for next < len(frames) || inFlight > 0 {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		progress := false
		for i, w := range o.workers {
			ok, skipped := w.PollResult(&r)
			if (ok || skipped) && !busy[i] {
				// Left over from an earlier run that ended early
				o.log.Warnf("Discarding late result of %v from a previous run", w.Name)
				progress = true
			} else if ok || skipped {
				busy[i] = false
				inFlight--
				progress = true
				if skipped {
					s.Skipped++
				} else if err := o.collect(&r, s); err != nil {
					return s, err
				}
			} else if busy[i] && w.Finished() {
				return s, fmt.Errorf("%v stopped while processing a frame", w.Name)
			}

			if next < len(frames) && w.SubmitFrame(frames[next], int64(next), worker.Metadata{
				Name:  frames[next].Name,
				Index: next,
				Total: len(frames),
				Scale: o.opts.GTScale,
			}) {
				busy[i] = true
				next++
				inFlight++
				progress = true
			}
		}

		if time.Since(lastProgress) > progressInterval {
			o.log.Infof("%v/%v frames done, %v positives, %v negatives, forward pass %.1f ms",
				s.Processed+s.Skipped, len(frames), s.Positives, s.Negatives, float64(o.AverageForwardTime().Microseconds())/1000)
			lastProgress = time.Now()
		}
		if progress {
			continue
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-o.notify:
		case <-time.After(idlePollInterval):
		}
	}
	s.Elapsed = time.Since(start)
	o.log.Infof("Run finished in %.1f s: %v", s.Elapsed.Seconds(), s)
	return s, nil
}

func (o *Orchestrator) collect(r *worker.Result, s *Summary) error {
	s.Processed++
	if r.Fatal != nil {
		return r.Fatal
	}
	if r.Err != nil {
		s.Failed++
	} else {
		s.Forward.AddSample(r.Elapsed)
		perfstats.UpdateMovingAverage(&o.avgForward, r.Elapsed.Nanoseconds())
	}
	s.Boxes += len(r.Boxes)
	s.Positives += len(r.Positives)
	s.Negatives += len(r.Negatives)
	o.positives = append(o.positives, r.Positives...)
	o.negatives = append(o.negatives, r.Negatives...)
	if c := o.opts.Catalog; c != nil {
		if err := c.AddSamples(s.RunID, r.Meta.Name, sampledb.KindPositive, r.Positives); err != nil {
			return fmt.Errorf("Failed to record samples of %v: %w", r.Meta.Name, err)
		}
		if err := c.AddSamples(s.RunID, r.Meta.Name, sampledb.KindNegative, r.Negatives); err != nil {
			return fmt.Errorf("Failed to record samples of %v: %w", r.Meta.Name, err)
		}
	}
	if o.OnResult != nil {
		o.OnResult(r)
	}
	return nil
}

func (o *Orchestrator) totals(s *Summary) sampledb.Totals {
	return sampledb.Totals{
		Frames:    s.Frames,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Positives: s.Positives,
		Negatives: s.Negatives,
	}
}
