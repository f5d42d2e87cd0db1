package worker

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/hardmine/pkg/idgen"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/cyclopcam/hardmine/pkg/syncx"
)

// Don't repeat the same detector error more often than this
const errorLogInterval = 15 * time.Second

// Metadata travels with a frame, from SubmitFrame to its Result
type Metadata struct {
	Name  string  // Frame name. Ground truth is found by this name.
	Index int     // Position of the frame in the run
	Total int     // Number of frames in the run
	Scale float32 // Factor from ground truth coordinates to frame coordinates. Zero means 1.
}

// Result of processing one frame
type Result struct {
	FrameID   int64
	Meta      Metadata
	Frame     nn.Frame
	Boxes     nn.BoxSet
	Positives []nn.Sample
	Negatives []nn.Sample
	Err       error         // Detection failed, and Boxes is empty
	Fatal     error         // Mining failed in a way that must end the run
	Elapsed   time.Duration // Time spent in the forward pass
}

// Miner extracts training samples from the state of a forward pass.
// Each worker owns its own Miner.
type Miner interface {
	IsActive() bool
	SkipFrame(frameName string) bool
	Mine(state *nn.State, frameName string, reset bool, scale float32) error
	PositiveSamples() []nn.Sample
	NegativeSamples() []nn.Sample
}

// ImageLoader decodes the file that a reference frame names.
// scale is the factor from file coordinates to frame coordinates, which is not 1 if the loader resized the image.
type ImageLoader interface {
	Load(path string) (frame nn.Frame, scale float32, err error)
}

type DetectionWorkerOptions struct {
	Detector nn.Detector   // Owned by the worker, and closed when it finishes
	Miner    Miner         // Optional
	Loader   ImageLoader   // Needed if frames are submitted by reference
	Notify   chan struct{} // Optional. Receives a token (without blocking) whenever a result is published.
}

type inputSlot struct {
	frame   nn.Frame
	frameID int64
	meta    Metadata
	updated bool
}

type outputSlot struct {
	result  Result
	skipped bool
	updated bool
}

// DetectionWorker runs a detector on its own goroutine.
//
// A frame goes in with SubmitFrame, and its result comes out with PollResult.
// Neither ever blocks. The worker accepts one frame at a time: after a
// successful SubmitFrame, the worker is unavailable until the result of that
// frame has been taken by PollResult.
//
// The input and output slots have their own locks, and no code path holds both.
type DetectionWorker struct {
	*Thread
	detector nn.Detector
	miner    Miner
	loader   ImageLoader
	notify   chan struct{}
	wake     chan struct{}

	started   atomic.Bool
	available atomic.Bool
	fed       atomic.Bool
	closeOnce sync.Once

	inLock  syncx.Mutex
	in      inputSlot // guarded by inLock
	outLock syncx.Mutex
	out     outputSlot // guarded by outLock

	// Owned by the worker goroutine
	frame     nn.Frame
	lastErr   string
	lastErrAt time.Time
}

func NewDetectionWorker(names *idgen.Names, console *syncx.Console, opts DetectionWorkerOptions) *DetectionWorker {
	if opts.Detector == nil {
		panic("DetectionWorker needs a detector")
	}
	return &DetectionWorker{
		Thread:   NewThread(names, console),
		detector: opts.Detector,
		miner:    opts.Miner,
		loader:   opts.Loader,
		notify:   opts.Notify,
		wake:     make(chan struct{}, 1),
	}
}

// SetMiner replaces the miner. It may only be called before Start.
func (w *DetectionWorker) SetMiner(m Miner) {
	if w.State() != ThreadStateCreated {
		panic("SetMiner called on a running worker")
	}
	w.miner = m
}

// Start the worker goroutine. The worker is available once this returns.
func (w *DetectionWorker) Start() {
	w.started.Store(true)
	w.available.Store(true)
	w.Thread.Start(w.loop)
}

// Stop stops the worker as Thread.Stop does.
// The goroutine closes the detector on its way out. If the worker was never started, Stop closes it.
func (w *DetectionWorker) Stop(wait time.Duration) error {
	err := w.Thread.Stop(wait)
	if !w.started.Load() {
		w.closeDetector()
	}
	return err
}

func (w *DetectionWorker) closeDetector() {
	w.closeOnce.Do(w.detector.Close)
}

// IsAvailable is true when the worker will accept the next SubmitFrame
func (w *DetectionWorker) IsAvailable() bool {
	return w.available.Load()
}

// IsFed is true while a submitted frame is waiting for the worker to pick it up
func (w *DetectionWorker) IsFed() bool {
	return w.fed.Load()
}

// SubmitFrame hands a frame to the worker, and returns true if it was accepted.
// The frame is copied, so the caller may reuse it immediately.
// A frame with no pixels is a reference to an image file, which the worker loads itself.
// Panics if the frame's pixel buffer is inconsistent with its dimensions.
func (w *DetectionWorker) SubmitFrame(frame nn.Frame, frameID int64, meta Metadata) bool {
	if !w.available.Load() {
		return false
	}
	if !w.inLock.TryLock() {
		return false
	}
	defer w.inLock.Unlock()
	if w.in.updated {
		return false
	}
	w.in.frame.CopyFrom(&frame)
	w.in.frameID = frameID
	w.in.meta = meta
	w.in.updated = true
	w.available.Store(false)
	w.fed.Store(true)
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// PollResult copies the latest result into 'out'.
// ok is true if a result was copied. skipped is true if the frame was skipped
// without detection, in which case 'out' is untouched.
// Either way, the worker becomes available for the next frame.
func (w *DetectionWorker) PollResult(out *Result) (ok, skipped bool) {
	w.outLock.Do(func() {
		if !w.out.updated {
			return
		}
		w.out.updated = false
		if w.out.skipped {
			skipped = true
		} else {
			copyResult(out, &w.out.result)
			ok = true
		}
		w.available.Store(true)
	})
	return
}

func copyResult(dst, src *Result) {
	dst.FrameID = src.FrameID
	dst.Meta = src.Meta
	dst.Frame.CopyFrom(&src.Frame)
	dst.Boxes = src.Boxes.Clone()
	dst.Positives = nn.CloneSamples(src.Positives)
	dst.Negatives = nn.CloneSamples(src.Negatives)
	dst.Err = src.Err
	dst.Fatal = src.Fatal
	dst.Elapsed = src.Elapsed
}

func (w *DetectionWorker) loop() {
	defer w.closeDetector()
	for {
		select {
		case <-w.StopChan():
			return
		case <-w.wake:
		}
		if w.StopRequested() {
			return
		}
		frameID, meta, ok := w.takeInput()
		if !ok {
			continue
		}
		w.process(frameID, meta)
	}
}

// Move the submitted frame into our private buffer.
// The buffers are swapped, so neither side reallocates for same-sized frames.
func (w *DetectionWorker) takeInput() (frameID int64, meta Metadata, ok bool) {
	w.inLock.Do(func() {
		if !w.in.updated {
			return
		}
		w.frame, w.in.frame = w.in.frame, w.frame
		frameID = w.in.frameID
		meta = w.in.meta
		w.in.updated = false
		w.fed.Store(false)
		ok = true
	})
	return
}

func (w *DetectionWorker) process(frameID int64, meta Metadata) {
	r := Result{
		FrameID: frameID,
		Meta:    meta,
	}
	if w.miner != nil && w.miner.SkipFrame(meta.Name) {
		w.publish(&r, true)
		return
	}

	scale := meta.Scale
	if scale == 0 {
		scale = 1
	}
	if w.frame.IsReference() {
		loadScale, err := w.loadFrame()
		if err != nil {
			r.Err = err
			r.Frame = w.frame
			w.Log.Errorf("%v", err)
			w.publish(&r, false)
			return
		}
		// Ground truth is in the coordinates of the file, not of the resized frame
		scale *= loadScale
	}

	start := time.Now()
	boxes, state, err := w.forward()
	r.Elapsed = time.Since(start)
	if err != nil {
		r.Err = fmt.Errorf("Detection failed on '%v': %w", meta.Name, err)
		w.logDetectionError(r.Err)
		boxes = nil
	} else if w.miner != nil && w.miner.IsActive() && state != nil {
		if err := w.mine(state, meta.Name, scale); err != nil {
			r.Fatal = fmt.Errorf("Mining failed on '%v': %w", meta.Name, err)
			w.Log.Criticalf("%v", r.Fatal)
		} else {
			r.Positives = w.miner.PositiveSamples()
			r.Negatives = w.miner.NegativeSamples()
		}
	}
	r.Boxes = boxes
	r.Frame = w.frame
	w.publish(&r, false)
}

func (w *DetectionWorker) loadFrame() (scale float32, err error) {
	if w.loader == nil {
		return 0, fmt.Errorf("Frame '%v' has no pixels, and there is no image loader", w.frame.Name)
	}
	name := w.frame.Name
	img, scale, err := w.loader.Load(name)
	if err != nil {
		return 0, fmt.Errorf("Failed to load '%v': %w", name, err)
	}
	if scale == 0 {
		scale = 1
	}
	img.Name = name
	w.frame.CopyFrom(&img)
	return scale, nil
}

// Run the detector, and turn a panic into an error, so that one bad frame doesn't kill the worker
func (w *DetectionWorker) forward() (boxes nn.BoxSet, state *nn.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			boxes, state = nil, nil
			err = fmt.Errorf("Detector panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.detector.Forward(&w.frame)
}

func (w *DetectionWorker) mine(state *nn.State, name string, scale float32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Miner panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.miner.Mine(state, name, true, scale)
}

func (w *DetectionWorker) logDetectionError(err error) {
	msg := err.Error()
	now := time.Now()
	if msg == w.lastErr && now.Sub(w.lastErrAt) < errorLogInterval {
		return
	}
	w.Log.Errorf("%v", msg)
	w.lastErr = msg
	w.lastErrAt = now
}

// Copy the result into the output slot, and wake whoever is waiting on results
func (w *DetectionWorker) publish(r *Result, skipped bool) {
	w.outLock.Do(func() {
		if skipped {
			w.out.result = Result{FrameID: r.FrameID, Meta: r.Meta}
		} else {
			copyResult(&w.out.result, r)
		}
		w.out.skipped = skipped
		w.out.updated = true
	})
	if w.notify != nil {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}
