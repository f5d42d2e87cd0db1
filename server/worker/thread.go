// Package worker runs detectors on their own goroutines, and hands frames and
// results to and from them through single-slot mailboxes.
package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/hardmine/pkg/idgen"
	"github.com/cyclopcam/hardmine/pkg/log"
	"github.com/cyclopcam/hardmine/pkg/syncx"
)

// ErrThreadAbandoned is returned by Stop when the thread did not finish in time.
// The goroutine is still running, so the caller must treat this as fatal.
var ErrThreadAbandoned = errors.New("Thread did not stop in time, and was abandoned")

type ThreadState int32

const (
	ThreadStateCreated ThreadState = iota
	ThreadStateRunning
	ThreadStateStopRequested
	ThreadStateFinished
)

func (s ThreadState) String() string {
	switch s {
	case ThreadStateCreated:
		return "created"
	case ThreadStateRunning:
		return "running"
	case ThreadStateStopRequested:
		return "stop requested"
	case ThreadStateFinished:
		return "finished"
	}
	return fmt.Sprintf("ThreadState(%d)", int32(s))
}

// Thread is a goroutine with a cooperative stop request, and its own output streams.
type Thread struct {
	Log  log.Log // Writes through Out and Err
	Name string
	Out  *syncx.Stream
	Err  *syncx.Stream

	state     atomic.Int32
	abandoned atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{} // Closed by AskStop
	done      chan struct{} // Closed when execute returns
}

// NewThread creates a thread named by 'names', whose streams write to 'console'
func NewThread(names *idgen.Names, console *syncx.Console) *Thread {
	name := names.Next()
	out, errs := console.Streams(name + ": ")
	return &Thread{
		Log:    log.NewStreamLog(out, errs),
		Name:   name,
		Out:    out,
		Err:    errs,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (t *Thread) State() ThreadState {
	return ThreadState(t.state.Load())
}

// Start runs execute on a new goroutine.
// execute must return soon after StopChan is closed.
// Start panics if the thread has already been started.
func (t *Thread) Start(execute func()) {
	if !t.state.CompareAndSwap(int32(ThreadStateCreated), int32(ThreadStateRunning)) {
		panic(fmt.Sprintf("%v started twice", t.Name))
	}
	go t.run(execute)
}

func (t *Thread) run(execute func()) {
	defer func() {
		if r := recover(); r != nil {
			t.Log.Criticalf("Panic: %v\n%s", r, debug.Stack())
		}
		t.state.Store(int32(ThreadStateFinished))
		t.Out.Close()
		t.Err.Close()
		close(t.done)
	}()
	execute()
}

// AskStop requests the thread to stop, and returns immediately
func (t *Thread) AskStop() {
	t.stopOnce.Do(func() {
		t.state.CompareAndSwap(int32(ThreadStateRunning), int32(ThreadStateStopRequested))
		close(t.stopCh)
	})
}

// StopChan is closed when the thread has been asked to stop
func (t *Thread) StopChan() <-chan struct{} {
	return t.stopCh
}

func (t *Thread) StopRequested() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

func (t *Thread) Finished() bool {
	return t.State() == ThreadStateFinished
}

// Abandoned is true if Stop gave up waiting for the thread
func (t *Thread) Abandoned() bool {
	return t.abandoned.Load()
}

// Stop asks the thread to stop, and waits up to 'wait' for it to finish.
// A thread that was never started is finished immediately.
// If the thread doesn't finish in time, it is abandoned, and ErrThreadAbandoned is returned.
func (t *Thread) Stop(wait time.Duration) error {
	if t.state.CompareAndSwap(int32(ThreadStateCreated), int32(ThreadStateFinished)) {
		t.stopOnce.Do(func() { close(t.stopCh) })
		close(t.done)
		return nil
	}
	t.AskStop()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
	}
	// There is no way to kill a goroutine, so we can only walk away from it
	t.abandoned.Store(true)
	t.state.Store(int32(ThreadStateFinished))
	t.Log.Criticalf("Did not stop within %v", wait)
	return fmt.Errorf("%v: %w", t.Name, ErrThreadAbandoned)
}
