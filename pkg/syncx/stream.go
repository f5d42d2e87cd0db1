package syncx

import (
	"bytes"
	"io"
	"sync"
)

type flusher interface {
	Flush() error
}

// Console owns a pair of sinks (normally stdout and stderr) and the lock that
// serializes whole lines written to them from many threads.
type Console struct {
	lock Mutex
	out  io.Writer
	err  io.Writer
}

func NewConsole(out, err io.Writer) *Console {
	return &Console{
		out: out,
		err: err,
	}
}

// Streams returns a new out/err Stream pair that prefixes every line with 'prefix'.
// The pair belongs to one thread, so a line written on one of them finishes
// any partial line that was flushed on the other.
func (c *Console) Streams(prefix string) (out *Stream, err *Stream) {
	p := &linePair{}
	return newStream(&c.lock, c.out, prefix, p), newStream(&c.lock, c.err, prefix, p)
}

// linePair is the state shared by the streams of one thread
type linePair struct {
	mu     sync.Mutex // guards pending of both streams, and holder
	holder *Stream    // Stream whose partial line is on screen, while we hold the shared lock
}

// Stream is a line buffered writer.
// Text is accumulated until a newline arrives, and then the whole line is written
// to the sink while holding the shared lock, so that two streams on the same
// shared lock never interleave partial lines.
// If Flush is called on an unterminated line, the text is written immediately,
// and the shared lock is kept until the line is terminated by a later Write or by Close.
type Stream struct {
	shared *Mutex
	sink   io.Writer
	prefix string
	pair   *linePair

	pending []byte // guarded by pair.mu
}

func NewStream(shared *Mutex, sink io.Writer, prefix string) *Stream {
	return newStream(shared, sink, prefix, &linePair{})
}

func newStream(shared *Mutex, sink io.Writer, prefix string, pair *linePair) *Stream {
	return &Stream{
		shared: shared,
		sink:   sink,
		prefix: prefix,
		pair:   pair,
	}
}

func (s *Stream) Prefix() string {
	return s.prefix
}

func (s *Stream) Write(p []byte) (int, error) {
	s.pair.mu.Lock()
	defer s.pair.mu.Unlock()

	s.pending = append(s.pending, p...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		err := s.emit(s.pending[:i+1], true)
		s.pending = s.pending[i+1:]
		if err != nil {
			s.pending = append([]byte(nil), s.pending...)
			return len(p), err
		}
	}
	s.pending = append(s.pending[:0], s.pending...)
	return len(p), nil
}

// Flush writes any pending partial line.
// The shared lock stays with this stream's pair until the line is finished.
func (s *Stream) Flush() error {
	s.pair.mu.Lock()
	defer s.pair.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	err := s.emit(s.pending, false)
	s.pending = s.pending[:0]
	return err
}

// Close terminates any partial line and releases the shared lock if we hold it.
func (s *Stream) Close() error {
	s.pair.mu.Lock()
	defer s.pair.mu.Unlock()
	if len(s.pending) == 0 && s.pair.holder != s {
		return nil
	}
	s.pending = append(s.pending, '\n')
	err := s.emit(s.pending, true)
	s.pending = s.pending[:0]
	return err
}

// Must be called with s.pair.mu held
func (s *Stream) emit(chunk []byte, endOfLine bool) error {
	p := s.pair
	if p.holder == nil {
		s.shared.Lock()
	} else if p.holder != s {
		// The other stream of our pair left a partial line. We already hold the shared lock.
		h := p.holder
		p.holder = nil
		if err := writeAndFlush(h.sink, []byte{'\n'}); err != nil {
			s.shared.Unlock()
			return err
		}
	}
	if p.holder != s && s.prefix != "" {
		if _, err := io.WriteString(s.sink, s.prefix); err != nil {
			p.holder = nil
			s.shared.Unlock()
			return err
		}
	}
	err := writeAndFlush(s.sink, chunk)
	if endOfLine || err != nil {
		p.holder = nil
		s.shared.Unlock()
	} else {
		p.holder = s
	}
	return err
}

func writeAndFlush(sink io.Writer, b []byte) error {
	if _, err := sink.Write(b); err != nil {
		return err
	}
	if f, ok := sink.(flusher); ok {
		return f.Flush()
	}
	return nil
}
