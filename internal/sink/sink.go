// Package sink serializes record writes onto one append-only recording
// file. A single goroutine owns the file handle and applies records in
// submission order, so concurrent producers can never interleave bytes.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chalmers-revere/cloudrec/internal/events"
)

var (
	// ErrClosed is returned by Append once Close has begun.
	ErrClosed = errors.New("sink closed")

	// ErrDropped is returned under the drop policy when a record was
	// discarded because of a write failure. Recording continues.
	ErrDropped = errors.New("record dropped")
)

// ErrorPolicy selects how the sink reacts to a failed write.
type ErrorPolicy int

const (
	// AbortOnError makes the first write failure sticky: it is
	// returned from the failing Append and every one after it.
	AbortOnError ErrorPolicy = iota

	// DropOnError discards the failed record, counts it, and keeps
	// the sink usable.
	DropOnError
)

// String returns the flag spelling of the policy.
func (p ErrorPolicy) String() string {
	if p == DropOnError {
		return "drop"
	}
	return "abort"
}

// ParseErrorPolicy maps a flag value to an ErrorPolicy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "abort":
		return AbortOnError, nil
	case "drop":
		return DropOnError, nil
	default:
		return AbortOnError, fmt.Errorf("unknown write error policy %q (want abort or drop)", s)
	}
}

// queueDepth bounds how many records may wait for the writer goroutine.
// Producers block (with context) once the queue is full.
const queueDepth = 64

type request struct {
	rec  []byte
	done chan error
}

// Stats is a snapshot of the sink counters.
type Stats struct {
	Records uint64
	Bytes   uint64
	Dropped uint64
}

// Sink owns a recording file and appends records submitted through
// Append. Every record is handed to the file before its Append returns,
// so readers of the file observe completed records only.
type Sink struct {
	w      io.WriteCloser
	path   string
	policy ErrorPolicy
	sync   bool
	bus    *events.Bus

	requests   chan request
	writerDone chan struct{}

	mu       sync.Mutex
	closed   bool
	sticky   error
	closeErr error
	pending  sync.WaitGroup

	records atomic.Uint64
	bytes   atomic.Uint64
	dropped atomic.Uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithErrorPolicy sets the reaction to write failures.
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *Sink) { s.policy = p }
}

// WithSync fsyncs the file after every record. Only meaningful for
// sinks opened on a real file.
func WithSync() Option {
	return func(s *Sink) { s.sync = true }
}

// WithBus publishes write errors and drops to the event bus.
func WithBus(b *events.Bus) Option {
	return func(s *Sink) { s.bus = b }
}

// Open creates or truncates the recording file at path and starts the
// owning writer.
func Open(path string, opts ...Option) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording %s: %w", path, err)
	}
	s := New(f, opts...)
	s.path = path
	return s, nil
}

// New wraps an arbitrary writer with the owning-writer loop. The sink
// takes ownership of w and closes it in Close.
func New(w io.WriteCloser, opts ...Option) *Sink {
	s := &Sink{
		w:          w,
		path:       "sink",
		requests:   make(chan request, queueDepth),
		writerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Path returns the file path, or "sink" when wrapping a plain writer.
func (s *Sink) Path() string { return s.path }

// Stats returns a snapshot of the write counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Records: s.records.Load(),
		Bytes:   s.bytes.Load(),
		Dropped: s.dropped.Load(),
	}
}

// Err returns the sticky write error, if any.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sticky
}

// Append submits one complete record and returns once the writer has
// handed it to the file. ctx only covers the wait for a queue slot; a
// record that has been accepted is always resolved by the writer.
func (s *Sink) Append(ctx context.Context, rec []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.policy == AbortOnError && s.sticky != nil {
		err := s.sticky
		s.mu.Unlock()
		return err
	}
	s.pending.Add(1)
	s.mu.Unlock()
	defer s.pending.Done()

	req := request{rec: rec, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.done
}

// Close waits out in-flight appends, drains the queue, and closes the
// file. It is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.writerDone
	} else {
		s.closed = true
		s.mu.Unlock()

		s.pending.Wait()
		close(s.requests)
		<-s.writerDone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// run is the owning writer: the only goroutine that touches s.w.
func (s *Sink) run() {
	defer close(s.writerDone)
	for req := range s.requests {
		req.done <- s.write(req.rec)
	}
	if err := s.w.Close(); err != nil {
		s.mu.Lock()
		s.closeErr = fmt.Errorf("close %s: %w", s.path, err)
		s.mu.Unlock()
	}
}

func (s *Sink) write(rec []byte) error {
	s.mu.Lock()
	sticky := s.sticky
	s.mu.Unlock()
	if s.policy == AbortOnError && sticky != nil {
		return sticky
	}

	n, err := s.w.Write(rec)
	if err == nil && s.sync {
		if f, ok := s.w.(*os.File); ok {
			err = f.Sync()
		}
	}
	if err == nil {
		s.records.Add(1)
		s.bytes.Add(uint64(n))
		return nil
	}

	werr := fmt.Errorf("write %s: %w", s.path, err)
	if s.bus != nil {
		s.bus.Publish(events.WriteErrorEvent{Path: s.path, Error: err.Error()})
	}
	if s.policy == AbortOnError {
		s.mu.Lock()
		if s.sticky == nil {
			s.sticky = werr
		}
		werr = s.sticky
		s.mu.Unlock()
		return werr
	}

	s.dropped.Add(1)
	if s.bus != nil {
		s.bus.Publish(events.RecordDroppedEvent{
			RecordBytes: len(rec),
			Reason:      "write_error",
		})
	}
	return fmt.Errorf("%w: %v", ErrDropped, err)
}
