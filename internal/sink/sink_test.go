package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chalmers-revere/cloudrec/internal/envelope"
	"github.com/chalmers-revere/cloudrec/internal/events"
)

var errInjected = errors.New("injected write failure")

// scriptedWriter collects writes in memory and fails the call numbers
// listed in fail.
type scriptedWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	fail   map[int]bool
	calls  int
	closed bool
}

func (w *scriptedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail[w.calls] {
		return 0, errInjected
	}
	return w.buf.Write(p)
}

func (w *scriptedWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *scriptedWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

// blockingWriter stalls every write until its gate is opened.
type blockingWriter struct {
	started atomic.Bool
	gate    chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.started.Store(true)
	<-w.gate
	return len(p), nil
}

func (w *blockingWriter) Close() error { return nil }

func frameRecord(t *testing.T, sender uint32, seq int32, fill byte, size int) []byte {
	t.Helper()
	rec, err := envelope.Marshal(&envelope.Envelope{
		DataType:        envelope.ImageReadingID,
		SerializedData:  bytes.Repeat([]byte{fill}, size),
		SampleTimeStamp: envelope.TimeStamp{Seconds: seq},
		SenderStamp:     sender,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return rec
}

func TestAppendVisibleBeforeReturn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.rec")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	rec := frameRecord(t, 1, 1, 0xEE, 100)
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// The record must be readable before Close.
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, rec) {
		t.Errorf("file holds %d bytes, want the %d-byte record", len(got), len(rec))
	}
}

func TestOpenTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.rec")
	if err := os.WriteFile(path, []byte("stale content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := os.ReadFile(path)
	if len(got) != 0 {
		t.Errorf("file still holds %d stale bytes", len(got))
	}
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.rec")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const perWriter = 100
	var wg sync.WaitGroup
	for _, sender := range []uint32{1, 2} {
		wg.Add(1)
		go func(sender uint32) {
			defer wg.Done()
			for i := range perWriter {
				rec := frameRecord(t, sender, int32(i), byte(sender), 10+i)
				if err := s.Append(context.Background(), rec); err != nil {
					t.Errorf("sender %d append %d: %v", sender, i, err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open recording: %v", err)
	}
	defer f.Close()

	counts := map[uint32]int{}
	lastSeq := map[uint32]int32{1: -1, 2: -1}
	r := envelope.NewReader(f)
	for {
		env, err := r.NextEnvelope()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("record %v split: %v", counts, err)
		}
		sender := env.SenderStamp
		for _, b := range env.SerializedData {
			if b != byte(sender) {
				t.Fatalf("record from sender %d contains foreign byte %#x", sender, b)
			}
		}
		if env.SampleTimeStamp.Seconds <= lastSeq[sender] {
			t.Errorf("sender %d records out of order: %d after %d",
				sender, env.SampleTimeStamp.Seconds, lastSeq[sender])
		}
		lastSeq[sender] = env.SampleTimeStamp.Seconds
		counts[sender]++
	}
	if counts[1] != perWriter || counts[2] != perWriter {
		t.Errorf("recovered %d/%d records, want %d each", counts[1], counts[2], perWriter)
	}
}

func TestAbortPolicySticky(t *testing.T) {
	w := &scriptedWriter{fail: map[int]bool{2: true}}
	s := New(w, WithErrorPolicy(AbortOnError))

	r1 := frameRecord(t, 1, 1, 0x01, 8)
	if err := s.Append(context.Background(), r1); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err2 := s.Append(context.Background(), frameRecord(t, 1, 2, 0x02, 8))
	if !errors.Is(err2, errInjected) {
		t.Fatalf("second append = %v, want injected failure", err2)
	}
	err3 := s.Append(context.Background(), frameRecord(t, 1, 3, 0x03, 8))
	if !errors.Is(err3, errInjected) {
		t.Errorf("third append = %v, want the sticky error", err3)
	}

	if got := s.Stats(); got.Records != 1 {
		t.Errorf("records = %d, want 1", got.Records)
	}
	if w.calls != 2 {
		t.Errorf("writer saw %d calls, want 2 (third append short-circuits)", w.calls)
	}
	s.Close()
	if !bytes.Equal(w.bytes(), r1) {
		t.Error("file does not hold exactly the first record")
	}
}

func TestDropPolicyContinues(t *testing.T) {
	w := &scriptedWriter{fail: map[int]bool{2: true}}
	s := New(w, WithErrorPolicy(DropOnError))

	r1 := frameRecord(t, 1, 1, 0x01, 8)
	r3 := frameRecord(t, 1, 3, 0x03, 8)
	if err := s.Append(context.Background(), r1); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.Append(context.Background(), frameRecord(t, 1, 2, 0x02, 8)); !errors.Is(err, ErrDropped) {
		t.Fatalf("second append = %v, want ErrDropped", err)
	}
	if err := s.Append(context.Background(), r3); err != nil {
		t.Fatalf("third append: %v", err)
	}

	got := s.Stats()
	if got.Records != 2 || got.Dropped != 1 {
		t.Errorf("stats = %+v, want 2 records and 1 drop", got)
	}
	s.Close()
	if !bytes.Equal(w.bytes(), append(append([]byte(nil), r1...), r3...)) {
		t.Error("file does not hold records 1 and 3 back to back")
	}
}

func TestAppendAfterClose(t *testing.T) {
	w := &scriptedWriter{}
	s := New(w)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !w.closed {
		t.Error("underlying writer not closed")
	}
	if err := s.Append(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append = %v, want ErrClosed", err)
	}
	// Close again is a no-op.
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestAppendContextCancelledOnFullQueue(t *testing.T) {
	w := &blockingWriter{gate: make(chan struct{})}
	s := New(w)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Append(context.Background(), []byte("head"))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !w.started.Load() {
		if time.Now().After(deadline) {
			t.Fatal("writer never picked up the first record")
		}
		time.Sleep(time.Millisecond)
	}

	for range queueDepth {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(context.Background(), []byte("queued"))
		}()
	}
	for len(s.requests) < queueDepth {
		if time.Now().After(deadline) {
			t.Fatal("queue never filled")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Append(ctx, []byte("overflow")); !errors.Is(err, context.Canceled) {
		t.Errorf("Append on full queue = %v, want context.Canceled", err)
	}

	close(w.gate)
	wg.Wait()
	s.Close()
}

func TestWriteErrorEventPublished(t *testing.T) {
	bus := events.New()
	received := make(chan events.WriteErrorEvent, 1)
	unsub := bus.Subscribe(func(e events.WriteErrorEvent) { received <- e })
	defer unsub()

	w := &scriptedWriter{fail: map[int]bool{1: true}}
	s := New(w, WithBus(bus))
	defer s.Close()

	if err := s.Append(context.Background(), []byte{1, 2, 3}); err == nil {
		t.Fatal("append on failing writer succeeded")
	}
	select {
	case e := <-received:
		if e.Error == "" {
			t.Error("event carries no error text")
		}
	case <-time.After(time.Second):
		t.Fatal("no WriteErrorEvent published")
	}
}

func TestWithSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.rec")
	s, err := Open(path, WithSync())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := frameRecord(t, 9, 1, 0xAA, 32)
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, rec) {
		t.Error("synced record does not round trip")
	}
}
