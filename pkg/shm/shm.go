//go:build linux

// Package shm provides pure Go access to named shared-memory frame
// segments backed by /dev/shm, using futexes for cross-process locking
// and change notification.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Segment Layout
//
// A segment is one memory-mapped file with a fixed 64-byte header in
// front of the frame payload. All header fields are little-endian:
//
//	offset  0  uint32  magic "SHM1"
//	offset  4  uint32  layout version (currently 1)
//	offset  8  uint32  lock word (futex mutex)
//	offset 12  uint32  notify counter (futex wait/wake)
//	offset 16  int64   frame timestamp, seconds
//	offset 24  int64   frame timestamp, microseconds
//	offset 32  uint32  valid payload length in bytes
//	offset 36          reserved
//	offset 64          payload
//
// The lock word guards the payload and the timestamp/length fields. The
// notify counter is bumped by the producer after each frame; consumers
// futex-wait on it. Producers write frames with SetFrame and publish
// them with Notify; consumers block in Wait and copy with CopyFrame.
//
// # Consumer
//
//	seg, err := shm.Attach("cloud")
//	buf := make([]byte, seg.Capacity())
//	for {
//	    if err := seg.Wait(ctx); err != nil {
//	        break
//	    }
//	    n, ts, ok := seg.CopyFrame(buf)
//	    ...
//	}
//
// Wait and CopyFrame are meant to be driven from a single consumer
// goroutine. Close must not be called while a Wait or CopyFrame is in
// flight.
package shm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	magicWord     = 0x314D4853 // "SHM1"
	layoutVersion = 1

	offMagic   = 0
	offVersion = 4
	offLock    = 8
	offSeq     = 12
	offTSSec   = 16
	offTSMicro = 24
	offLength  = 32

	headerSize = 64
)

// shmDir is where the kernel exposes POSIX shared-memory objects.
const shmDir = "/dev/shm"

var (
	// ErrNotFound is returned when the named segment does not exist.
	ErrNotFound = errors.New("shared memory segment not found")

	// ErrInvalidSegment is returned when a segment exists but does not
	// carry a usable header, or has been torn down by its owner.
	ErrInvalidSegment = errors.New("invalid shared memory segment")
)

// waitSlice bounds each futex sleep so cancellation and segment
// teardown are observed even if a wake-up is lost.
const waitSlice = 250 * time.Millisecond

// Segment is an attached shared-memory segment.
type Segment struct {
	name    string
	path    string
	fd      int
	data    []byte
	owner   bool
	lastSeq uint32
}

// Attach opens and maps the named segment. The name is the producer's
// segment name, with or without a leading slash.
func Attach(name string) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size < headerSize {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is only %d bytes", ErrInvalidSegment, path, st.Size)
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	s := &Segment{name: name, path: path, fd: fd, data: data}
	if !s.Valid() {
		s.unmap()
		return nil, fmt.Errorf("%w: %s has no segment header", ErrInvalidSegment, path)
	}
	s.lastSeq = atomic.LoadUint32(s.word(offSeq))
	return s, nil
}

// Create makes a new segment with room for capacity payload bytes,
// replacing any existing segment of the same name. The creating process
// owns the segment: Close unlinks it and invalidates waiting consumers.
func Create(name string, capacity int) (*Segment, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacity)
	}
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	size := headerSize + capacity
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("truncate %s to %d: %w", path, size, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	s := &Segment{name: name, path: path, fd: fd, data: data, owner: true}
	binary.LittleEndian.PutUint32(data[offVersion:], layoutVersion)
	atomic.StoreUint32(s.word(offMagic), magicWord)
	return s, nil
}

// Name returns the segment name given at Attach or Create.
func (s *Segment) Name() string { return s.name }

// Path returns the backing file under /dev/shm.
func (s *Segment) Path() string { return s.path }

// Capacity returns the payload capacity in bytes.
func (s *Segment) Capacity() int { return len(s.data) - headerSize }

// Valid reports whether the segment still carries a live header. An
// owner tearing the segment down clears the header, which flips Valid
// to false for every attached consumer.
func (s *Segment) Valid() bool {
	if s.data == nil {
		return false
	}
	if atomic.LoadUint32(s.word(offMagic)) != magicWord {
		return false
	}
	return binary.LittleEndian.Uint32(s.data[offVersion:]) == layoutVersion
}

// Wait blocks until the producer publishes a frame not yet seen by this
// segment handle, the context is cancelled, or the segment becomes
// invalid. Cancellation wakes the futex immediately; the bounded sleep
// slice covers the small window where a wake-up can be missed.
func (s *Segment) Wait(ctx context.Context) error {
	seq := s.word(offSeq)
	stop := context.AfterFunc(ctx, func() {
		futexWake(seq, allWaiters)
	})
	defer stop()
	for {
		cur := atomic.LoadUint32(seq)
		if cur != s.lastSeq {
			s.lastSeq = cur
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.Valid() {
			return fmt.Errorf("%w: segment torn down while waiting", ErrInvalidSegment)
		}
		if err := futexWaitFor(seq, cur, waitSlice); err != nil {
			return fmt.Errorf("wait on %s: %w", s.path, err)
		}
	}
}

// Lock acquires the cross-process mutex guarding the frame fields.
func (s *Segment) Lock() {
	futexLock(s.word(offLock))
}

// Unlock releases the cross-process mutex.
func (s *Segment) Unlock() {
	futexUnlock(s.word(offLock))
}

// CopyFrame copies the current frame into dst under the segment lock and
// returns the payload length together with the producer's frame
// timestamp. ok is false when the producer left the timestamp unset.
// Frames longer than dst are truncated to len(dst).
func (s *Segment) CopyFrame(dst []byte) (n int, ts time.Time, ok bool) {
	s.Lock()
	n = int(binary.LittleEndian.Uint32(s.data[offLength:]))
	if n > s.Capacity() {
		n = s.Capacity()
	}
	if n > len(dst) {
		n = len(dst)
	}
	copy(dst, s.data[headerSize:headerSize+n])
	sec := int64(binary.LittleEndian.Uint64(s.data[offTSSec:]))
	usec := int64(binary.LittleEndian.Uint64(s.data[offTSMicro:]))
	s.Unlock()
	if sec == 0 && usec == 0 {
		return n, time.Time{}, false
	}
	return n, time.Unix(sec, usec*1000), true
}

// SetFrame stores a frame and its timestamp under the segment lock.
// This is the producer half of CopyFrame; call Notify afterwards to
// wake consumers. Frames longer than the capacity are rejected.
func (s *Segment) SetFrame(frame []byte, ts time.Time) error {
	if len(frame) > s.Capacity() {
		return fmt.Errorf("frame of %d bytes exceeds capacity %d", len(frame), s.Capacity())
	}
	var sec, usec int64
	if !ts.IsZero() {
		sec = ts.Unix()
		usec = int64(ts.Nanosecond() / 1000)
	}
	s.Lock()
	copy(s.data[headerSize:], frame)
	binary.LittleEndian.PutUint64(s.data[offTSSec:], uint64(sec))
	binary.LittleEndian.PutUint64(s.data[offTSMicro:], uint64(usec))
	binary.LittleEndian.PutUint32(s.data[offLength:], uint32(len(frame)))
	s.Unlock()
	return nil
}

// Notify bumps the notify counter and wakes every waiting consumer.
func (s *Segment) Notify() {
	atomic.AddUint32(s.word(offSeq), 1)
	futexWake(s.word(offSeq), allWaiters)
}

// Close unmaps the segment. The owning side additionally clears the
// header, wakes all waiters so they observe the teardown, and unlinks
// the backing file.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	if s.owner {
		atomic.StoreUint32(s.word(offMagic), 0)
		futexWake(s.word(offSeq), allWaiters)
	}
	err := s.unmap()
	if s.owner {
		if uerr := unix.Unlink(s.path); uerr != nil && err == nil {
			err = fmt.Errorf("unlink %s: %w", s.path, uerr)
		}
	}
	return err
}

func (s *Segment) unmap() error {
	data := s.data
	s.data = nil
	err := unix.Munmap(data)
	if cerr := unix.Close(s.fd); cerr != nil && err == nil {
		err = cerr
	}
	s.fd = -1
	if err != nil {
		return fmt.Errorf("unmap %s: %w", s.path, err)
	}
	return nil
}

// word returns the 4-byte header field at off as an atomically
// addressable word. The mapping is page-aligned, so any 4-aligned
// offset is safe for atomic access.
func (s *Segment) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[off]))
}

func segmentPath(name string) (string, error) {
	trimmed := strings.TrimPrefix(name, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("invalid segment name %q", name)
	}
	return filepath.Join(shmDir, trimmed), nil
}
