// Package capture pumps point-cloud frames from a shared-memory source
// into the recording sink: wait for the producer's notification, copy
// the frame out under the segment lock, wrap it in an envelope record,
// and append it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chalmers-revere/cloudrec/internal/envelope"
	"github.com/chalmers-revere/cloudrec/internal/events"
	"github.com/chalmers-revere/cloudrec/internal/sink"
)

// Source delivers frames to the loop. *shm.Segment implements it; tests
// substitute their own.
type Source interface {
	// Wait blocks until a new frame has been published, the context is
	// cancelled, or the source fails.
	Wait(ctx context.Context) error

	// CopyFrame copies the current frame into dst, returning its length
	// and the producer's timestamp. ok is false when the producer did
	// not stamp the frame.
	CopyFrame(dst []byte) (n int, ts time.Time, ok bool)

	// Capacity returns the largest frame the source can deliver.
	Capacity() int
}

// Config wires a Loop.
type Config struct {
	Source Source
	Sink   *sink.Sink
	Bus    *events.Bus
	Log    *slog.Logger

	// FourCC tags the pixel or point format of every frame, "xyz" for
	// raw point clouds.
	FourCC string
	Width  uint32
	Height uint32

	// SenderStamp distinguishes multiple recorders in one session.
	SenderStamp uint32
}

// Loop converts frames into envelope records until its context ends.
type Loop struct {
	cfg Config
	log *slog.Logger
}

// New validates cfg and returns a ready Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("capture: no frame source")
	}
	if cfg.Sink == nil {
		return nil, errors.New("capture: no sink")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Loop{cfg: cfg, log: log}, nil
}

// Run drives the wait/copy/encode/append cycle. It returns nil on
// cancellation and an error when the source or the sink fails for good.
// At most one frame already in flight is completed after cancellation.
func (l *Loop) Run(ctx context.Context) error {
	buf := make([]byte, l.cfg.Source.Capacity())
	for {
		if err := l.cfg.Source.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("wait for frame: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		n, ts, ok := l.cfg.Source.CopyFrame(buf)
		if n == 0 {
			// A notification without payload carries nothing to record.
			l.log.Debug("Skipping empty frame notification")
			continue
		}
		sample := ts
		if !ok {
			sample = time.Now()
		}

		env := envelope.Pack(&envelope.ImageReading{
			FourCC: l.cfg.FourCC,
			Width:  l.cfg.Width,
			Height: l.cfg.Height,
			Data:   buf[:n],
		}, time.Now(), sample, l.cfg.SenderStamp)
		rec, err := envelope.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode frame of %d bytes: %w", n, err)
		}

		if err := l.cfg.Sink.Append(ctx, rec); err != nil {
			if errors.Is(err, sink.ErrDropped) {
				l.log.Warn("Frame dropped by write error policy", "bytes", n)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("append frame: %w", err)
		}

		if l.cfg.Bus != nil {
			l.cfg.Bus.Publish(events.FrameRecordedEvent{
				FrameBytes:  n,
				RecordBytes: len(rec),
				SampleTime:  sample,
			})
		}
		l.log.Debug("Frame recorded",
			"bytes", n,
			"record_bytes", len(rec),
			"sample", sample.Format(time.RFC3339Nano))
	}
}
