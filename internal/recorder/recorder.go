// Package recorder assembles a complete recording run: attach to the
// producer's shared memory segment, open the recording file, and drive
// the capture, session, and API workers until the context ends.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chalmers-revere/cloudrec/internal/api"
	"github.com/chalmers-revere/cloudrec/internal/api/models"
	"github.com/chalmers-revere/cloudrec/internal/capture"
	"github.com/chalmers-revere/cloudrec/internal/config"
	"github.com/chalmers-revere/cloudrec/internal/events"
	"github.com/chalmers-revere/cloudrec/internal/logging"
	"github.com/chalmers-revere/cloudrec/internal/metrics"
	"github.com/chalmers-revere/cloudrec/internal/process"
	"github.com/chalmers-revere/cloudrec/internal/session"
	"github.com/chalmers-revere/cloudrec/internal/sink"
	"github.com/chalmers-revere/cloudrec/pkg/shm"
)

// pointCloudFourCC tags every recorded frame as a raw xyz point cloud.
const pointCloudFourCC = "xyz"

// States reported through /api/status.
const (
	StateAttaching = "attaching"
	StateRecording = "recording"
	StateFinished  = "finished"
)

// Recorder owns one recording run. It doubles as the status source for
// the API server.
type Recorder struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	state   string
	segment string
	path    string
}

// New creates a Recorder for opts. Call Run to execute the recording.
func New(opts Options) *Recorder {
	return &Recorder{
		opts:    opts,
		log:     logging.GetLogger("recorder"),
		metrics: metrics.New(),
		state:   StateAttaching,
	}
}

// RecordingName derives the output file name: an explicit name gets the
// suffix appended verbatim, otherwise the name is the local wall-clock
// timestamp plus suffix plus ".rec".
func RecordingName(rec, suffix string, now time.Time) string {
	if rec != "" {
		return rec + suffix
	}
	return now.Format("2006-01-02_150405") + suffix + ".rec"
}

// Run records until ctx is cancelled or a worker fails. The shared
// memory segment is attached before the recording file is created, so a
// missing producer never leaves a file behind.
func (r *Recorder) Run(ctx context.Context) error {
	o := r.opts

	if o.Name == "" {
		return errors.New("shared memory name required")
	}
	if o.Width == 0 || o.Height == 0 {
		return fmt.Errorf("width and height must be positive, got %dx%d", o.Width, o.Height)
	}
	policy := sink.AbortOnError
	if o.OnWriteError != "" {
		p, err := sink.ParseErrorPolicy(o.OnWriteError)
		if err != nil {
			return err
		}
		policy = p
	}
	var attachTimeout time.Duration
	if o.AttachTimeout != "" {
		d, err := time.ParseDuration(o.AttachTimeout)
		if err != nil {
			return fmt.Errorf("parse attach timeout: %w", err)
		}
		attachTimeout = d
	}
	if o.CID > 254 {
		return fmt.Errorf("%w, got %d", session.ErrBadCID, o.CID)
	}

	seg, err := shm.WaitAttach(ctx, o.Name, attachTimeout)
	if err != nil {
		return err
	}
	defer seg.Close()

	path := RecordingName(o.Rec, o.RecSuffix, time.Now())

	bus := events.New()
	r.metrics.Attach(bus)
	defer r.metrics.Detach()

	sinkOpts := []sink.Option{sink.WithErrorPolicy(policy), sink.WithBus(bus)}
	if o.Fsync {
		sinkOpts = append(sinkOpts, sink.WithSync())
	}
	snk, err := sink.Open(path, sinkOpts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.state = StateRecording
	r.segment = seg.Name()
	r.path = path
	r.mu.Unlock()

	r.log.Info("Attached to shared memory",
		"segment", seg.Name(),
		"segment_bytes", seg.Capacity(),
		"recording", path,
		"sender_id", o.ID)

	loop, err := capture.New(capture.Config{
		Source:      seg,
		Sink:        snk,
		Bus:         bus,
		Log:         logging.GetLogger("capture"),
		FourCC:      pointCloudFourCC,
		Width:       o.Width,
		Height:      o.Height,
		SenderStamp: o.ID,
	})
	if err != nil {
		_ = snk.Close()
		return err
	}

	group := process.NewGroup(ctx, r.log)
	group.Go("capture", loop.Run)

	var sub *session.Subscriber
	if o.CID != 0 {
		sub, err = session.New(o.CID, snk, bus, logging.GetLogger("session"))
		if err != nil {
			_ = snk.Close()
			return err
		}
		group.Go("session", func(ctx context.Context) error {
			if err := sub.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			sub.Stop()
			return nil
		})
	}

	if o.HTTP != "" {
		srv := api.NewServer(&api.Options{
			Status:            r,
			PrometheusHandler: r.metrics.Handler(),
		})
		group.Go("api", func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(o.HTTP) }()
			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				_ = srv.Stop()
				<-errCh
				return nil
			}
		})
	}

	if o.Config != "" {
		loader := func(path string) (logging.Config, error) {
			return config.LoadLoggingConfig(path), nil
		}
		watcher := config.NewConfigWatcher(o.Config, loader, r.log)
		watcher.OnReload(func(cfg logging.Config) {
			logging.Initialize(cfg)
			r.log.Info("Logging configuration reloaded")
		})
		if err := watcher.Start(); err != nil {
			r.log.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	err = group.Wait()
	if errors.Is(err, shm.ErrInvalidSegment) {
		bus.Publish(events.SegmentLostEvent{Name: seg.Name()})
	}

	if cerr := snk.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close recording: %w", cerr)
	}

	r.mu.Lock()
	r.state = StateFinished
	r.mu.Unlock()

	stats := snk.Stats()
	attrs := []any{
		"recording", path,
		"records", stats.Records,
		"bytes", stats.Bytes,
	}
	if stats.Dropped > 0 {
		attrs = append(attrs, "dropped", stats.Dropped)
	}
	if sub != nil {
		s := sub.Stats()
		attrs = append(attrs, "session_datagrams", s.Datagrams, "session_records", s.Records)
		if s.Malformed > 0 {
			attrs = append(attrs, "session_malformed", s.Malformed)
		}
	}
	r.log.Info("Recording finished", attrs...)

	return err
}

// RecordingStatus implements api.StatusSource.
func (r *Recorder) RecordingStatus() models.StatusData {
	r.mu.Lock()
	state, segment, path := r.state, r.segment, r.path
	r.mu.Unlock()

	snap := r.metrics.Snapshot()
	return models.StatusData{
		State:          state,
		Segment:        segment,
		RecordingPath:  path,
		SenderID:       r.opts.ID,
		CID:            r.opts.CID,
		FramesRecorded: snap.FramesRecorded,
		FrameBytes:     snap.FrameBytes,
		SessionRecords: snap.SessionRecords,
		SessionBytes:   snap.SessionBytes,
		RecordsDropped: snap.RecordsDropped,
		WriteErrors:    snap.WriteErrors,
		LastSampleAt:   snap.LastSampleTime,
		UptimeSeconds:  snap.Uptime.Seconds(),
	}
}
