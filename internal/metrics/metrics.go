// Package metrics aggregates recorder events into Prometheus metrics and
// a cheap atomic snapshot for the status API.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chalmers-revere/cloudrec/internal/events"
)

// Collector subscribes to the event bus and keeps recording counters.
// All metrics live on a private registry so the /metrics endpoint only
// exposes recorder state.
type Collector struct {
	registry *prometheus.Registry
	handler  http.Handler

	framesRecorded prometheus.Counter
	frameBytes     prometheus.Counter
	sessionRecords *prometheus.CounterVec
	sessionBytes   prometheus.Counter
	recordsDropped *prometheus.CounterVec
	writeErrors    prometheus.Counter
	segmentLosses  prometheus.Counter
	lastSample     prometheus.Gauge

	// Snapshot backing counters, read by the status API without touching
	// the registry.
	frames       atomic.Uint64
	frameBytesN  atomic.Uint64
	sessRecords  atomic.Uint64
	sessBytesN   atomic.Uint64
	dropped      atomic.Uint64
	writeErrorsN atomic.Uint64
	lastSampleNS atomic.Int64

	started time.Time
	unsubs  []func()
}

// Snapshot is a point-in-time view of the recording counters.
type Snapshot struct {
	FramesRecorded uint64        `json:"frames_recorded"`
	FrameBytes     uint64        `json:"frame_bytes"`
	SessionRecords uint64        `json:"session_records"`
	SessionBytes   uint64        `json:"session_bytes"`
	RecordsDropped uint64        `json:"records_dropped"`
	WriteErrors    uint64        `json:"write_errors"`
	LastSampleTime time.Time     `json:"last_sample_time,omitzero"`
	Uptime         time.Duration `json:"-"`
}

// New creates a collector with all recording metrics registered on a
// private registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		started:  time.Now(),

		framesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Name:      "frames_recorded_total",
			Help:      "Shared-memory frames encoded and appended to the recording.",
		}),
		frameBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Name:      "frame_bytes_total",
			Help:      "Raw point-cloud payload bytes read from shared memory.",
		}),
		sessionRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Subsystem: "session",
			Name:      "records_total",
			Help:      "Conference records merged into the recording, by message type.",
		}, []string{"data_type"}),
		sessionBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Subsystem: "session",
			Name:      "record_bytes_total",
			Help:      "Serialized conference record bytes merged into the recording.",
		}),
		recordsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Name:      "records_dropped_total",
			Help:      "Records discarded instead of written, by reason.",
		}, []string{"reason"}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Name:      "write_errors_total",
			Help:      "Failed writes to the recording file.",
		}),
		segmentLosses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cloudrec",
			Name:      "segment_losses_total",
			Help:      "Times the shared-memory segment disappeared mid-run.",
		}),
		lastSample: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cloudrec",
			Name:      "last_sample_timestamp_seconds",
			Help:      "Sample timestamp of the most recently recorded frame.",
		}),
	}

	return c
}

// Attach subscribes the collector to the bus. Call Detach to stop
// counting.
func (c *Collector) Attach(bus *events.Bus) {
	c.unsubs = append(c.unsubs,
		bus.Subscribe(func(e events.FrameRecordedEvent) {
			c.framesRecorded.Inc()
			c.frameBytes.Add(float64(e.FrameBytes))
			c.frames.Add(1)
			c.frameBytesN.Add(uint64(e.FrameBytes))
			if !e.SampleTime.IsZero() {
				c.lastSample.Set(float64(e.SampleTime.UnixNano()) / 1e9)
				c.lastSampleNS.Store(e.SampleTime.UnixNano())
			}
		}),
		bus.Subscribe(func(e events.SessionRecordEvent) {
			c.sessionRecords.WithLabelValues(strconv.FormatInt(int64(e.DataType), 10)).Inc()
			c.sessionBytes.Add(float64(e.RecordBytes))
			c.sessRecords.Add(1)
			c.sessBytesN.Add(uint64(e.RecordBytes))
		}),
		bus.Subscribe(func(e events.RecordDroppedEvent) {
			c.recordsDropped.WithLabelValues(e.Reason).Inc()
			c.dropped.Add(1)
		}),
		bus.Subscribe(func(e events.WriteErrorEvent) {
			c.writeErrors.Inc()
			c.writeErrorsN.Add(1)
		}),
		bus.Subscribe(func(e events.SegmentLostEvent) {
			c.segmentLosses.Inc()
		}),
	)
}

// Detach removes all bus subscriptions.
func (c *Collector) Detach() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// Handler serves the private registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return c.handler
}

// Registry exposes the private registry for additional collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		FramesRecorded: c.frames.Load(),
		FrameBytes:     c.frameBytesN.Load(),
		SessionRecords: c.sessRecords.Load(),
		SessionBytes:   c.sessBytesN.Load(),
		RecordsDropped: c.dropped.Load(),
		WriteErrors:    c.writeErrorsN.Load(),
		Uptime:         time.Since(c.started),
	}
	if ns := c.lastSampleNS.Load(); ns != 0 {
		s.LastSampleTime = time.Unix(0, ns)
	}
	return s
}
