package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chalmers-revere/cloudrec/internal/events"
)

// waitFor polls cond until it holds or the deadline passes. Bus delivery
// is asynchronous, so tests cannot assert immediately after Publish.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestCollectorCountsFrames(t *testing.T) {
	bus := events.New()
	c := New()
	c.Attach(bus)
	defer c.Detach()

	sample := time.Unix(1700000000, 250000000)
	for range 3 {
		bus.Publish(events.FrameRecordedEvent{
			FrameBytes:  100,
			RecordBytes: 137,
			SampleTime:  sample,
		})
	}

	waitFor(t, func() bool { return c.Snapshot().FramesRecorded == 3 })

	snap := c.Snapshot()
	if snap.FrameBytes != 300 {
		t.Errorf("FrameBytes = %d, want 300", snap.FrameBytes)
	}
	if !snap.LastSampleTime.Equal(sample) {
		t.Errorf("LastSampleTime = %v, want %v", snap.LastSampleTime, sample)
	}
	if got := testutil.ToFloat64(c.framesRecorded); got != 3 {
		t.Errorf("frames_recorded_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.frameBytes); got != 300 {
		t.Errorf("frame_bytes_total = %v, want 300", got)
	}
}

func TestCollectorSessionRecordsByType(t *testing.T) {
	bus := events.New()
	c := New()
	c.Attach(bus)
	defer c.Detach()

	bus.Publish(events.SessionRecordEvent{RecordBytes: 50, DataType: 1055, SenderStamp: 1})
	bus.Publish(events.SessionRecordEvent{RecordBytes: 60, DataType: 1055, SenderStamp: 2})
	bus.Publish(events.SessionRecordEvent{RecordBytes: 40, DataType: 19})

	waitFor(t, func() bool { return c.Snapshot().SessionRecords == 3 })

	snap := c.Snapshot()
	if snap.SessionBytes != 150 {
		t.Errorf("SessionBytes = %d, want 150", snap.SessionBytes)
	}
	if got := testutil.ToFloat64(c.sessionRecords.WithLabelValues("1055")); got != 2 {
		t.Errorf("session records for type 1055 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.sessionRecords.WithLabelValues("19")); got != 1 {
		t.Errorf("session records for type 19 = %v, want 1", got)
	}
}

func TestCollectorDropsAndErrors(t *testing.T) {
	bus := events.New()
	c := New()
	c.Attach(bus)
	defer c.Detach()

	bus.Publish(events.RecordDroppedEvent{RecordBytes: 64, Reason: "write_error"})
	bus.Publish(events.RecordDroppedEvent{RecordBytes: 32, Reason: "malformed"})
	bus.Publish(events.WriteErrorEvent{Path: "out.rec", Error: "disk full"})
	bus.Publish(events.SegmentLostEvent{Name: "video0.xyz"})

	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.RecordsDropped == 2 && snap.WriteErrors == 1
	})

	if got := testutil.ToFloat64(c.recordsDropped.WithLabelValues("write_error")); got != 1 {
		t.Errorf("dropped(write_error) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.recordsDropped.WithLabelValues("malformed")); got != 1 {
		t.Errorf("dropped(malformed) = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.segmentLosses); got != 1 {
		t.Errorf("segment_losses_total = %v, want 1", got)
	}
}

func TestDetachStopsCounting(t *testing.T) {
	bus := events.New()
	c := New()
	c.Attach(bus)

	bus.Publish(events.FrameRecordedEvent{FrameBytes: 10})
	waitFor(t, func() bool { return c.Snapshot().FramesRecorded == 1 })

	c.Detach()

	bus.Publish(events.FrameRecordedEvent{FrameBytes: 10})
	time.Sleep(100 * time.Millisecond)

	if got := c.Snapshot().FramesRecorded; got != 1 {
		t.Errorf("FramesRecorded after Detach = %d, want 1", got)
	}
}

func TestHandlerServesPrometheusText(t *testing.T) {
	bus := events.New()
	c := New()
	c.Attach(bus)
	defer c.Detach()

	bus.Publish(events.FrameRecordedEvent{FrameBytes: 512, SampleTime: time.Now()})
	waitFor(t, func() bool { return c.Snapshot().FramesRecorded == 1 })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"cloudrec_frames_recorded_total 1",
		"cloudrec_frame_bytes_total 512",
		"cloudrec_last_sample_timestamp_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSnapshotUptimeAdvances(t *testing.T) {
	c := New()
	first := c.Snapshot().Uptime
	time.Sleep(10 * time.Millisecond)
	second := c.Snapshot().Uptime
	if second <= first {
		t.Errorf("uptime did not advance: %v then %v", first, second)
	}
}
