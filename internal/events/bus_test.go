package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan FrameRecordedEvent, 1)

	unsub := bus.Subscribe(func(e FrameRecordedEvent) {
		received <- e
	})
	defer unsub()

	event := FrameRecordedEvent{
		FrameBytes:  921600,
		RecordBytes: 921650,
		SampleTime:  time.Unix(1700000000, 0),
	}
	bus.Publish(event)

	got := <-received
	if got.RecordBytes != event.RecordBytes {
		t.Errorf("Expected record bytes %d, got %d", event.RecordBytes, got.RecordBytes)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SessionRecordEvent, 1)
	received2 := make(chan SessionRecordEvent, 1)

	unsub1 := bus.Subscribe(func(e SessionRecordEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SessionRecordEvent) {
		received2 <- e
	})
	defer unsub2()

	event := SessionRecordEvent{
		RecordBytes: 128,
		DataType:    1055,
		SenderStamp: 2,
	}
	bus.Publish(event)

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan WriteErrorEvent, 1)

	unsub := bus.Subscribe(func(e WriteErrorEvent) {
		received <- e
	})

	bus.Publish(WriteErrorEvent{Path: "a.rec"})
	<-received

	unsub()

	bus.Publish(WriteErrorEvent{Path: "b.rec"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	frameReceived := make(chan bool, 1)
	sessionReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameRecordedEvent) {
		frameReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ SessionRecordEvent) {
		sessionReceived <- true
	})
	defer unsub2()

	// Publish FrameRecordedEvent
	bus.Publish(FrameRecordedEvent{FrameBytes: 1})
	<-frameReceived

	select {
	case <-sessionReceived:
		t.Fatal("Session subscriber should NOT have received FrameRecordedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	// Publish SessionRecordEvent
	bus.Publish(SessionRecordEvent{RecordBytes: 1})
	<-sessionReceived

	select {
	case <-frameReceived:
		t.Fatal("Frame subscriber should NOT have received SessionRecordEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameRecordedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(FrameRecordedEvent{
					FrameBytes: 64,
					SampleTime: time.Now(),
				})
			}
		}()
	}

	wg.Wait()

	// Read all expected events
	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"FrameRecorded", FrameRecordedEvent{FrameBytes: 1}},
		{"SessionRecord", SessionRecordEvent{RecordBytes: 1}},
		{"RecordDropped", RecordDroppedEvent{Reason: "write failed"}},
		{"WriteError", WriteErrorEvent{Path: "out.rec"}},
		{"SegmentLost", SegmentLostEvent{Name: "cloud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case FrameRecordedEvent:
				unsub = bus.Subscribe(func(e FrameRecordedEvent) { received <- e })
			case SessionRecordEvent:
				unsub = bus.Subscribe(func(e SessionRecordEvent) { received <- e })
			case RecordDroppedEvent:
				unsub = bus.Subscribe(func(e RecordDroppedEvent) { received <- e })
			case WriteErrorEvent:
				unsub = bus.Subscribe(func(e WriteErrorEvent) { received <- e })
			case SegmentLostEvent:
				unsub = bus.Subscribe(func(e SegmentLostEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}
