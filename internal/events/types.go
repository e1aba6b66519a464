package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeFrameRecorded uint32 = iota + 1
	TypeSessionRecord
	TypeRecordDropped
	TypeWriteError
	TypeSegmentLost
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FrameRecordedEvent is published after a shared-memory frame has been
// written to the recording.
type FrameRecordedEvent struct {
	FrameBytes  int
	RecordBytes int
	SampleTime  time.Time
}

// Type returns the event type identifier for FrameRecordedEvent.
func (e FrameRecordedEvent) Type() uint32 { return TypeFrameRecorded }

// SessionRecordEvent is published after a conference envelope has been
// merged into the recording.
type SessionRecordEvent struct {
	RecordBytes int
	DataType    int32
	SenderStamp uint32
}

// Type returns the event type identifier for SessionRecordEvent.
func (e SessionRecordEvent) Type() uint32 { return TypeSessionRecord }

// RecordDroppedEvent is published when a record is discarded instead of
// written, either by the drop error policy or because it was malformed.
type RecordDroppedEvent struct {
	RecordBytes int
	Reason      string
}

// Type returns the event type identifier for RecordDroppedEvent.
func (e RecordDroppedEvent) Type() uint32 { return TypeRecordDropped }

// WriteErrorEvent is published when the recording file rejects a write.
type WriteErrorEvent struct {
	Path  string
	Error string
}

// Type returns the event type identifier for WriteErrorEvent.
func (e WriteErrorEvent) Type() uint32 { return TypeWriteError }

// SegmentLostEvent is published when the shared-memory segment becomes
// invalid while the recorder is running.
type SegmentLostEvent struct {
	Name string
}

// Type returns the event type identifier for SegmentLostEvent.
func (e SegmentLostEvent) Type() uint32 { return TypeSegmentLost }
