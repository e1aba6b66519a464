// Package envelope encodes and decodes OD4 envelope records, the framing
// used both in .rec recording files and in conference datagrams.
//
// Each record is self-describing and carries its own length, so a stream
// of records can be split without an external index:
//
//	+------+------+-----------------+------------------------+
//	| 0x0D | 0xA4 | length (3B LE)  | envelope body (proto)  |
//	+------+------+-----------------+------------------------+
//
// The body is a protobuf message with cluon field semantics: signed
// integer fields use zigzag varints, unsigned fields plain varints, and
// every field is emitted even when it holds its zero value.
package envelope

import "time"

// Message identifiers from the OpenDLV standard message set.
const (
	// ImageReadingID identifies opendlv.proxy.ImageReading.
	ImageReadingID int32 = 1055
)

// TimeStamp is a wall-clock instant split into seconds and microseconds,
// matching cluon.data.TimeStamp.
type TimeStamp struct {
	Seconds      int32
	Microseconds int32
}

// FromTime converts t to a TimeStamp, truncating to microseconds.
func FromTime(t time.Time) TimeStamp {
	return TimeStamp{
		Seconds:      int32(t.Unix()),
		Microseconds: int32(t.Nanosecond() / 1000),
	}
}

// Time converts ts back to a time.Time in the local zone.
func (ts TimeStamp) Time() time.Time {
	return time.Unix(int64(ts.Seconds), int64(ts.Microseconds)*1000)
}

// IsZero reports whether ts is the zero instant.
func (ts TimeStamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Microseconds == 0
}

// Envelope wraps one serialized message together with its routing and
// timing metadata, matching cluon.data.Envelope.
type Envelope struct {
	DataType        int32
	SerializedData  []byte
	Sent            TimeStamp
	Received        TimeStamp
	SampleTimeStamp TimeStamp
	SenderStamp     uint32
}

// ImageReading is opendlv.proxy.ImageReading: one raw frame plus the
// metadata needed to interpret it.
type ImageReading struct {
	FourCC string
	Width  uint32
	Height uint32
	Data   []byte
}

// Envelope body field numbers.
const (
	fieldDataType        = 1
	fieldSerializedData  = 2
	fieldSent            = 3
	fieldReceived        = 4
	fieldSampleTimeStamp = 5
	fieldSenderStamp     = 6
)

// TimeStamp field numbers.
const (
	fieldSeconds      = 1
	fieldMicroseconds = 2
)

// ImageReading field numbers.
const (
	fieldFourCC = 1
	fieldWidth  = 2
	fieldHeight = 3
	fieldData   = 4
)
