package envelope

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	magic0 = 0x0D
	magic1 = 0xA4

	// headerSize is the record header: two magic bytes plus a 3-byte
	// little-endian body length.
	headerSize = 5

	// maxBodySize is the largest body the 3-byte length can frame.
	maxBodySize = 1<<24 - 1
)

// ErrTooLarge is returned when an envelope body exceeds the 16 MiB the
// record header can describe.
var ErrTooLarge = errors.New("envelope body too large")

// Pack wraps one reading in an envelope carrying its identity and
// timing metadata. The result is fully determined by its arguments;
// Received stays zero because only receivers stamp it.
func Pack(r *ImageReading, sent, sample time.Time, senderStamp uint32) *Envelope {
	return &Envelope{
		DataType:        ImageReadingID,
		SerializedData:  MarshalImageReading(r),
		Sent:            FromTime(sent),
		SampleTimeStamp: FromTime(sample),
		SenderStamp:     senderStamp,
	}
}

// Marshal encodes env as one complete framed record.
func Marshal(env *Envelope) ([]byte, error) {
	body := appendEnvelope(make([]byte, 0, 64+len(env.SerializedData)), env)
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	rec := make([]byte, 0, headerSize+len(body))
	rec = append(rec, magic0, magic1,
		byte(len(body)), byte(len(body)>>8), byte(len(body)>>16))
	return append(rec, body...), nil
}

// MarshalImageReading encodes r for use as an envelope payload.
func MarshalImageReading(r *ImageReading) []byte {
	b := make([]byte, 0, 16+len(r.Data))
	b = protowire.AppendTag(b, fieldFourCC, protowire.BytesType)
	b = protowire.AppendString(b, r.FourCC)
	b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Width))
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Height))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Data)
	return b
}

func appendEnvelope(b []byte, env *Envelope) []byte {
	b = protowire.AppendTag(b, fieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(env.DataType)))
	b = protowire.AppendTag(b, fieldSerializedData, protowire.BytesType)
	b = protowire.AppendBytes(b, env.SerializedData)
	b = appendTimeStamp(b, fieldSent, env.Sent)
	b = appendTimeStamp(b, fieldReceived, env.Received)
	b = appendTimeStamp(b, fieldSampleTimeStamp, env.SampleTimeStamp)
	b = protowire.AppendTag(b, fieldSenderStamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.SenderStamp))
	return b
}

func appendTimeStamp(b []byte, num protowire.Number, ts TimeStamp) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, appendTimeStampFields(nil, ts))
}

func appendTimeStampFields(b []byte, ts TimeStamp) []byte {
	b = protowire.AppendTag(b, fieldSeconds, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(ts.Seconds)))
	b = protowire.AppendTag(b, fieldMicroseconds, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(ts.Microseconds)))
	return b
}
