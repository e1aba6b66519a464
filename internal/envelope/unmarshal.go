package envelope

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrBadMagic is returned when a record does not start with the
	// expected magic bytes.
	ErrBadMagic = errors.New("bad record magic")

	// ErrTruncated is returned when a record ends before its declared
	// length.
	ErrTruncated = errors.New("truncated record")
)

// Unmarshal decodes exactly one framed record. Trailing bytes after the
// record are an error; use Reader to walk a stream of records.
func Unmarshal(rec []byte) (*Envelope, error) {
	body, rest, err := split(rec)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after record", len(rest))
	}
	return unmarshalBody(body)
}

// UnmarshalImageReading decodes an opendlv.proxy.ImageReading payload.
func UnmarshalImageReading(data []byte) (*ImageReading, error) {
	var r ImageReading
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldFourCC && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			r.FourCC = v
			b = b[n:]
		case num == fieldWidth && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			r.Width = uint32(v)
			b = b[n:]
		case num == fieldHeight && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			r.Height = uint32(v)
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			r.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return &r, nil
}

// split separates the first framed record in b into its body and the
// remaining bytes.
func split(b []byte) (body, rest []byte, err error) {
	if len(b) < headerSize {
		return nil, nil, ErrTruncated
	}
	if b[0] != magic0 || b[1] != magic1 {
		return nil, nil, ErrBadMagic
	}
	n := int(b[2]) | int(b[3])<<8 | int(b[4])<<16
	if len(b) < headerSize+n {
		return nil, nil, ErrTruncated
	}
	return b[headerSize : headerSize+n], b[headerSize+n:], nil
}

func unmarshalBody(b []byte) (*Envelope, error) {
	var env Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.DataType = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		case num == fieldSerializedData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.SerializedData = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldSent && typ == protowire.BytesType:
			ts, n, err := consumeTimeStamp(b)
			if err != nil {
				return nil, err
			}
			env.Sent = ts
			b = b[n:]
		case num == fieldReceived && typ == protowire.BytesType:
			ts, n, err := consumeTimeStamp(b)
			if err != nil {
				return nil, err
			}
			env.Received = ts
			b = b[n:]
		case num == fieldSampleTimeStamp && typ == protowire.BytesType:
			ts, n, err := consumeTimeStamp(b)
			if err != nil {
				return nil, err
			}
			env.SampleTimeStamp = ts
			b = b[n:]
		case num == fieldSenderStamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.SenderStamp = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return &env, nil
}

func consumeTimeStamp(b []byte) (TimeStamp, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return TimeStamp{}, 0, protowire.ParseError(n)
	}
	var ts TimeStamp
	for len(v) > 0 {
		num, typ, m := protowire.ConsumeTag(v)
		if m < 0 {
			return TimeStamp{}, 0, protowire.ParseError(m)
		}
		v = v[m:]
		switch {
		case num == fieldSeconds && typ == protowire.VarintType:
			x, m := protowire.ConsumeVarint(v)
			if m < 0 {
				return TimeStamp{}, 0, protowire.ParseError(m)
			}
			ts.Seconds = int32(protowire.DecodeZigZag(x))
			v = v[m:]
		case num == fieldMicroseconds && typ == protowire.VarintType:
			x, m := protowire.ConsumeVarint(v)
			if m < 0 {
				return TimeStamp{}, 0, protowire.ParseError(m)
			}
			ts.Microseconds = int32(protowire.DecodeZigZag(x))
			v = v[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, v)
			if m < 0 {
				return TimeStamp{}, 0, protowire.ParseError(m)
			}
			v = v[m:]
		}
	}
	return ts, n, nil
}
