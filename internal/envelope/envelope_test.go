package envelope

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// goldenRecord is a full framed record computed by hand from the wire
// layout: ImageReading{"xyz", 1, 1, [0xAB]} wrapped with dataType 1055,
// sent {1,2}, received {0,0}, sampleTimeStamp {3,4}, senderStamp 7.
const goldenRecord = "0da4250000" +
	"08be10" +
	"120c0a0378797a100118012201ab" +
	"1a0408021004" +
	"220408001000" +
	"2a0408061008" +
	"3007"

func goldenEnvelope() *Envelope {
	return &Envelope{
		DataType: ImageReadingID,
		SerializedData: MarshalImageReading(&ImageReading{
			FourCC: "xyz",
			Width:  1,
			Height: 1,
			Data:   []byte{0xAB},
		}),
		Sent:            TimeStamp{Seconds: 1, Microseconds: 2},
		SampleTimeStamp: TimeStamp{Seconds: 3, Microseconds: 4},
		SenderStamp:     7,
	}
}

func TestMarshalGolden(t *testing.T) {
	want, err := hex.DecodeString(goldenRecord)
	if err != nil {
		t.Fatalf("bad golden constant: %v", err)
	}
	got, err := Marshal(goldenEnvelope())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal mismatch\n got %x\nwant %x", got, want)
	}
}

func TestPack(t *testing.T) {
	env := Pack(&ImageReading{
		FourCC: "xyz",
		Width:  1,
		Height: 1,
		Data:   []byte{0xAB},
	}, time.Unix(1, 2000), time.Unix(3, 4000), 7)
	if !env.Received.IsZero() {
		t.Errorf("Received = %+v, want zero", env.Received)
	}
	got, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want, _ := hex.DecodeString(goldenRecord)
	if !bytes.Equal(got, want) {
		t.Errorf("Pack produced\n %x\nwant %x", got, want)
	}
}

func TestUnmarshalGolden(t *testing.T) {
	rec, _ := hex.DecodeString(goldenRecord)
	env, err := Unmarshal(rec)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := goldenEnvelope()
	if env.DataType != want.DataType {
		t.Errorf("DataType = %d, want %d", env.DataType, want.DataType)
	}
	if !bytes.Equal(env.SerializedData, want.SerializedData) {
		t.Errorf("SerializedData = %x, want %x", env.SerializedData, want.SerializedData)
	}
	if env.Sent != want.Sent || env.Received != want.Received || env.SampleTimeStamp != want.SampleTimeStamp {
		t.Errorf("timestamps = %+v/%+v/%+v, want %+v/%+v/%+v",
			env.Sent, env.Received, env.SampleTimeStamp,
			want.Sent, want.Received, want.SampleTimeStamp)
	}
	if env.SenderStamp != want.SenderStamp {
		t.Errorf("SenderStamp = %d, want %d", env.SenderStamp, want.SenderStamp)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{
			name: "typical frame",
			env: Envelope{
				DataType:        ImageReadingID,
				SerializedData:  bytes.Repeat([]byte{0x5A}, 1024),
				Sent:            TimeStamp{Seconds: 1700000000, Microseconds: 999999},
				SampleTimeStamp: TimeStamp{Seconds: 1699999999, Microseconds: 1},
				SenderStamp:     42,
			},
		},
		{
			name: "zero values",
			env:  Envelope{},
		},
		{
			name: "negative timestamps",
			env: Envelope{
				DataType:       -13,
				SerializedData: []byte("x"),
				Sent:           TimeStamp{Seconds: -1, Microseconds: -1},
				Received:       TimeStamp{Seconds: -2147483648, Microseconds: 2147483647},
			},
		},
		{
			name: "max sender stamp",
			env: Envelope{
				DataType:    ImageReadingID,
				SenderStamp: 4294967295,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Marshal(&tt.env)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := Unmarshal(rec)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got.DataType != tt.env.DataType ||
				got.SenderStamp != tt.env.SenderStamp ||
				got.Sent != tt.env.Sent ||
				got.Received != tt.env.Received ||
				got.SampleTimeStamp != tt.env.SampleTimeStamp {
				t.Errorf("round trip changed fields: got %+v, want %+v", got, tt.env)
			}
			if !bytes.Equal(got.SerializedData, tt.env.SerializedData) {
				t.Errorf("round trip changed payload: %d bytes vs %d",
					len(got.SerializedData), len(tt.env.SerializedData))
			}
		})
	}
}

func TestImageReadingRoundTrip(t *testing.T) {
	in := &ImageReading{
		FourCC: "xyz",
		Width:  640,
		Height: 480,
		Data:   bytes.Repeat([]byte{1, 2, 3, 4}, 300),
	}
	out, err := UnmarshalImageReading(MarshalImageReading(in))
	if err != nil {
		t.Fatalf("UnmarshalImageReading: %v", err)
	}
	if out.FourCC != in.FourCC || out.Width != in.Width || out.Height != in.Height {
		t.Errorf("metadata changed: got %q %dx%d", out.FourCC, out.Width, out.Height)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("payload changed: %d bytes vs %d", len(out.Data), len(in.Data))
	}
}

func TestTimeStampConversion(t *testing.T) {
	at := time.Unix(1700000000, 123456789)
	ts := FromTime(at)
	if ts.Seconds != 1700000000 || ts.Microseconds != 123456 {
		t.Errorf("FromTime = %+v", ts)
	}
	back := ts.Time()
	if back.Unix() != 1700000000 || back.Nanosecond() != 123456000 {
		t.Errorf("Time() = %v", back)
	}
	if !(TimeStamp{}).IsZero() || ts.IsZero() {
		t.Error("IsZero misreports")
	}
}

func TestReaderSplitsStream(t *testing.T) {
	var stream bytes.Buffer
	var want [][]byte
	for i := 0; i < 5; i++ {
		env := goldenEnvelope()
		env.SenderStamp = uint32(i)
		env.SerializedData = bytes.Repeat([]byte{byte(i)}, i*100)
		rec, err := Marshal(env)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		stream.Write(rec)
		want = append(want, rec)
	}

	r := NewReader(&stream)
	for i := range want {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if !bytes.Equal(rec, want[i]) {
			t.Errorf("record %d differs from what was written", i)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("after last record: err = %v, want io.EOF", err)
	}
}

func TestReaderTruncated(t *testing.T) {
	rec, _ := hex.DecodeString(goldenRecord)
	tests := []struct {
		name string
		cut  int
	}{
		{"mid header", 3},
		{"header only", 5},
		{"mid body", len(rec) - 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(rec[:tt.cut]))
			_, err := r.Next()
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("err = %v, want ErrTruncated", err)
			}
		})
	}

	t.Run("empty stream", func(t *testing.T) {
		r := NewReader(strings.NewReader(""))
		if _, err := r.Next(); err != io.EOF {
			t.Errorf("err = %v, want io.EOF", err)
		}
	})
}

func TestReaderBadMagic(t *testing.T) {
	r := NewReader(strings.NewReader("not a record at all"))
	if _, err := r.Next(); !errors.Is(err, ErrBadMagic) {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestUnmarshalRejectsTrailing(t *testing.T) {
	rec, _ := hex.DecodeString(goldenRecord)
	if _, err := Unmarshal(append(rec, 0x00)); err == nil {
		t.Error("trailing byte accepted")
	}
}

func TestMarshalTooLarge(t *testing.T) {
	env := &Envelope{
		DataType:       ImageReadingID,
		SerializedData: make([]byte, 1<<24),
	}
	if _, err := Marshal(env); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}
