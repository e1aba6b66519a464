package envelope

import (
	"fmt"
	"io"
)

// Reader splits a stream of framed records. It performs no resynchronization:
// the first malformed header poisons the rest of the stream.
type Reader struct {
	r   io.Reader
	buf []byte
}

// NewReader returns a Reader consuming records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the raw bytes of the next record, header included. The
// returned slice is reused by the following call. io.EOF marks a clean end
// of stream; a record cut short mid-way yields io.ErrUnexpectedEOF.
func (d *Reader) Next() ([]byte, error) {
	if cap(d.buf) < headerSize {
		d.buf = make([]byte, headerSize, 4096)
	}
	hdr := d.buf[:headerSize]
	if _, err := io.ReadFull(d.r, hdr); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: partial header", ErrTruncated)
		}
		return nil, err
	}
	if hdr[0] != magic0 || hdr[1] != magic1 {
		return nil, ErrBadMagic
	}
	n := int(hdr[2]) | int(hdr[3])<<8 | int(hdr[4])<<16
	if cap(d.buf) < headerSize+n {
		buf := make([]byte, headerSize+n)
		copy(buf, hdr)
		d.buf = buf
	}
	rec := d.buf[:headerSize+n]
	if _, err := io.ReadFull(d.r, rec[headerSize:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: body short of %d bytes", ErrTruncated, n)
		}
		return nil, err
	}
	return rec, nil
}

// NextEnvelope decodes the next record in the stream.
func (d *Reader) NextEnvelope() (*Envelope, error) {
	rec, err := d.Next()
	if err != nil {
		return nil, err
	}
	return unmarshalBody(rec[headerSize:])
}
