package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is the msgpack encoding of one frame.
type Record struct {
	Seq            uint64    `msgpack:"seq"`
	Index          int       `msgpack:"index"`
	Timestamp      time.Time `msgpack:"ts"`
	IntervalMS     int64     `msgpack:"interval_ms"`
	DeviceSequence uint32    `msgpack:"dev_seq"`
	Width          int       `msgpack:"w"`
	Height         int       `msgpack:"h"`
	PixelFormat    string    `msgpack:"fourcc"`
	TraceID        string    `msgpack:"trace_id"`
	Data           []byte    `msgpack:"data"`
}

// MsgpackSink appends one msgpack Record per frame to a stream.
type MsgpackSink struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
	count  int
}

var _ triggercapture.FrameSink = (*MsgpackSink)(nil)

// NewMsgpackSink encodes to w. If w is an io.Closer it is closed by Close.
func NewMsgpackSink(w io.Writer) *MsgpackSink {
	buf := bufio.NewWriter(w)
	s := &MsgpackSink{buf: buf, enc: msgpack.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Consume encodes f. The frame bytes are copied into the stream before
// returning.
func (s *MsgpackSink) Consume(f triggercapture.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Seq:            f.Seq,
		Index:          f.Index,
		Timestamp:      f.Timestamp,
		IntervalMS:     f.Interval.Milliseconds(),
		DeviceSequence: f.DeviceSequence,
		Width:          f.Width,
		Height:         f.Height,
		PixelFormat:    f.PixelFormat.String(),
		TraceID:        f.TraceID,
		Data:           f.Data,
	}
	if err := s.enc.Encode(&rec); err != nil {
		return fmt.Errorf("sink: encode frame %d: %w", f.Seq, err)
	}
	s.count++
	return nil
}

// Count returns the number of records encoded.
func (s *MsgpackSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes the stream and closes the underlying writer when it can.
func (s *MsgpackSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("sink: flush: %w", err)
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// DecodeRecords reads every record from r.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("sink: decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
