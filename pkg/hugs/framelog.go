// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Frame log directions
const (
	DirectionRx uint8 = 0
	DirectionTx uint8 = 1
)

// LogRecord is one entry of a CBOR frame log: the raw wire bytes of a frame
// or a rejected byte run, with the time it was seen
type LogRecord struct {
	Time      int64  `cbor:"1,keyasint"` // unix nanoseconds
	Direction uint8  `cbor:"2,keyasint"`
	Raw       []byte `cbor:"3,keyasint"`
	Error     string `cbor:"4,keyasint,omitempty"`
}

// Timestamp returns the record time
func (r LogRecord) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// Frame decodes the record's raw bytes
func (r LogRecord) Frame(checkCRC bool) (*Frame, error) {
	d := NewDecoder()
	d.SetCRCCheck(checkCRC)
	var lastErr error
	for _, b := range r.Raw {
		f, err := d.DecodeByte(b)
		if err != nil {
			lastErr = err
		}
		if f != nil {
			f.timestamp = r.Timestamp()
			return f, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("incomplete frame: %d bytes", len(r.Raw))
}

// FrameLogWriter appends CBOR records to a stream
type FrameLogWriter struct {
	enc *cbor.Encoder
}

// NewFrameLogWriter creates a frame log on w
func NewFrameLogWriter(w io.Writer) *FrameLogWriter {
	return &FrameLogWriter{enc: cbor.NewEncoder(w)}
}

// Write appends one record
func (l *FrameLogWriter) Write(rec LogRecord) error {
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode frame log record: %w", err)
	}
	return nil
}

// WriteFrame appends an encoded frame
func (l *FrameLogWriter) WriteFrame(direction uint8, f *Frame) error {
	raw, err := EncodeFrame(f.sequence, f.destination, f.command, f.response, f.payload)
	if err != nil {
		return err
	}
	return l.Write(LogRecord{Time: f.timestamp.UnixNano(), Direction: direction, Raw: raw})
}

// FrameLogReader reads records written by FrameLogWriter
type FrameLogReader struct {
	dec *cbor.Decoder
}

// NewFrameLogReader creates a reader over r
func NewFrameLogReader(r io.Reader) *FrameLogReader {
	return &FrameLogReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the log
func (l *FrameLogReader) Next() (LogRecord, error) {
	var rec LogRecord
	if err := l.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("failed to decode frame log record: %w", err)
	}
	return rec, nil
}
