// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Recorder writes snapshots as a CBOR sequence
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
}

// NewRecorder records to w. Close closes w when it is an io.Closer.
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// CreateRecorder records to a new file at path
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	return NewRecorder(f), nil
}

// Publish implements Publisher
func (r *Recorder) Publish(_ context.Context, s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(s)
}

// Close implements Publisher
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// RecordingReader reads back a recording
type RecordingReader struct {
	dec *cbor.Decoder
}

// NewRecordingReader reads snapshots from r
func NewRecordingReader(r io.Reader) *RecordingReader {
	return &RecordingReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next snapshot, or io.EOF at the end
func (r *RecordingReader) Next() (Snapshot, error) {
	var s Snapshot
	if err := r.dec.Decode(&s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
