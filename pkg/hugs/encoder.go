// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import "fmt"

// Encoder encodes HUGS frames for transmission
type Encoder struct {
	withCRC bool
}

// NewEncoder creates a frame encoder. With withCRC false the CRC bytes are
// sent as zero, matching the early revision that did not check them.
func NewEncoder(withCRC bool) *Encoder {
	return &Encoder{withCRC: withCRC}
}

// Encode encodes a Frame to wire format
func (e *Encoder) Encode(f *Frame) ([]byte, error) {
	return e.encode(f.sequence, f.destination, f.command, f.response, f.payload)
}

// EncodeFrame creates a complete wire-formatted frame with CRC.
// Returns the frame bytes ready for transmission.
func EncodeFrame(sequence, destination, command, response uint8, payload []byte) ([]byte, error) {
	e := Encoder{withCRC: true}
	return e.encode(sequence, destination, command, response, payload)
}

func (e *Encoder) encode(sequence, destination, command, response uint8, payload []byte) ([]byte, error) {
	if sequence > MaxNibble {
		return nil, fmt.Errorf("sequence out of range: %d (max %d)", sequence, MaxNibble)
	}
	if destination > MaxNibble {
		return nil, fmt.Errorf("destination out of range: %d (max %d)", destination, MaxNibble)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}

	frame := make([]byte, 0, len(payload)+Overhead)
	frame = append(frame, StartByte, uint8(len(payload)), sequence<<4|destination, command, response)
	frame = append(frame, payload...)

	var crc uint16
	if e.withCRC {
		crc = CalculateCRC(frame)
	}

	// CRC is little-endian
	frame = append(frame, byte(crc&0xFF), byte(crc>>8), EndByte)
	return frame, nil
}

// MustEncodeFrame encodes a Frame with CRC.
// Panics on encoding error (use EncodeFrame for error handling).
func MustEncodeFrame(f *Frame) []byte {
	data, err := EncodeFrame(f.sequence, f.destination, f.command, f.response, f.payload)
	if err != nil {
		panic(fmt.Sprintf("hugs: encode error: %v", err))
	}
	return data
}
