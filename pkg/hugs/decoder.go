// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import (
	"errors"
	"fmt"
)

// Decode errors. They are reported for statistics only; the decoder
// recovers from all of them on its own.
var (
	ErrLengthTooLong = errors.New("invalid length")
	ErrBadTerminator = errors.New("bad terminator")
	ErrCRCMismatch   = errors.New("CRC mismatch")
)

// Decoder implements the HUGS frame decoder state machine.
//
// Bytes are ignored until a start byte arrives. Once a frame is complete
// it is validated; a failed frame is not simply discarded, the buffer is
// slid forward to the next start byte so a real frame that began inside
// a corrupted one is still received.
type Decoder struct {
	state    int
	buffer   [MaxFrameSize]byte
	count    int
	checkCRC bool

	resyncs  uint64
	rejected uint64
}

// NewDecoder creates a new frame decoder with CRC checking enabled
func NewDecoder() *Decoder {
	return &Decoder{
		state:    stateIdle,
		checkCRC: true,
	}
}

// SetCRCCheck enables or disables CRC validation. Disabling it accepts
// frames from the early protocol revision that sent a zero CRC.
func (d *Decoder) SetCRCCheck(enabled bool) {
	d.checkCRC = enabled
}

// CRCCheck reports whether CRC validation is enabled
func (d *Decoder) CRCCheck() bool {
	return d.checkCRC
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.count = 0
}

// Recording reports that a frame is being collected
func (d *Decoder) Recording() bool {
	return d.state == stateRecording
}

// Buffered returns the bytes collected for the current frame
func (d *Decoder) Buffered() []byte {
	return d.buffer[:d.count]
}

// Resyncs returns how often the buffer was realigned on a later start byte
func (d *Decoder) Resyncs() uint64 {
	return d.resyncs
}

// Rejected returns the number of frames that failed validation
func (d *Decoder) Rejected() uint64 {
	return d.rejected
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if no frame is complete yet.
// Returns an error if a buffered frame failed validation; decoding
// continues with the next byte either way.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	if d.state == stateIdle {
		if b != StartByte {
			return nil, nil
		}
		d.state = stateRecording
		d.count = 0
	}

	if d.count >= len(d.buffer) {
		// Unreachable while every frame is checked on completion
		d.Reset()
		return nil, fmt.Errorf("buffer overflow: frame exceeds %d bytes", MaxFrameSize)
	}
	d.buffer[d.count] = b
	d.count++

	return d.process()
}

// process validates whatever the buffer holds, sliding past failed frames
func (d *Decoder) process() (*Frame, error) {
	var err error

	for d.count > 1 {
		length := int(d.buffer[1])
		if length > MaxPayloadSize {
			if err == nil {
				err = fmt.Errorf("%w: %d (max %d)", ErrLengthTooLong, length, MaxPayloadSize)
			}
			d.rejected++
			if !d.slide() {
				return nil, err
			}
			continue
		}

		size := length + Overhead
		if d.count < size {
			if f := d.scanTail(); f != nil {
				return f, nil
			}
			return nil, err
		}

		f, verr := d.validate(d.buffer[:size])
		if verr == nil {
			d.consume(size)
			return f, nil
		}
		if err == nil {
			err = verr
		}
		d.rejected++
		if !d.slide() {
			return nil, err
		}
	}

	return nil, err
}

// validate checks terminator and CRC of one complete frame
func (d *Decoder) validate(buf []byte) (*Frame, error) {
	length := int(buf[1])

	if buf[0] != StartByte {
		return nil, fmt.Errorf("bad start byte 0x%02X", buf[0])
	}
	if end := buf[length+EndOffset]; end != EndByte {
		return nil, fmt.Errorf("%w: got 0x%02X", ErrBadTerminator, end)
	}

	received := uint16(buf[length+HeaderSize]) | uint16(buf[length+HeaderSize+1])<<8
	if d.checkCRC {
		calculated := CalculateCRC(buf[:length+HeaderSize])
		if received != calculated {
			return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, received)
		}
	}

	return frameFromBytes(buf, received), nil
}

// slide drops bytes up to the next start byte after index 0. It returns
// false and goes idle when there is none.
func (d *Decoder) slide() bool {
	for i := 1; i < d.count; i++ {
		if d.buffer[i] == StartByte {
			copy(d.buffer[:], d.buffer[i:d.count])
			d.count -= i
			d.resyncs++
			return true
		}
	}
	d.Reset()
	return false
}

// consume removes an accepted frame. Bytes collected past its end are
// kept when they begin another frame.
func (d *Decoder) consume(size int) {
	for i := size; i < d.count; i++ {
		if d.buffer[i] == StartByte {
			copy(d.buffer[:], d.buffer[i:d.count])
			d.count -= i
			return
		}
	}
	d.Reset()
}

// scanTail accepts a valid frame that ends at the newest byte but started
// inside the frame still being collected. Without it a stray start byte
// announcing a long payload would hold the real frame until more bytes
// arrive.
func (d *Decoder) scanTail() *Frame {
	for i := 1; i+1 < d.count; i++ {
		if d.buffer[i] != StartByte {
			continue
		}
		length := int(d.buffer[i+1])
		if length > MaxPayloadSize || d.count-i != length+Overhead {
			continue
		}
		if f, err := d.validate(d.buffer[i:d.count]); err == nil {
			d.resyncs++
			d.rejected++
			d.Reset()
			return f
		}
	}
	return nil
}
