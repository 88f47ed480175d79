// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import (
	"encoding/binary"
	"time"
)

// Frame represents a decoded or outgoing HUGS frame
type Frame struct {
	sequence    uint8
	destination uint8
	command     uint8
	response    uint8
	payload     []byte
	crc         uint16
	timestamp   time.Time
}

// NewFrame creates a frame from its fields. The CRC is filled in on encode.
func NewFrame(sequence, destination, command, response uint8, payload []byte) *Frame {
	return &Frame{
		sequence:    sequence & MaxNibble,
		destination: destination & MaxNibble,
		command:     command,
		response:    response,
		payload:     payload,
		timestamp:   time.Now(),
	}
}

// frameFromBytes copies a validated wire frame
func frameFromBytes(buf []byte, crc uint16) *Frame {
	length := int(buf[1])
	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:HeaderSize+length])
	return &Frame{
		sequence:    buf[2] >> 4,
		destination: buf[2] & MaxNibble,
		command:     buf[3],
		response:    buf[4],
		payload:     payload,
		crc:         crc,
		timestamp:   time.Now(),
	}
}

// Length returns the payload length
func (f *Frame) Length() uint8 {
	return uint8(len(f.payload))
}

// Sequence returns the 4-bit sequence number
func (f *Frame) Sequence() uint8 {
	return f.sequence
}

// Destination returns the 4-bit destination address
func (f *Frame) Destination() uint8 {
	return f.destination
}

// Address returns the combined sequence/destination byte
func (f *Frame) Address() uint8 {
	return f.sequence<<4 | f.destination
}

// Command returns the command ID
func (f *Frame) Command() uint8 {
	return f.command
}

// Response returns the response ID
func (f *Frame) Response() uint8 {
	return f.response
}

// Payload returns the raw payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// CRC returns the received CRC, or 0 for frames not decoded from the wire
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode or creation time
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsReply reports a response frame sent by a wheel
func (f *Frame) IsReply() bool {
	return f.command == CmdRSP
}

// WantsReply reports that the sender asked for a response
func (f *Frame) WantsReply() bool {
	return f.response != RspNOR
}

// PayloadUint8 returns the payload byte at offset
func (f *Frame) PayloadUint8(offset int) (uint8, bool) {
	if offset < 0 || offset+1 > len(f.payload) {
		return 0, false
	}
	return f.payload[offset], true
}

// PayloadUint16 returns a little-endian uint16 at offset
func (f *Frame) PayloadUint16(offset int) (uint16, bool) {
	if offset < 0 || offset+2 > len(f.payload) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(f.payload[offset:]), true
}

// PayloadInt16 returns a little-endian int16 at offset
func (f *Frame) PayloadInt16(offset int) (int16, bool) {
	v, ok := f.PayloadUint16(offset)
	return int16(v), ok
}

// PayloadInt32 returns a little-endian int32 at offset
func (f *Frame) PayloadInt32(offset int) (int32, bool) {
	if offset < 0 || offset+4 > len(f.payload) {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(f.payload[offset:])), true
}

// AppendInt16 appends v little-endian
func AppendInt16(b []byte, v int16) []byte {
	return binary.LittleEndian.AppendUint16(b, uint16(v))
}

// AppendUint16 appends v little-endian
func AppendUint16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

// AppendInt32 appends v little-endian
func AppendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}
