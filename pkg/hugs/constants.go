// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hugs implements the HUGS framed serial protocol spoken by the
// hub motor wheel controllers.
//
// A frame is a start byte, a payload length, a sequence/destination byte,
// a command ID, a response ID, up to nine payload bytes, a little-endian
// CRC-16/CCITT and a newline terminator:
//
//	'/' len seq<<4|dest cmd rsp payload... crcLo crcHi '\n'
//
// This package provides frame encoding and decoding with resynchronization,
// CRC validation, command builders, formatting, validation and statistics.
package hugs

// Protocol framing bytes
const (
	StartByte = '/'
	EndByte   = '\n'
)

// Frame size limits
const (
	MaxPayloadSize = 9
	HeaderSize     = 5 // start, length, address, command, response
	Overhead       = 8 // header + CRC + terminator
	MaxFrameSize   = MaxPayloadSize + Overhead
	EndOffset      = 7 // terminator index is length + EndOffset
	MaxNibble      = 0x0F
)

// CRC-16/CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0x0000
)

// Command IDs (final HUGS revision)
const (
	CmdNOP  = 0x00 // no operation, keep alive
	CmdRSP  = 0x01 // response frame
	CmdRES  = 0x02 // reset odometry
	CmdENA  = 0x03 // enable output
	CmdDIS  = 0x04 // disable output
	CmdPOW  = 0x05 // open loop power, int16
	CmdSPE  = 0x06 // closed loop speed mm/s, int16
	CmdABS  = 0x07 // absolute position, reserved
	CmdREL  = 0x08 // relative position, reserved
	CmdDOG  = 0x09 // watchdog interval ms, uint16
	CmdMOD  = 0x0A // speed mode uint8, stepper threshold uint16
	CmdDSPE = 0x86 // dual speed and turn, steering link only
	CmdXXX  = 0xFF // emergency stop
)

// Response IDs (final HUGS revision)
const (
	RspNOR  = 0x00 // no response
	RspSMOT = 0x01 // speed, position, pwm, status
	RspSPOW = 0x02 // pwm
	RspSSPE = 0x03 // speed mm/s
	RspSPOS = 0x04 // position mm
	RspSVOL = 0x05 // battery mV
	RspSAMP = 0x06 // DC current mA
	RspSDOG = 0x07 // watchdog interval ms
	RspSMOD = 0x08 // speed mode and stepper threshold
	RspSFPI = 0x09 // PIDF feed forward, proportional, integral
	RspSTOP = 0xFF // estop latched
)

// Decoder states
const (
	stateIdle = iota
	stateRecording
)

// commandPayloadSize is the payload length each command carries.
// Commands not listed carry none.
var commandPayloadSize = map[uint8]int{
	CmdPOW:  2,
	CmdSPE:  2,
	CmdABS:  4,
	CmdREL:  4,
	CmdDOG:  2,
	CmdMOD:  3,
	CmdDSPE: 4,
}

// responsePayloadSize is the payload length of each reply shape
var responsePayloadSize = map[uint8]int{
	RspNOR:  0,
	RspSMOT: 9,
	RspSPOW: 2,
	RspSSPE: 2,
	RspSPOS: 4,
	RspSVOL: 2,
	RspSAMP: 2,
	RspSDOG: 2,
	RspSMOD: 3,
	RspSFPI: 6,
	RspSTOP: 0,
}

// CommandPayloadSize returns the payload length carried by cmd
func CommandPayloadSize(cmd uint8) int {
	return commandPayloadSize[cmd]
}

// ResponsePayloadSize returns the payload length of a reply, or -1 for an
// unknown response ID
func ResponsePayloadSize(rsp uint8) int {
	n, ok := responsePayloadSize[rsp]
	if !ok {
		return -1
	}
	return n
}

// Motor status bits carried in the SMOT reply
const (
	StatusEnabled     = 1 << 0
	StatusOutput      = 1 << 1
	StatusClosedLoop  = 1 << 2
	StatusStepper     = 1 << 3
	StatusTimedOut    = 1 << 4
	StatusOvercurrent = 1 << 5
	StatusHallFault   = 1 << 6
	StatusEstop       = 1 << 7
)

// Command value limits
const (
	MaxSpeed = 5000 // mm/s
	MaxPower = 1000
)
