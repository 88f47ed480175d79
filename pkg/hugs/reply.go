// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import "fmt"

// Reply holds the telemetry a wheel can report. Only the fields selected
// by Response travel on the wire.
type Reply struct {
	Response uint8

	Speed    int16 // mm/s
	Position int32 // mm
	PWM      int16
	Status   uint8 // Status* bits

	BatteryMV  uint16
	CurrentMA  uint16
	WatchdogMS uint16

	SpeedMode        uint8
	StepperThreshold uint16

	FeedForward  int16
	Proportional int16
	Integral     int16
}

// AppendPayload appends the little-endian payload for r.Response
func (r Reply) AppendPayload(b []byte) []byte {
	switch r.Response {
	case RspSMOT:
		b = AppendInt16(b, r.Speed)
		b = AppendInt32(b, r.Position)
		b = AppendInt16(b, r.PWM)
		b = append(b, r.Status)
	case RspSPOW:
		b = AppendInt16(b, r.PWM)
	case RspSSPE:
		b = AppendInt16(b, r.Speed)
	case RspSPOS:
		b = AppendInt32(b, r.Position)
	case RspSVOL:
		b = AppendUint16(b, r.BatteryMV)
	case RspSAMP:
		b = AppendUint16(b, r.CurrentMA)
	case RspSDOG:
		b = AppendUint16(b, r.WatchdogMS)
	case RspSMOD:
		b = append(b, r.SpeedMode)
		b = AppendUint16(b, r.StepperThreshold)
	case RspSFPI:
		b = AppendInt16(b, r.FeedForward)
		b = AppendInt16(b, r.Proportional)
		b = AppendInt16(b, r.Integral)
	}
	return b
}

// ParseReply decodes the payload of a RSP frame
func ParseReply(f *Frame) (Reply, error) {
	r := Reply{Response: f.response}
	if f.command != CmdRSP {
		return r, fmt.Errorf("not a reply frame: command 0x%02X", f.command)
	}

	expected := ResponsePayloadSize(f.response)
	if expected < 0 {
		return r, fmt.Errorf("unknown response ID 0x%02X", f.response)
	}
	if len(f.payload) != expected {
		return r, fmt.Errorf("%s payload length %d (expected %d)", FormatResponse(f.response), len(f.payload), expected)
	}

	switch f.response {
	case RspSMOT:
		r.Speed, _ = f.PayloadInt16(0)
		r.Position, _ = f.PayloadInt32(2)
		r.PWM, _ = f.PayloadInt16(6)
		r.Status, _ = f.PayloadUint8(8)
	case RspSPOW:
		r.PWM, _ = f.PayloadInt16(0)
	case RspSSPE:
		r.Speed, _ = f.PayloadInt16(0)
	case RspSPOS:
		r.Position, _ = f.PayloadInt32(0)
	case RspSVOL:
		r.BatteryMV, _ = f.PayloadUint16(0)
	case RspSAMP:
		r.CurrentMA, _ = f.PayloadUint16(0)
	case RspSDOG:
		r.WatchdogMS, _ = f.PayloadUint16(0)
	case RspSMOD:
		r.SpeedMode, _ = f.PayloadUint8(0)
		r.StepperThreshold, _ = f.PayloadUint16(1)
	case RspSFPI:
		r.FeedForward, _ = f.PayloadInt16(0)
		r.Proportional, _ = f.PayloadInt16(2)
		r.Integral, _ = f.PayloadInt16(4)
	}
	return r, nil
}
