// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

// Command builder functions create Frame structs ready for encoding.
// Every builder takes a Header naming the sequence number, the wheel
// address and the reply the sender wants back (RspNOR for none).

// Header carries the addressing fields shared by all commands
type Header struct {
	Sequence    uint8
	Destination uint8
	Response    uint8
}

func (h Header) frame(cmd uint8, payload []byte) *Frame {
	return NewFrame(h.Sequence, h.Destination, cmd, h.Response, payload)
}

// NewNOP creates a NOP frame (0x00). Combined with a response ID it polls
// telemetry without changing state.
func NewNOP(h Header) *Frame {
	return h.frame(CmdNOP, nil)
}

// NewResetOdometry creates a RES frame (0x02) that zeroes the position
func NewResetOdometry(h Header) *Frame {
	return h.frame(CmdRES, nil)
}

// NewEnable creates an ENA frame (0x03). It also clears a latched estop.
func NewEnable(h Header) *Frame {
	return h.frame(CmdENA, nil)
}

// NewDisable creates a DIS frame (0x04)
func NewDisable(h Header) *Frame {
	return h.frame(CmdDIS, nil)
}

// NewPower creates a POW frame (0x05) for open loop power -1000..1000
func NewPower(h Header, power int16) *Frame {
	return h.frame(CmdPOW, AppendInt16(nil, power))
}

// NewSpeed creates a SPE frame (0x06) for closed loop speed in mm/s
func NewSpeed(h Header, speed int16) *Frame {
	return h.frame(CmdSPE, AppendInt16(nil, speed))
}

// NewWatchdog creates a DOG frame (0x09) setting the command timeout in ms
func NewWatchdog(h Header, intervalMs uint16) *Frame {
	return h.frame(CmdDOG, AppendUint16(nil, intervalMs))
}

// NewSpeedMode creates a MOD frame (0x0A).
// Mode values: 0 = PF, 1 = STEP, 2 = DUAL. The threshold is the highest
// speed in mm/s that DUAL mode still runs on the stepper.
func NewSpeedMode(h Header, mode uint8, threshold uint16) *Frame {
	payload := []byte{mode}
	return h.frame(CmdMOD, AppendUint16(payload, threshold))
}

// NewDualSpeed creates a DSPE frame (0x86) carrying speed and turn rate.
// Wheels recognize it but only the steering link acts on it.
func NewDualSpeed(h Header, speed, turn int16) *Frame {
	return h.frame(CmdDSPE, AppendInt16(AppendInt16(nil, speed), turn))
}

// NewEstop creates an XXX frame (0xFF): power to zero, output disabled,
// estop latched until the next ENA
func NewEstop(h Header) *Frame {
	return h.frame(CmdXXX, nil)
}

// NewReply creates a RSP frame (0x01) answering a request with the same
// sequence and destination
func NewReply(request *Frame, response uint8, payload []byte) *Frame {
	return NewFrame(request.sequence, request.destination, CmdRSP, response, payload)
}
