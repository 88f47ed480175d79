// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d dest=%d rsp=%s len=%d\n",
		timestamp, FormatCommand(f.command), f.command, f.sequence, f.destination,
		FormatResponse(f.response), len(f.payload))
	result += FormatPayload(f)

	return result
}

// FormatCommand returns the human-readable name for a command ID
func FormatCommand(cmd uint8) string {
	switch cmd {
	case CmdNOP:
		return "NOP"
	case CmdRSP:
		return "RSP"
	case CmdRES:
		return "RES"
	case CmdENA:
		return "ENA"
	case CmdDIS:
		return "DIS"
	case CmdPOW:
		return "POW"
	case CmdSPE:
		return "SPE"
	case CmdABS:
		return "ABS"
	case CmdREL:
		return "REL"
	case CmdDOG:
		return "DOG"
	case CmdMOD:
		return "MOD"
	case CmdDSPE:
		return "DSPE"
	case CmdXXX:
		return "XXX"
	default:
		return "UNKNOWN"
	}
}

// FormatResponse returns the human-readable name for a response ID
func FormatResponse(rsp uint8) string {
	switch rsp {
	case RspNOR:
		return "NOR"
	case RspSMOT:
		return "SMOT"
	case RspSPOW:
		return "SPOW"
	case RspSSPE:
		return "SSPE"
	case RspSPOS:
		return "SPOS"
	case RspSVOL:
		return "SVOL"
	case RspSAMP:
		return "SAMP"
	case RspSDOG:
		return "SDOG"
	case RspSMOD:
		return "SMOD"
	case RspSFPI:
		return "SFPI"
	case RspSTOP:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// FormatPayload formats the payload based on command and response ID
func FormatPayload(f *Frame) string {
	if f.command == CmdRSP {
		return formatReplyPayload(f)
	}

	switch f.command {
	case CmdPOW:
		power, ok := f.PayloadInt16(0)
		if !ok {
			return formatRaw(f.payload)
		}
		return fmt.Sprintf("  Power: %d\n", power)

	case CmdSPE:
		speed, ok := f.PayloadInt16(0)
		if !ok {
			return formatRaw(f.payload)
		}
		return fmt.Sprintf("  Speed: %d mm/s\n", speed)

	case CmdDOG:
		interval, ok := f.PayloadUint16(0)
		if !ok {
			return formatRaw(f.payload)
		}
		return fmt.Sprintf("  Watchdog: %d ms\n", interval)

	case CmdMOD:
		mode, ok1 := f.PayloadUint8(0)
		threshold, ok2 := f.PayloadUint16(1)
		if !ok1 || !ok2 {
			return formatRaw(f.payload)
		}
		return fmt.Sprintf("  Speed Mode: %s (%d), Stepper Threshold: %d mm/s\n", FormatSpeedMode(mode), mode, threshold)

	case CmdDSPE:
		speed, ok1 := f.PayloadInt16(0)
		turn, ok2 := f.PayloadInt16(2)
		if !ok1 || !ok2 {
			return formatRaw(f.payload)
		}
		return fmt.Sprintf("  Speed: %d mm/s, Turn: %d deg/s\n", speed, turn)
	}

	if len(f.payload) == 0 {
		return "  (no payload)\n"
	}
	return formatRaw(f.payload)
}

func formatReplyPayload(f *Frame) string {
	r, err := ParseReply(f)
	if err != nil {
		return fmt.Sprintf("  (%v)\n", err) + formatRaw(f.payload)
	}

	switch r.Response {
	case RspNOR:
		return "  (no payload)\n"
	case RspSTOP:
		return "  ESTOP latched\n"
	case RspSMOT:
		return fmt.Sprintf("  Speed: %d mm/s, Position: %d mm, PWM: %d, Status: %s\n",
			r.Speed, r.Position, r.PWM, FormatStatus(r.Status))
	case RspSPOW:
		return fmt.Sprintf("  PWM: %d\n", r.PWM)
	case RspSSPE:
		return fmt.Sprintf("  Speed: %d mm/s\n", r.Speed)
	case RspSPOS:
		return fmt.Sprintf("  Position: %d mm\n", r.Position)
	case RspSVOL:
		return fmt.Sprintf("  Battery: %.2f V\n", float64(r.BatteryMV)/1000.0)
	case RspSAMP:
		return fmt.Sprintf("  Current: %.2f A\n", float64(r.CurrentMA)/1000.0)
	case RspSDOG:
		return fmt.Sprintf("  Watchdog: %d ms\n", r.WatchdogMS)
	case RspSMOD:
		return fmt.Sprintf("  Speed Mode: %s (%d), Stepper Threshold: %d mm/s\n",
			FormatSpeedMode(r.SpeedMode), r.SpeedMode, r.StepperThreshold)
	case RspSFPI:
		return fmt.Sprintf("  PIDF: F=%d P=%d I=%d\n", r.FeedForward, r.Proportional, r.Integral)
	}
	return formatRaw(f.payload)
}

// FormatSpeedMode returns the name of a MOD speed mode value
func FormatSpeedMode(mode uint8) string {
	switch mode {
	case 0:
		return "PF"
	case 1:
		return "STEP"
	case 2:
		return "DUAL"
	default:
		return "UNKNOWN"
	}
}

// FormatStatus returns the set SMOT status bits as a list of names
func FormatStatus(status uint8) string {
	names := []struct {
		bit  uint8
		name string
	}{
		{StatusEnabled, "ENABLED"},
		{StatusOutput, "OUTPUT"},
		{StatusClosedLoop, "CLOSED_LOOP"},
		{StatusStepper, "STEPPER"},
		{StatusTimedOut, "TIMED_OUT"},
		{StatusOvercurrent, "OVERCURRENT"},
		{StatusHallFault, "HALL_FAULT"},
		{StatusEstop, "ESTOP"},
	}

	var set []string
	for _, n := range names {
		if status&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "-"
	}
	return strings.Join(set, "|")
}

// FormatBytes renders bytes as space separated hex
func FormatBytes(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func formatRaw(payload []byte) string {
	return fmt.Sprintf("  Raw: %s\n", FormatBytes(payload))
}
