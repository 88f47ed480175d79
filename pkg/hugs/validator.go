// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyUnknownCommand
	AnomalyUnknownResponse
	AnomalyInvalidSpeed
	AnomalyInvalidPower
	AnomalyInvalidValue
	AnomalyCRCError
	AnomalyDecodeError
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame validates frame structure and detects anomalies.
// Returns a slice of validation errors (empty if the frame is valid).
func ValidateFrame(f *Frame) []ValidationError {
	errors := []ValidationError{}

	if ResponsePayloadSize(f.response) < 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownResponse,
			Message: fmt.Sprintf("Unknown response ID 0x%02X", f.response),
			Details: map[string]interface{}{"response": f.response},
		})
	}

	if f.command == CmdRSP {
		return append(errors, validateReply(f)...)
	}

	if FormatCommand(f.command) == "UNKNOWN" {
		return append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("Unknown command ID 0x%02X", f.command),
			Details: map[string]interface{}{"command": f.command},
		})
	}

	expected := CommandPayloadSize(f.command)
	if len(f.payload) != expected {
		return append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("%s payload length mismatch (expected %d bytes)", FormatCommand(f.command), expected),
			Details: map[string]interface{}{"length": len(f.payload), "expected": expected},
		})
	}

	switch f.command {
	case CmdPOW:
		power, _ := f.PayloadInt16(0)
		if power > MaxPower || power < -MaxPower {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidPower,
				Message: fmt.Sprintf("Power out of range (%d, valid: -%d to %d)", power, MaxPower, MaxPower),
				Details: map[string]interface{}{"power": power, "max": MaxPower},
			})
		}
	case CmdSPE:
		speed, _ := f.PayloadInt16(0)
		if speed > MaxSpeed || speed < -MaxSpeed {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidSpeed,
				Message: fmt.Sprintf("Speed out of range (%d mm/s, valid: -%d to %d)", speed, MaxSpeed, MaxSpeed),
				Details: map[string]interface{}{"speed": speed, "max": MaxSpeed},
			})
		}
	case CmdMOD:
		mode, _ := f.PayloadUint8(0)
		if mode > 2 {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Invalid speed mode=%d (valid 0-2)", mode),
				Details: map[string]interface{}{"mode": mode, "max": 2},
			})
		}
	}

	return errors
}

// validateReply validates a RSP frame
func validateReply(f *Frame) []ValidationError {
	errors := []ValidationError{}

	expected := ResponsePayloadSize(f.response)
	if expected < 0 {
		return errors
	}
	if len(f.payload) != expected {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("%s payload length mismatch (expected %d bytes)", FormatResponse(f.response), expected),
			Details: map[string]interface{}{"length": len(f.payload), "expected": expected},
		}}
	}

	r, err := ParseReply(f)
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: err.Error(),
		}}
	}

	if r.Speed > MaxSpeed || r.Speed < -MaxSpeed {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidSpeed,
			Message: fmt.Sprintf("Reported speed out of range (%d mm/s, max %d)", r.Speed, MaxSpeed),
			Details: map[string]interface{}{"speed": r.Speed, "max": MaxSpeed},
		})
	}
	if r.PWM > MaxPower || r.PWM < -MaxPower {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidPower,
			Message: fmt.Sprintf("Reported PWM out of range (%d, max %d)", r.PWM, MaxPower),
			Details: map[string]interface{}{"pwm": r.PWM, "max": MaxPower},
		})
	}
	if f.response == RspSMOD && r.SpeedMode > 2 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid speed mode=%d (valid 0-2)", r.SpeedMode),
			Details: map[string]interface{}{"mode": r.SpeedMode, "max": 2},
		})
	}

	return errors
}
