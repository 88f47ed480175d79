// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wheel

import (
	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

// State is a snapshot of one wheel
type State struct {
	Mode          bldc.ControlMode
	SpeedMode     bldc.SpeedMode
	StepThreshold uint16

	Enabled       bool
	OutputEnabled bool
	ClosedLoop    bool
	Stepper       bool
	TimedOut      bool
	Overcurrent   bool
	HallFault     bool
	Estop         bool

	Setpoint int16 // mm/s
	InputPWM int16
	PWM      int16
	Speed    int16 // mm/s
	Position int32 // mm
	Cycles   int32
	Sector   uint8

	BatteryMV  uint16
	CurrentMA  uint16
	WatchdogMS uint16

	FeedForward  int16
	Proportional int16
	Integral     int16
}

// StatusBits packs the flags into the SMOT status byte
func (s State) StatusBits() uint8 {
	var bits uint8
	set := func(flag bool, bit uint8) {
		if flag {
			bits |= bit
		}
	}
	set(s.Enabled, hugs.StatusEnabled)
	set(s.OutputEnabled, hugs.StatusOutput)
	set(s.ClosedLoop, hugs.StatusClosedLoop)
	set(s.Stepper, hugs.StatusStepper)
	set(s.TimedOut, hugs.StatusTimedOut)
	set(s.Overcurrent, hugs.StatusOvercurrent)
	set(s.HallFault, hugs.StatusHallFault)
	set(s.Estop, hugs.StatusEstop)
	return bits
}

// Reply fills every reply field from the snapshot
func (s State) Reply(response uint8) hugs.Reply {
	return hugs.Reply{
		Response:         response,
		Speed:            s.Speed,
		Position:         s.Position,
		PWM:              s.PWM,
		Status:           s.StatusBits(),
		BatteryMV:        s.BatteryMV,
		CurrentMA:        s.CurrentMA,
		WatchdogMS:       s.WatchdogMS,
		SpeedMode:        uint8(s.SpeedMode),
		StepperThreshold: s.StepThreshold,
		FeedForward:      s.FeedForward,
		Proportional:     s.Proportional,
		Integral:         s.Integral,
	}
}
