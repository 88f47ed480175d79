// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

// Channel identifies one phase of the power stage
type Channel uint8

// Phase channels, named after the motor lead colours
const (
	ChannelY Channel = iota // yellow, phase A
	ChannelB                // blue, phase B
	ChannelG                // green, phase C
)

func (c Channel) String() string {
	switch c {
	case ChannelY:
		return "Y"
	case ChannelB:
		return "B"
	case ChannelG:
		return "G"
	default:
		return "?"
	}
}

// PhaseSink receives the power stage writes of one control cycle.
// Implementations must not block.
type PhaseSink interface {
	SetPhasePulse(ch Channel, value uint16)
	SetOutputEnabled(enabled bool)
}

// HallSensor returns the 3-bit Hall code (a*1 + b*2 + c*4)
type HallSensor interface {
	ReadHall() uint8
}

// ADCSample is one raw battery and DC current conversion
type ADCSample struct {
	BatteryRaw uint16
	CurrentRaw uint16
}

// ADC returns the latest raw sample
type ADC interface {
	Sample() ADCSample
}

// PulseRecorder is a PhaseSink that keeps the last writes
type PulseRecorder struct {
	Pulses  [3]uint16
	Enabled bool
	Writes  uint64
}

// SetPhasePulse implements PhaseSink
func (r *PulseRecorder) SetPhasePulse(ch Channel, value uint16) {
	if int(ch) < len(r.Pulses) {
		r.Pulses[ch] = value
	}
	r.Writes++
}

// SetOutputEnabled implements PhaseSink
func (r *PulseRecorder) SetOutputEnabled(enabled bool) {
	r.Enabled = enabled
}
