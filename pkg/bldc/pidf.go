// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

// gainScale is the fixed-point scale of every PIDF gain (2^15)
const gainScale = 32768.0

// Gains are PIDF coefficients pre-scaled by 2^15
type Gains struct {
	KF     int32 // feed forward per mm/s
	KFO    int32 // feed forward offset per direction
	KP     int32
	KI     int32
	ILimit int32 // integral clamp, scaled
}

// GainsFromFloat scales real-valued gains to fixed point the way the
// firmware constants are computed, truncating toward zero.
func GainsFromFloat(kf, kfo, kp, ki, ilimit float64) Gains {
	return Gains{
		KF:     int32(gainScale * kf),
		KFO:    int32(gainScale * kfo),
		KP:     int32(gainScale * kp),
		KI:     int32(gainScale * ki),
		ILimit: int32(gainScale * ilimit),
	}
}

// DefaultGains are the tuned hub motor gains
var DefaultGains = GainsFromFloat(0.16, 28.0, 0.2, 0.00005, 150)

// PIDF is the fixed-point speed loop.
//
// Wind-up is bounded by clamping the integral register, not by detecting
// output saturation. With |error| <= 2*MaxSpeed the per-cycle increment
// error*KI stays far below 2^31, so the register cannot overflow before
// the clamp applies.
type PIDF struct {
	gains Gains

	integral     int32
	lastSetpoint int32
	err          int32

	outF, outP, outI int16
}

// NewPIDF creates a loop with the given gains
func NewPIDF(g Gains) PIDF {
	return PIDF{gains: g}
}

// Run computes one output for setpoint and measured speed (mm/s).
// dir is the commanded direction, used for the feed forward offset.
func (p *PIDF) Run(setpoint, measured int32, dir int8) int16 {
	p.err = setpoint - measured

	p.outF = int16((setpoint*p.gains.KF + int32(dir)*p.gains.KFO) >> 15)
	p.outP = int16((p.err * p.gains.KP) >> 15)

	if abs32(setpoint) < MinSpeed || setpoint*p.lastSetpoint < 0 {
		p.integral = 0
	} else {
		p.integral = clamp32(p.integral+p.err*p.gains.KI, -p.gains.ILimit, p.gains.ILimit)
	}
	p.outI = int16(p.integral >> 15)

	p.lastSetpoint = setpoint

	return p.outF + p.outP + p.outI
}

// Idle records a zero setpoint without producing output
func (p *PIDF) Idle() {
	p.err = 0
	p.integral = 0
	p.lastSetpoint = 0
	p.outF, p.outP, p.outI = 0, 0, 0
}

// Terms returns the last feed forward, proportional and integral outputs
func (p *PIDF) Terms() (f, prop, i int16) {
	return p.outF, p.outP, p.outI
}

// Integral returns the scaled integral register
func (p *PIDF) Integral() int32 {
	return p.integral
}

// Error returns the last speed error
func (p *PIDF) Error() int32 {
	return p.err
}

// Gains returns the loop gains
func (p *PIDF) Gains() Gains {
	return p.gains
}
