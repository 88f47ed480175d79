// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

// LowPass is the shift-based exponential filter used for speed and PWM.
// The register holds the output scaled up by 2^shift.
type LowPass struct {
	shift uint8
	reg   int32
}

// NewLowPass creates a filter with the given shift
func NewLowPass(shift uint8) LowPass {
	return LowPass{shift: shift}
}

// Update feeds one sample and returns the filtered value
func (f *LowPass) Update(in int32) int32 {
	f.reg = f.reg - (f.reg >> f.shift) + in
	return f.reg >> f.shift
}

// Value returns the current filtered value
func (f *LowPass) Value() int32 {
	return f.reg >> f.shift
}

// Reset clears the register
func (f *LowPass) Reset() {
	f.reg = 0
}

// SpeedEstimator turns time between Hall transitions into mm/s
type SpeedEstimator struct {
	counter     int32
	phasePeriod int32
	filter      LowPass
	speed       int16
}

// NewSpeedEstimator creates an estimator that starts stalled
func NewSpeedEstimator(shift uint8) *SpeedEstimator {
	return &SpeedEstimator{
		phasePeriod: MaxPhasePeriod,
		filter:      NewLowPass(shift),
	}
}

// Count runs once per control cycle after the Hall update
func (e *SpeedEstimator) Count(transition bool) {
	if transition {
		e.phasePeriod = e.counter
		e.counter = 0
	}
	if e.counter < MaxPhasePeriod {
		e.counter++
	} else {
		e.phasePeriod = MaxPhasePeriod
		e.speed = 0
	}
}

// Filter folds the latest phase period into the filtered speed.
// dir is the measured rotation direction.
func (e *SpeedEstimator) Filter(dir int8) int16 {
	if e.Stalled() {
		// A stopped wheel reads exactly zero, not a decaying tail
		e.filter.Reset()
		e.speed = 0
		return 0
	}
	var raw int32
	if e.phasePeriod > 0 {
		raw = (SpeedTicksFactor / e.phasePeriod) * int32(dir)
	}
	e.speed = int16(e.filter.Update(raw))
	return e.speed
}

// Stalled reports that no transition happened for MaxPhasePeriod cycles
func (e *SpeedEstimator) Stalled() bool {
	return e.phasePeriod >= MaxPhasePeriod
}

// Speed returns the filtered speed in mm/s
func (e *SpeedEstimator) Speed() int16 {
	return e.speed
}

// PhasePeriod returns the last measured cycles per transition
func (e *SpeedEstimator) PhasePeriod() int32 {
	return e.phasePeriod
}
