// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

// ADC conversion factors
const (
	BatteryMicroVoltPerCount = 24170  // 3.3 V / 4095 * 30 divider
	CurrentMicroAmpPerCount  = 201500 // 3.3 V / 4095 / 3 / 4 mOhm shunt

	calibrationCycles = 1000
	measureEvery      = 100
	measureDivisor    = 100

	initialCurrentOffset = 2000
	initialBatteryMV     = 40000
)

// CurrentLimiter measures bus voltage and current and gates the power stage
type CurrentLimiter struct {
	limitMA int32

	calibration int32
	offset      int32
	ticks       uint32

	batteryMV int32
	currentMA int32
}

// NewCurrentLimiter creates a limiter that trips above limitMA
func NewCurrentLimiter(limitMA uint16) *CurrentLimiter {
	return &CurrentLimiter{
		limitMA:   int32(limitMA),
		offset:    initialCurrentOffset,
		batteryMV: initialBatteryMV,
	}
}

// Step processes one ADC sample. It returns false while the current
// offset is still being calibrated; no output may be driven until then.
func (c *CurrentLimiter) Step(s ADCSample) bool {
	if c.calibration < calibrationCycles {
		c.calibration++
		c.offset = (int32(s.CurrentRaw) + c.offset) / 2
		return false
	}

	c.ticks++
	if c.ticks%measureEvery == 0 {
		v := int64(s.BatteryRaw) * BatteryMicroVoltPerCount / 1000
		i := (int64(s.CurrentRaw) - int64(c.offset)) * CurrentMicroAmpPerCount / 1000
		if i < 0 {
			i = -i
		}
		c.batteryMV += (saturate16(v) - c.batteryMV) / measureDivisor
		c.currentMA += (saturate16(i) - c.currentMA) / measureDivisor
	}
	return true
}

// Allow reports whether the power stage may switch
func (c *CurrentLimiter) Allow(enabled, timedOut bool) bool {
	return enabled && !timedOut && !c.Overcurrent()
}

// Overcurrent reports the filtered current above the limit
func (c *CurrentLimiter) Overcurrent() bool {
	return c.currentMA > c.limitMA
}

// Calibrated reports that the offset calibration has finished
func (c *CurrentLimiter) Calibrated() bool {
	return c.calibration >= calibrationCycles
}

// BatteryMV returns the filtered battery voltage
func (c *CurrentLimiter) BatteryMV() uint16 {
	return uint16(c.batteryMV)
}

// CurrentMA returns the filtered DC current
func (c *CurrentLimiter) CurrentMA() uint16 {
	return uint16(c.currentMA)
}

// Offset returns the calibrated current ADC offset
func (c *CurrentLimiter) Offset() int32 {
	return c.offset
}

func saturate16(v int64) int32 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return int32(v)
}
