// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRotor steps through the hugs Hall codes
type testRotor struct {
	idx int
}

func (r *testRotor) code() uint8 {
	return hugsForward[r.idx]
}

func (r *testRotor) step(dir int) uint8 {
	r.idx = (r.idx + dir + 6) % 6
	return r.code()
}

var quietADC = ADCSample{BatteryRaw: 1655, CurrentRaw: 2000}

func newTestMotor(t *testing.T, mutate func(*Config)) (*Motor, *PulseRecorder) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &PulseRecorder{}
	m, err := NewMotor(cfg, sink)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		m.Cycle(hugsForward[0], quietADC)
	}
	require.True(t, m.Calibrated())
	return m, sink
}

func runCycles(m *Motor, code uint8, n int) {
	for i := 0; i < n; i++ {
		m.Cycle(code, quietADC)
	}
}

// ============================================================================
// Configuration
// ============================================================================

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint16(2250), cfg.PWMResolution())
	assert.Equal(t, uint32(32000), cfg.PWMCycleRate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no profile", func(c *Config) { c.Profile = nil }},
		{"zero frequency", func(c *Config) { c.PWMFrequency = 0 }},
		{"frequency too high", func(c *Config) { c.PWMFrequency = 4000000 }},
		{"pwm shift", func(c *Config) { c.PWMFilterShift = 0 }},
		{"speed shift", func(c *Config) { c.SpeedFilterShift = 20 }},
		{"speed mode", func(c *Config) { c.SpeedMode = 7 }},
		{"stepper magnitude", func(c *Config) { c.StepperMagnitude = 1500 }},
		{"ilimit", func(c *Config) { c.Gains.ILimit = -1 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := NewMotor(cfg, nil)
			assert.Error(t, err)
		})
	}
}

// ============================================================================
// Output gating
// ============================================================================

func TestMotorCalibrationHoldsOutput(t *testing.T) {
	sink := &PulseRecorder{}
	m, err := NewMotor(DefaultConfig(), sink)
	require.NoError(t, err)
	m.SetEnable(true)
	m.SetPower(500)

	runCycles(m, hugsForward[0], 999)
	assert.False(t, sink.Enabled)
	assert.Equal(t, uint64(0), sink.Writes)

	runCycles(m, hugsForward[0], 2)
	assert.True(t, sink.Enabled)
	assert.Equal(t, uint64(3), sink.Writes)
}

func TestMotorOutputGate(t *testing.T) {
	m, sink := newTestMotor(t, nil)

	runCycles(m, hugsForward[0], 1)
	assert.False(t, sink.Enabled)

	m.SetEnable(true)
	runCycles(m, hugsForward[0], 1)
	assert.True(t, sink.Enabled)
	assert.True(t, m.OutputEnabled())

	m.SetTimedOut(true)
	runCycles(m, hugsForward[0], 1)
	assert.False(t, sink.Enabled)

	m.SetTimedOut(false)
	runCycles(m, hugsForward[0], 1)
	assert.True(t, sink.Enabled)
}

// ============================================================================
// Open loop
// ============================================================================

func TestMotorOpenLoop(t *testing.T) {
	m, sink := newTestMotor(t, nil)
	m.SetEnable(true)
	m.SetPower(2000)
	assert.Equal(t, int16(MaxPWM), m.InputPWM())

	runCycles(m, hugsForward[0], 20000)
	assert.Equal(t, ModeOpenLoop, m.Mode())
	pwm := m.PWM()
	assert.InDelta(t, 1000, pwm, 2)

	y, b, g := m.Phases()
	assert.Equal(t, []int16{0, -pwm, pwm}, []int16{y, b, g})
	assert.Equal(t, uint16(1125), sink.Pulses[ChannelY])
	assert.Equal(t, PulseWidth(-pwm, 2250), sink.Pulses[ChannelB])
	assert.Equal(t, PulseWidth(pwm, 2250), sink.Pulses[ChannelG])

	m.SetPower(0)
	assert.Equal(t, ModeIdle, m.Mode())
	runCycles(m, hugsForward[0], 1)
	assert.Equal(t, ModeIdle, m.Mode())
}

func TestMotorInvalidHallHoldsSector(t *testing.T) {
	m, _ := newTestMotor(t, nil)
	m.SetEnable(true)
	m.SetPower(1000)
	runCycles(m, hugsForward[3], 2000)
	y0, b0, g0 := m.Phases()
	require.NotEqual(t, int16(0), b0)

	runCycles(m, 7, 1)
	y, b, g := m.Phases()
	assert.Equal(t, uint8(3), m.Sector())
	assert.Equal(t, y0 == 0, y == 0)
	assert.Equal(t, b0 > 0, b > 0)
	assert.Equal(t, g0 < 0, g < 0)
}

// ============================================================================
// Closed loop mode transitions
// ============================================================================

func TestMotorSpeedModeScenario(t *testing.T) {
	m, _ := newTestMotor(t, func(c *Config) {
		c.SpeedMode = SpeedModeDual
		c.MaxStepSpeed = 500
	})
	m.SetEnable(true)
	rotor := &testRotor{}

	m.SetPower(200)
	runCycles(m, rotor.code(), 1)
	require.Equal(t, ModeOpenLoop, m.Mode())

	m.SetSpeed(0)
	runCycles(m, rotor.code(), 1)
	assert.Equal(t, ModeIdle, m.Mode())
	assert.Equal(t, int16(0), m.InputPWM())

	m.SetSpeed(100)
	runCycles(m, rotor.code(), 1)
	assert.Equal(t, ModeStepper, m.Mode())
	assert.Equal(t, int8(1), m.Direction())
	assert.Equal(t, int32(SineTicksFactor/100), m.StepperPeriod())

	m.SetSpeed(4000)
	for i := 0; i < 6; i++ {
		runCycles(m, rotor.step(1), 10)
	}
	assert.Equal(t, ModeRunning, m.Mode())
	assert.False(t, m.Stepper())

	m.SetSpeed(0)
	runCycles(m, rotor.code(), 1)
	assert.Equal(t, ModeIdle, m.Mode())
	assert.False(t, m.PhaseRestartPending())

	m.SetSpeed(-100)
	runCycles(m, rotor.code(), 1)
	assert.Equal(t, ModeStepper, m.Mode())
	assert.Equal(t, int8(-1), m.Direction())

	// Exactly one degree backwards per stepper period
	a0 := m.Angle().Y
	runCycles(m, rotor.code(), int(m.StepperPeriod()))
	assert.Equal(t, int16(WrapAngle(int(a0)-1)), m.Angle().Y)
}

func TestMotorPhaseRestart(t *testing.T) {
	m, _ := newTestMotor(t, func(c *Config) {
		c.MaxStepSpeed = 500
	})
	m.SetEnable(true)
	rotor := &testRotor{}

	m.SetSpeed(3000)
	runCycles(m, rotor.code(), 10)
	require.Equal(t, ModeRunning, m.Mode())

	m.SetSpeed(100)
	assert.True(t, m.PhaseRestartPending())
	assert.False(t, m.Stepper())

	// Held until the next Hall edge
	runCycles(m, rotor.code(), 20)
	assert.Equal(t, ModeRunning, m.Mode())

	runCycles(m, rotor.step(1), 1)
	assert.Equal(t, ModeStepper, m.Mode())
	assert.False(t, m.PhaseRestartPending())
	assert.Equal(t, int16(SectorTransitionAngle(1, 1)), m.Angle().Y)
}

func TestMotorStepOnlyMode(t *testing.T) {
	m, _ := newTestMotor(t, func(c *Config) { c.SpeedMode = SpeedModeStep })
	m.SetEnable(true)

	m.SetSpeed(4000)
	runCycles(m, hugsForward[0], 1)
	assert.Equal(t, ModeStepper, m.Mode())

	// Zero never reaches the stepper period division
	m.SetSpeed(0)
	assert.Equal(t, int32(SineTicksFactor/4000), m.StepperPeriod())
	runCycles(m, hugsForward[0], 1)
	assert.Equal(t, ModeIdle, m.Mode())
}

func TestMotorPFMode(t *testing.T) {
	m, _ := newTestMotor(t, func(c *Config) { c.SpeedMode = SpeedModePF })
	m.SetEnable(true)

	m.SetSpeed(50)
	runCycles(m, hugsForward[0], 1)
	assert.Equal(t, ModeRunning, m.Mode())
	assert.Greater(t, m.InputPWM(), int16(0))
}

func TestMotorSetSpeedModeLive(t *testing.T) {
	m, _ := newTestMotor(t, nil)
	m.SetEnable(true)

	m.SetSpeed(150)
	runCycles(m, hugsForward[0], 1)
	require.Equal(t, ModeStepper, m.Mode())

	require.NoError(t, m.SetSpeedMode(SpeedModeDual, 100))
	assert.Equal(t, uint16(100), m.MaxStepSpeed())
	runCycles(m, hugsForward[0], 1)
	assert.Equal(t, ModeRunning, m.Mode())

	require.NoError(t, m.SetSpeedMode(SpeedModeStep, 100))
	assert.True(t, m.PhaseRestartPending())

	assert.Error(t, m.SetSpeedMode(SpeedMode(9), 0))
	assert.Equal(t, SpeedModeStep, m.SpeedMode())
}

func TestMotorSetpointClamp(t *testing.T) {
	m, _ := newTestMotor(t, nil)
	m.SetSpeed(-9000)
	assert.Equal(t, int32(-MaxSpeed), m.Setpoint())
	m.SetSpeed(9000)
	assert.Equal(t, int32(MaxSpeed), m.Setpoint())
}

func TestMotorDisableLeavesClosedLoop(t *testing.T) {
	m, _ := newTestMotor(t, nil)
	m.SetEnable(true)
	m.SetSpeed(1000)
	require.True(t, m.ClosedLoop())

	m.SetEnable(false)
	assert.False(t, m.ClosedLoop())
	assert.False(t, m.Enabled())
}

// ============================================================================
// Odometry
// ============================================================================

func TestMotorOdometry(t *testing.T) {
	m, _ := newTestMotor(t, nil)
	rotor := &testRotor{}
	runCycles(m, rotor.code(), 1)

	for i := 0; i < 10; i++ {
		runCycles(m, rotor.step(1), 50)
	}
	assert.Equal(t, int32(10), m.Cycles())
	assert.Equal(t, int32(58), m.Position())
	assert.Equal(t, int8(1), m.MeasuredDirection())

	for i := 0; i < 3000; i++ {
		m.UpdateSpeed()
	}
	assert.InDelta(t, SpeedTicksFactor/50, m.Speed(), 20)

	for i := 0; i < 4; i++ {
		runCycles(m, rotor.step(-1), 50)
	}
	assert.Equal(t, int32(6), m.Cycles())

	m.ResetOdometry()
	assert.Equal(t, int32(0), m.Cycles())
	assert.Equal(t, int32(0), m.Position())
}
