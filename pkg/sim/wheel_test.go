// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
)

func newTestWheel(t *testing.T, mutate func(*Config)) *Wheel {
	t.Helper()
	cfg := DefaultConfig(bldc.DefaultConfig())
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := NewWheel(cfg)
	require.NoError(t, err)
	return w
}

// newTestDrive pairs a motor with a wheel and runs the current calibration
func newTestDrive(t *testing.T) (*bldc.Motor, *Wheel) {
	t.Helper()
	w := newTestWheel(t, nil)
	m, err := bldc.NewMotor(bldc.DefaultConfig(), w)
	require.NoError(t, err)
	runMotor(m, w, 40)
	require.True(t, m.Calibrated())
	return m, w
}

// runMotor runs ms milliseconds of control cycles and 1 kHz updates
func runMotor(m *bldc.Motor, w *Wheel, ms int) {
	for i := 0; i < ms; i++ {
		for c := 0; c < 32; c++ {
			m.Cycle(w.ReadHall(), w.Sample())
			w.Step()
		}
		m.UpdateSpeed()
	}
}

func stepN(w *Wheel, n int) {
	for i := 0; i < n; i++ {
		w.Step()
	}
}

// ============================================================================
// Model
// ============================================================================

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig(bldc.DefaultConfig()).Validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no profile", func(c *Config) { c.Profile = nil }},
		{"zero resolution", func(c *Config) { c.Resolution = 0 }},
		{"zero cycle rate", func(c *Config) { c.CycleRate = 0 }},
		{"zero resistance", func(c *Config) { c.PhaseResistance = 0 }},
		{"negative friction", func(c *Config) { c.Friction = -1 }},
		{"glitch rate", func(c *Config) { c.HallGlitchRate = 2 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig(bldc.DefaultConfig())
			tc.mutate(&cfg)
			_, err := NewWheel(cfg)
			assert.Error(t, err)
		})
	}
}

func TestWheelAtRest(t *testing.T) {
	w := newTestWheel(t, nil)

	assert.Equal(t, bldc.ProfileHUGS.Code(0), w.ReadHall())
	assert.Equal(t, bldc.ADCSample{BatteryRaw: 1489, CurrentRaw: 2000}, w.Sample())

	stepN(w, 1000)
	assert.Equal(t, 0.0, w.Speed())
	assert.InDelta(t, bldc.MMPerCycle/2, w.Position(), 1e-9)
	assert.Equal(t, uint64(1000), w.Steps())
}

func TestWheelCoast(t *testing.T) {
	w := newTestWheel(t, nil)
	w.Push(1000)

	// One second of friction at 200 mm/s^2
	stepN(w, 32000)
	assert.InDelta(t, 800, w.Speed(), 1)
	assert.InDelta(t, 900+bldc.MMPerCycle/2, w.Position(), 1)

	stepN(w, 32000*5)
	assert.Equal(t, 0.0, w.Speed())
}

func TestWheelHallSequence(t *testing.T) {
	w := newTestWheel(t, nil)
	w.Push(1000)

	seen := []uint8{w.ReadHall()}
	for len(seen) < 7 {
		w.Step()
		if code := w.ReadHall(); code != seen[len(seen)-1] {
			seen = append(seen, code)
		}
	}
	for i, code := range seen {
		assert.Equal(t, bldc.ProfileHUGS.Code(i), code, "transition %d", i)
	}
}

func TestWheelHallGlitch(t *testing.T) {
	w := newTestWheel(t, func(c *Config) { c.HallGlitchRate = 1 })
	code := w.ReadHall()
	assert.False(t, bldc.ProfileHUGS.Valid(bldc.ProfileHUGS.Decode(code)))
}

func TestWheelBlockDriveForward(t *testing.T) {
	for _, profile := range []*bldc.Profile{bldc.ProfileHUGS, bldc.ProfileGigaDevice} {
		t.Run(profile.Name, func(t *testing.T) {
			w := newTestWheel(t, func(c *Config) { c.Profile = profile })

			sector := profile.Decode(w.ReadHall())
			y, b, g := profile.BlockCommutate(500, sector)
			w.SetPhasePulse(bldc.ChannelY, bldc.PulseWidth(y, 2250))
			w.SetPhasePulse(bldc.ChannelB, bldc.PulseWidth(b, 2250))
			w.SetPhasePulse(bldc.ChannelG, bldc.PulseWidth(g, 2250))

			// Disabled output floats
			stepN(w, 320)
			assert.Equal(t, 0.0, w.Speed())

			w.SetOutputEnabled(true)
			require.True(t, w.OutputEnabled())
			stepN(w, 320)
			assert.Greater(t, w.Speed(), 0.0)
			assert.Greater(t, w.Current(), 0.0)
		})
	}
}

// ============================================================================
// Closed loop against the motor core
// ============================================================================

func TestDriveOpenLoop(t *testing.T) {
	m, w := newTestDrive(t)
	m.SetEnable(true)
	m.SetPower(300)

	runMotor(m, w, 3000)
	assert.Equal(t, bldc.ModeOpenLoop, m.Mode())
	assert.InDelta(t, 1422, w.Speed(), 30)
	assert.InDelta(t, w.Speed(), float64(m.Speed()), 30)
	assert.Equal(t, int8(1), m.MeasuredDirection())
	assert.InDelta(t, w.Position(), float64(m.Position()), 2*bldc.MMPerCycle)
}

func TestDriveSpeedLoop(t *testing.T) {
	m, w := newTestDrive(t)
	m.SetEnable(true)

	m.SetSpeed(1000)
	runMotor(m, w, 3000)
	assert.Equal(t, bldc.ModeRunning, m.Mode())
	assert.InDelta(t, 1000, w.Speed(), 50)
	assert.InDelta(t, 1000, m.Speed(), 50)

	m.SetSpeed(-1000)
	runMotor(m, w, 4000)
	assert.InDelta(t, -1000, w.Speed(), 50)
	assert.Equal(t, int8(-1), m.MeasuredDirection())
}

func TestDriveStepper(t *testing.T) {
	m, w := newTestDrive(t)
	m.SetEnable(true)

	m.SetSpeed(100)
	runMotor(m, w, 3000)
	require.Equal(t, bldc.ModeStepper, m.Mode())

	// Locked to the stepper: one degree every 30 cycles
	start := w.Position()
	runMotor(m, w, 1000)
	assert.InDelta(t, 105, w.Position()-start, 15)

	// Up to running and back down through a phase restart
	m.SetSpeed(1000)
	runMotor(m, w, 2000)
	require.Equal(t, bldc.ModeRunning, m.Mode())

	m.SetSpeed(150)
	runMotor(m, w, 3000)
	assert.Equal(t, bldc.ModeStepper, m.Mode())
	assert.False(t, m.PhaseRestartPending())
	assert.InDelta(t, 157, w.Speed(), 25)
}

func TestDriveDisabledCoasts(t *testing.T) {
	m, w := newTestDrive(t)
	m.SetEnable(true)
	m.SetSpeed(1000)
	runMotor(m, w, 2000)

	m.SetEnable(false)
	runMotor(m, w, 1)
	assert.False(t, w.OutputEnabled())

	runMotor(m, w, 6000)
	assert.Equal(t, 0.0, w.Speed())
	assert.Equal(t, int16(0), m.Speed())
}
