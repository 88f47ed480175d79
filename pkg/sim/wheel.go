// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim is a simulated hub motor wheel.
//
// Wheel implements the Hall sensor, phase sink and ADC interfaces of
// pkg/bldc, so the controller runs against it unchanged. The model is a
// three phase permanent magnet motor with sinusoidal back EMF driving a
// wheel with coulomb friction. It is wired for the configured commutation
// profile: positive block commutation advances the sector count.
package sim

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
)

// Config holds the plant parameters
type Config struct {
	Profile    *bldc.Profile
	Resolution uint16  // PWM timer period in counts
	CycleRate  float64 // control cycles per second

	BatteryVolts     float64
	VelocityConstant float64 // mm/s of free speed per volt
	TimeConstant     float64 // s, mechanical
	PhaseResistance  float64 // ohm
	Friction         float64 // mm/s^2

	CurrentOffset  uint16  // ADC counts at zero current
	HallGlitchRate float64 // chance of an invalid Hall code per read
	Seed           int64
}

// DefaultConfig returns a 36 V hub motor matched to motor
func DefaultConfig(motor bldc.Config) Config {
	return Config{
		Profile:          motor.Profile,
		Resolution:       motor.PWMResolution(),
		CycleRate:        float64(motor.PWMCycleRate()),
		BatteryVolts:     36,
		VelocityConstant: 140,
		TimeConstant:     0.3,
		PhaseResistance:  4,
		Friction:         200,
		CurrentOffset:    2000,
	}
}

// Validate checks the parameters the model divides by
func (c Config) Validate() error {
	switch {
	case c.Profile == nil:
		return errors.New("commutation profile is required")
	case c.Resolution == 0:
		return errors.New("PWM resolution must be positive")
	case c.CycleRate <= 0:
		return errors.New("cycle rate must be positive")
	case c.VelocityConstant <= 0 || c.TimeConstant <= 0 || c.PhaseResistance <= 0:
		return errors.New("motor constants must be positive")
	case c.Friction < 0 || c.BatteryVolts < 0:
		return errors.New("friction and battery voltage must not be negative")
	case c.HallGlitchRate < 0 || c.HallGlitchRate > 1:
		return errors.New("hall glitch rate must be within 0..1")
	}
	return nil
}

// Phase torque functions are offset so block commutation torque peaks in
// the middle of each sector.
var phaseOffsets = [3]float64{-30, -150, 90}

// Wheel is the simulated motor and wheel
type Wheel struct {
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	polarity float64
	accelK   float64
	invalid  uint8

	position float64 // mm
	velocity float64 // mm/s
	current  float64 // A, DC bus
	load     float64 // mm/s^2 opposing forward motion

	pulses  [3]uint16
	enabled bool
	steps   uint64
}

// NewWheel creates a wheel at rest in the middle of sector 0
func NewWheel(cfg Config) (*Wheel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Wheel{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		accelK:   cfg.VelocityConstant / (1.5 * cfg.TimeConstant),
		position: bldc.MMPerCycle / 2,
		polarity: 1,
	}
	for _, ch := range []bldc.Channel{bldc.ChannelY, bldc.ChannelB, bldc.ChannelG} {
		w.pulses[ch] = cfg.Resolution / 2
	}

	// Orient the windings so the profile's first sector pattern pulls forward
	first := cfg.Profile.Decode(cfg.Profile.Code(0))
	y, b, g := cfg.Profile.BlockCommutate(1, first)
	k := w.torqueFunctions(30)
	if float64(y)*k[0]+float64(b)*k[1]+float64(g)*k[2] < 0 {
		w.polarity = -1
	}

	for code := uint8(0); code < 8; code++ {
		if !cfg.Profile.Valid(cfg.Profile.Decode(code)) {
			w.invalid = code
			break
		}
	}
	return w, nil
}

// electricalAngle returns the rotor angle in degrees, 60 per sector
func (w *Wheel) electricalAngle() float64 {
	return w.position / bldc.MMPerCycle * 60
}

func (w *Wheel) torqueFunctions(angle float64) [3]float64 {
	var k [3]float64
	for i, offset := range phaseOffsets {
		k[i] = w.polarity * math.Sin((angle+offset)*math.Pi/180)
	}
	return k
}

// ReadHall implements bldc.HallSensor
func (w *Wheel) ReadHall() uint8 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.HallGlitchRate > 0 && w.rng.Float64() < w.cfg.HallGlitchRate {
		return w.invalid
	}
	index := int(math.Floor(w.electricalAngle() / 60))
	return w.cfg.Profile.Code(index)
}

// Sample implements bldc.ADC
func (w *Wheel) Sample() bldc.ADCSample {
	w.mu.Lock()
	defer w.mu.Unlock()

	battery := w.cfg.BatteryVolts * 1e6 / bldc.BatteryMicroVoltPerCount
	current := float64(w.cfg.CurrentOffset) + w.current*1e6/bldc.CurrentMicroAmpPerCount
	return bldc.ADCSample{
		BatteryRaw: uint16(clamp(math.Round(battery), 0, 4095)),
		CurrentRaw: uint16(clamp(math.Round(current), 0, 4095)),
	}
}

// SetPhasePulse implements bldc.PhaseSink
func (w *Wheel) SetPhasePulse(ch bldc.Channel, value uint16) {
	w.mu.Lock()
	if int(ch) < len(w.pulses) {
		w.pulses[ch] = value
	}
	w.mu.Unlock()
}

// SetOutputEnabled implements bldc.PhaseSink
func (w *Wheel) SetOutputEnabled(enabled bool) {
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// Step advances the model by one control cycle
func (w *Wheel) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()

	dt := 1 / w.cfg.CycleRate
	accel := 0.0
	w.current = 0

	if w.enabled {
		k := w.torqueFunctions(w.electricalAngle())
		half := float64(w.cfg.Resolution) / 2

		var duty [3]float64
		mean := 0.0
		for i, p := range w.pulses {
			duty[i] = (float64(p) - half) / half
			mean += duty[i] / 3
		}

		emf := w.velocity / w.cfg.VelocityConstant
		drive := 0.0
		for i := range duty {
			v := w.cfg.BatteryVolts*(duty[i]-mean) - emf*k[i]
			drive += k[i] * v
			w.current += duty[i] * v / w.cfg.PhaseResistance
		}
		accel = w.accelK * drive
	}
	accel -= w.load

	switch {
	case w.velocity > 0:
		accel -= w.cfg.Friction
	case w.velocity < 0:
		accel += w.cfg.Friction
	}

	next := w.velocity + accel*dt
	if w.velocity != 0 && (next > 0) != (w.velocity > 0) {
		// Friction stops the wheel, it does not reverse it
		next = 0
	}
	if w.velocity == 0 && math.Abs(accel) <= w.cfg.Friction {
		next = 0
	}

	w.velocity = next
	w.position += w.velocity * dt
	w.steps++
}

// Speed returns the wheel speed in mm/s
func (w *Wheel) Speed() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.velocity
}

// Position returns the distance travelled in mm
func (w *Wheel) Position() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// Current returns the DC bus current in A
func (w *Wheel) Current() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OutputEnabled reports whether the power stage is switching
func (w *Wheel) OutputEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Steps returns the number of control cycles simulated
func (w *Wheel) Steps() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.steps
}

// SetLoad applies a constant deceleration against forward motion, such as
// a slope
func (w *Wheel) SetLoad(accel float64) {
	w.mu.Lock()
	w.load = accel
	w.mu.Unlock()
}

// Push sets the wheel speed directly, as if moved by hand
func (w *Wheel) Push(velocity float64) {
	w.mu.Lock()
	w.velocity = velocity
	w.mu.Unlock()
}

// SetBatteryVolts changes the supply voltage
func (w *Wheel) SetBatteryVolts(volts float64) {
	w.mu.Lock()
	w.cfg.BatteryVolts = volts
	w.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
