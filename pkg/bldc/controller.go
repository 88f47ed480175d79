// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import (
	"errors"
	"fmt"
)

// Config holds the per-deployment parameters of one wheel
type Config struct {
	Profile          *Profile
	PWMFrequency     uint32 // Hz, center aligned
	TimerClock       uint32 // Hz
	PWMFilterShift   uint8
	SpeedFilterShift uint8
	SpeedMode        SpeedMode
	MaxStepSpeed     uint16 // mm/s, DUAL mode stepper threshold
	CurrentLimitMA   uint16
	Gains            Gains
	StepperMagnitude int16 // 0..1000
	HallFaultCycles  uint32
}

// DefaultConfig returns the hub motor defaults
func DefaultConfig() Config {
	return Config{
		Profile:          ProfileHUGS,
		PWMFrequency:     DefaultPWMFrequency,
		TimerClock:       DefaultTimerClock,
		PWMFilterShift:   DefaultPWMFilterShift,
		SpeedFilterShift: DefaultSpeedFilterShift,
		SpeedMode:        SpeedModeDual,
		MaxStepSpeed:     DefaultMaxStepSpeed,
		CurrentLimitMA:   DefaultCurrentLimitMA,
		Gains:            DefaultGains,
		StepperMagnitude: DefaultStepperMagnitude,
		HallFaultCycles:  DefaultHallFaultCycles,
	}
}

// PWMResolution returns the timer period in counts
func (c Config) PWMResolution() uint16 {
	if c.PWMFrequency == 0 {
		return 0
	}
	return uint16(c.TimerClock / 2 / c.PWMFrequency)
}

// PWMCycleRate returns the control cycles per second. The cycle runs at
// both ends of the center aligned PWM period.
func (c Config) PWMCycleRate() uint32 {
	return 2 * c.PWMFrequency
}

// Validate checks the configuration for values the control cycle cannot run with
func (c Config) Validate() error {
	if c.Profile == nil {
		return errors.New("commutation profile is required")
	}
	if c.PWMFrequency == 0 {
		return errors.New("PWM frequency must be positive")
	}
	if res := uint32(c.TimerClock) / 2 / c.PWMFrequency; res <= 2*pulseMargin || res > 0xFFFF {
		return fmt.Errorf("PWM resolution %d out of range", res)
	}
	if c.PWMFilterShift == 0 || c.PWMFilterShift > 16 {
		return fmt.Errorf("PWM filter shift %d out of range 1..16", c.PWMFilterShift)
	}
	if c.SpeedFilterShift == 0 || c.SpeedFilterShift > 16 {
		return fmt.Errorf("speed filter shift %d out of range 1..16", c.SpeedFilterShift)
	}
	if c.SpeedMode > SpeedModeDual {
		return fmt.Errorf("invalid speed mode %d", c.SpeedMode)
	}
	if c.StepperMagnitude < 0 || c.StepperMagnitude > MaxPWM {
		return fmt.Errorf("stepper magnitude %d out of range 0..%d", c.StepperMagnitude, MaxPWM)
	}
	if c.Gains.ILimit < 0 {
		return errors.New("integral limit must not be negative")
	}
	return nil
}

// Motor is the speed controller and commutation state of one wheel.
//
// Motor is not safe for concurrent use. The caller serializes the control
// cycle, the 1 kHz update and the command setters.
type Motor struct {
	cfg        Config
	resolution uint16
	sink       PhaseSink

	hall    *HallDecoder
	speed   *SpeedEstimator
	current *CurrentLimiter
	pid     PIDF
	pwm     LowPass

	// Commands
	inputPWM   int16
	enabled    bool
	timedOut   bool
	closedLoop bool
	setpoint   int32
	speedDir   int8
	speedMode  SpeedMode
	maxStep    uint16

	// Stepper
	stepper       bool
	phaseRestart  bool
	stepperPeriod int32
	stepperTicks  int32
	angle         PhaseAngle

	// Outputs of the last cycle
	mode          ControlMode
	filteredPWM   int16
	outputEnabled bool
	phases        [3]int16
	pulses        [3]uint16
}

// NewMotor creates a motor driving sink. A nil sink discards the output.
func NewMotor(cfg Config, sink PhaseSink) (*Motor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid motor config: %w", err)
	}
	if sink == nil {
		sink = &PulseRecorder{}
	}
	return &Motor{
		cfg:        cfg,
		resolution: cfg.PWMResolution(),
		sink:       sink,
		hall:       NewHallDecoder(cfg.Profile, cfg.HallFaultCycles),
		speed:      NewSpeedEstimator(cfg.SpeedFilterShift),
		current:    NewCurrentLimiter(cfg.CurrentLimitMA),
		pid:        NewPIDF(cfg.Gains),
		pwm:        NewLowPass(cfg.PWMFilterShift),
		speedMode:  cfg.SpeedMode,
		maxStep:    cfg.MaxStepSpeed,
		angle:      NewPhaseAngle(),
	}, nil
}

// Cycle runs one control period: current gate, Hall decode, speed count,
// mode logic, waveform synthesis and the phase writes.
func (m *Motor) Cycle(hallCode uint8, sample ADCSample) {
	if !m.current.Step(sample) {
		m.outputEnabled = false
		m.sink.SetOutputEnabled(false)
		return
	}

	m.outputEnabled = m.current.Allow(m.enabled, m.timedOut)
	m.sink.SetOutputEnabled(m.outputEnabled)

	transition := m.hall.Update(hallCode)
	m.speed.Count(transition)

	if transition && m.phaseRestart {
		m.phaseRestart = false
		m.stepper = true
		m.angle.Set(SectorTransitionAngle(m.hall.Index(), m.speedDir))
	}

	var y, b, g int16
	sector := m.hall.Sector()

	if m.closedLoop {
		if m.setpoint == 0 {
			m.SetPWM(0)
			m.pid.Idle()
		} else {
			m.SetPWM(m.pid.Run(m.setpoint, int32(m.speed.Speed()), m.speedDir))
		}
		m.filteredPWM = int16(m.pwm.Update(int32(m.inputPWM)))

		switch {
		case m.setpoint == 0:
			m.mode = ModeIdle
			y, b, g = m.cfg.Profile.BlockCommutate(m.filteredPWM, sector)
		case m.stepper:
			m.mode = ModeStepper
			m.stepperTicks++
			if m.stepperTicks >= m.stepperPeriod {
				m.angle.Advance(m.speedDir)
				m.stepperTicks = 0
			}
			y, b, g = m.angle.Commutate(m.cfg.StepperMagnitude)
		default:
			m.mode = ModeRunning
			y, b, g = m.cfg.Profile.BlockCommutate(m.filteredPWM, sector)
		}
	} else {
		// Zero power after SetPower(0) stays idle
		if m.inputPWM != 0 || m.mode != ModeIdle {
			m.mode = ModeOpenLoop
		}
		m.filteredPWM = int16(m.pwm.Update(int32(m.inputPWM)))
		y, b, g = m.cfg.Profile.BlockCommutate(m.filteredPWM, sector)
	}

	m.phases = [3]int16{y, b, g}
	m.pulses[ChannelG] = PulseWidth(g, m.resolution)
	m.pulses[ChannelB] = PulseWidth(b, m.resolution)
	m.pulses[ChannelY] = PulseWidth(y, m.resolution)
	m.sink.SetPhasePulse(ChannelG, m.pulses[ChannelG])
	m.sink.SetPhasePulse(ChannelB, m.pulses[ChannelB])
	m.sink.SetPhasePulse(ChannelY, m.pulses[ChannelY])
}

// UpdateSpeed runs the 1 kHz speed filter and returns the filtered speed
func (m *Motor) UpdateSpeed() int16 {
	return m.speed.Filter(m.hall.Direction())
}

// SetSpeed enters closed loop speed control at mm/s
func (m *Motor) SetSpeed(speed int16) {
	m.closedLoop = true
	m.setpoint = clamp32(int32(speed), -MaxSpeed, MaxSpeed)

	switch {
	case m.setpoint > 0:
		m.speedDir = 1
	case m.setpoint < 0:
		m.speedDir = -1
	default:
		m.speedDir = 0
		m.mode = ModeIdle
		m.stepper = false
		m.phaseRestart = false
		return
	}

	if !m.wantStepper() {
		m.stepper = false
		m.phaseRestart = false
		return
	}

	// Slowing down out of RUNNING waits for the next Hall edge so the
	// stepper starts in phase with the rotor.
	if m.mode == ModeRunning {
		m.phaseRestart = true
	} else {
		m.stepper = true
	}
	m.stepperPeriod = SineTicksFactor / abs32(m.setpoint)
}

func (m *Motor) wantStepper() bool {
	switch m.speedMode {
	case SpeedModeStep:
		return true
	case SpeedModeDual:
		return abs32(m.setpoint) <= int32(m.maxStep)
	default:
		return false
	}
}

// SetPower enters open loop at power -1000..1000
func (m *Motor) SetPower(power int16) {
	m.closedLoop = false
	m.stepper = false
	m.phaseRestart = false
	m.setpoint = 0
	m.speedDir = 0
	m.pid.Idle()
	if power == 0 {
		m.mode = ModeIdle
	}
	m.SetPWM(power)
}

// SetPWM sets the raw PWM input, clamped to -1000..1000
func (m *Motor) SetPWM(pwm int16) {
	m.inputPWM = int16(clamp32(int32(pwm), -MaxPWM, MaxPWM))
}

// SetEnable sets the enable flag. Disabling leaves closed loop control.
func (m *Motor) SetEnable(enable bool) {
	if !m.enabled || !enable {
		m.closedLoop = false
	}
	m.enabled = enable
}

// SetTimedOut sets the communication timeout gate
func (m *Motor) SetTimedOut(timedOut bool) {
	m.timedOut = timedOut
}

// SetSpeedMode changes the closed loop speed mode and stepper threshold.
// The current setpoint is re-applied so the change takes effect at once.
func (m *Motor) SetSpeedMode(mode SpeedMode, maxStepSpeed uint16) error {
	if mode > SpeedModeDual {
		return fmt.Errorf("invalid speed mode %d", mode)
	}
	m.speedMode = mode
	m.maxStep = maxStepSpeed
	if m.closedLoop {
		m.SetSpeed(int16(m.setpoint))
	}
	return nil
}

// ResetOdometry zeroes the cycle counter
func (m *Motor) ResetOdometry() {
	m.hall.ResetCycles()
}

// PWM returns the filtered PWM output
func (m *Motor) PWM() int16 { return m.filteredPWM }

// InputPWM returns the unfiltered PWM input
func (m *Motor) InputPWM() int16 { return m.inputPWM }

// Speed returns the filtered wheel speed in mm/s
func (m *Motor) Speed() int16 { return m.speed.Speed() }

// Position returns the travelled distance in mm
func (m *Motor) Position() int32 {
	return int32(float32(m.hall.Cycles()) * MMPerCycle)
}

// Cycles returns the signed Hall transition count
func (m *Motor) Cycles() int32 { return m.hall.Cycles() }

// Mode returns the control mode of the last cycle
func (m *Motor) Mode() ControlMode { return m.mode }

// SpeedMode returns the closed loop speed mode
func (m *Motor) SpeedMode() SpeedMode { return m.speedMode }

// MaxStepSpeed returns the DUAL mode stepper threshold
func (m *Motor) MaxStepSpeed() uint16 { return m.maxStep }

// Setpoint returns the speed setpoint in mm/s
func (m *Motor) Setpoint() int32 { return m.setpoint }

// Direction returns the commanded direction
func (m *Motor) Direction() int8 { return m.speedDir }

// MeasuredDirection returns the Hall measured direction
func (m *Motor) MeasuredDirection() int8 { return m.hall.Direction() }

// Enabled returns the enable flag
func (m *Motor) Enabled() bool { return m.enabled }

// ClosedLoop reports closed loop speed control
func (m *Motor) ClosedLoop() bool { return m.closedLoop }

// Stepper reports that the stepper drives the phases
func (m *Motor) Stepper() bool { return m.stepper }

// PhaseRestartPending reports a stepper entry waiting for a Hall edge
func (m *Motor) PhaseRestartPending() bool { return m.phaseRestart }

// StepperPeriod returns the control cycles per stepper degree
func (m *Motor) StepperPeriod() int32 { return m.stepperPeriod }

// TimedOut returns the communication timeout gate
func (m *Motor) TimedOut() bool { return m.timedOut }

// OutputEnabled reports whether the last cycle switched the power stage on
func (m *Motor) OutputEnabled() bool { return m.outputEnabled }

// Calibrated reports the end of the current offset calibration
func (m *Motor) Calibrated() bool { return m.current.Calibrated() }

// PIDTerms returns the feed forward, proportional and integral outputs
func (m *Motor) PIDTerms() (f, p, i int16) { return m.pid.Terms() }

// Integral returns the scaled PIDF integral register
func (m *Motor) Integral() int32 { return m.pid.Integral() }

// BatteryMV returns the filtered battery voltage
func (m *Motor) BatteryMV() uint16 { return m.current.BatteryMV() }

// CurrentMA returns the filtered DC current
func (m *Motor) CurrentMA() uint16 { return m.current.CurrentMA() }

// Overcurrent reports a tripped current limit
func (m *Motor) Overcurrent() bool { return m.current.Overcurrent() }

// HallFault reports a sustained run of invalid Hall codes
func (m *Motor) HallFault() bool { return m.hall.Fault() }

// Sector returns the last valid Hall sector
func (m *Motor) Sector() uint8 { return m.hall.Sector() }

// Phases returns the signed Y, B, G drive values of the last cycle
func (m *Motor) Phases() (y, b, g int16) { return m.phases[0], m.phases[1], m.phases[2] }

// Pulses returns the Y, B, G compare values of the last cycle
func (m *Motor) Pulses() [3]uint16 { return m.pulses }

// Angle returns the stepper phase angles
func (m *Motor) Angle() PhaseAngle { return m.angle }

// Config returns the motor configuration
func (m *Motor) Config() Config { return m.cfg }
