// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the hubdrive YAML configuration.
//
// Values start from DefaultConfig, are replaced by whatever the file sets
// and are finally overridden by HUBDRIVE_* environment variables. The file
// is read once at start; nothing is written back while running.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/sim"
	"github.com/Thermoquad/hubdrive/pkg/wheel"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "HUBDRIVE_"

// Config holds all hubdrive configuration
type Config struct {
	Motor     MotorConfig     `yaml:"motor"`
	Link      LinkConfig      `yaml:"link"`
	Sim       SimConfig       `yaml:"sim"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Board     BoardConfig     `yaml:"board"`

	path string
}

// MotorConfig is the per-wheel motor core configuration
type MotorConfig struct {
	Profile          string      `yaml:"profile"` // "hugs" or "gigadevice"
	PWMFrequency     uint32      `yaml:"pwm_frequency"`
	TimerClock       uint32      `yaml:"timer_clock"`
	PWMFilterShift   uint8       `yaml:"pwm_filter_shift"`
	SpeedFilterShift uint8       `yaml:"speed_filter_shift"`
	SpeedMode        string      `yaml:"speed_mode"` // "pf", "step" or "dual"
	MaxStepSpeed     uint16      `yaml:"max_step_speed"`
	CurrentLimitMA   uint16      `yaml:"current_limit_ma"`
	StepperMagnitude int16       `yaml:"stepper_magnitude"`
	HallFaultCycles  uint32      `yaml:"hall_fault_cycles"`
	Gains            GainsConfig `yaml:"gains"`
}

// GainsConfig holds the PIDF gains as real numbers
type GainsConfig struct {
	KF     float64 `yaml:"kf"`
	KFO    float64 `yaml:"kfo"`
	KP     float64 `yaml:"kp"`
	KI     float64 `yaml:"ki"`
	ILimit float64 `yaml:"ilimit"`
}

// LinkConfig is the HUGS command link
type LinkConfig struct {
	Port       string `yaml:"port"`
	Baud       int    `yaml:"baud"`
	Listen     string `yaml:"listen"` // WebSocket listen address
	WatchdogMS uint16 `yaml:"watchdog_ms"`
	CheckCRC   bool   `yaml:"check_crc"`
	ReplyQueue int    `yaml:"reply_queue"`
}

// SimConfig is the simulated wheel
type SimConfig struct {
	BatteryVolts     float64 `yaml:"battery_volts"`
	VelocityConstant float64 `yaml:"velocity_constant"`
	TimeConstant     float64 `yaml:"time_constant"`
	PhaseResistance  float64 `yaml:"phase_resistance"`
	Friction         float64 `yaml:"friction"`
	HallGlitchRate   float64 `yaml:"hall_glitch_rate"`
	Seed             int64   `yaml:"seed"`
}

// TelemetryConfig selects where wheel snapshots go
type TelemetryConfig struct {
	IntervalMS int        `yaml:"interval_ms"`
	RecordPath string     `yaml:"record_path"`
	MQTT       MQTTConfig `yaml:"mqtt"`
	AMQP       AMQPConfig `yaml:"amqp"`
}

// MQTTConfig is the MQTT publisher. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"` // defaults to the machine id
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// AMQPConfig is the AMQP fanout publisher. An empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// BoardConfig names the GPIO lines of a Linux board
type BoardConfig struct {
	Chip      string `yaml:"chip"`
	HallLines []int  `yaml:"hall_lines"` // a, b, c
}

// DefaultConfig returns the hub motor defaults
func DefaultConfig() *Config {
	motor := bldc.DefaultConfig()
	plant := sim.DefaultConfig(motor)
	return &Config{
		Motor: MotorConfig{
			Profile:          motor.Profile.Name,
			PWMFrequency:     motor.PWMFrequency,
			TimerClock:       motor.TimerClock,
			PWMFilterShift:   motor.PWMFilterShift,
			SpeedFilterShift: motor.SpeedFilterShift,
			SpeedMode:        "dual",
			MaxStepSpeed:     motor.MaxStepSpeed,
			CurrentLimitMA:   motor.CurrentLimitMA,
			StepperMagnitude: motor.StepperMagnitude,
			HallFaultCycles:  motor.HallFaultCycles,
			Gains: GainsConfig{
				KF:     0.16,
				KFO:    28.0,
				KP:     0.2,
				KI:     0.00005,
				ILimit: 150,
			},
		},
		Link: LinkConfig{
			Baud:       115200,
			WatchdogMS: wheel.DefaultWatchdogMS,
			CheckCRC:   true,
			ReplyQueue: wheel.DefaultReplyQueue,
		},
		Sim: SimConfig{
			BatteryVolts:     plant.BatteryVolts,
			VelocityConstant: plant.VelocityConstant,
			TimeConstant:     plant.TimeConstant,
			PhaseResistance:  plant.PhaseResistance,
			Friction:         plant.Friction,
		},
		Telemetry: TelemetryConfig{
			IntervalMS: 100,
			MQTT: MQTTConfig{
				Topic: "hubdrive/wheel",
			},
			AMQP: AMQPConfig{
				Exchange: "hubdrive.telemetry",
			},
		},
		Board: BoardConfig{
			Chip:      "gpiochip0",
			HallLines: []int{17, 27, 22},
		},
	}
}

// Load reads path, then applies environment overrides. A missing file
// yields the defaults; an unreadable or malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			glog.Infof("[config] no config at %s, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			glog.Infof("[config] loaded from %s", path)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// applyEnvOverrides reads HUBDRIVE_* variables. Numeric variables that do
// not parse are an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []string
	unsigned := func(name string, bits int, set func(uint64)) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		n, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			errs = append(errs, EnvPrefix+name)
			return
		}
		set(n)
	}
	float := func(name string, dst *float64) {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, EnvPrefix+name)
			return
		}
		*dst = n
	}

	str("PROFILE", &c.Motor.Profile)
	str("SPEED_MODE", &c.Motor.SpeedMode)
	unsigned("MAX_STEP_SPEED", 16, func(n uint64) { c.Motor.MaxStepSpeed = uint16(n) })
	unsigned("CURRENT_LIMIT_MA", 16, func(n uint64) { c.Motor.CurrentLimitMA = uint16(n) })
	float("KF", &c.Motor.Gains.KF)
	float("KFO", &c.Motor.Gains.KFO)
	float("KP", &c.Motor.Gains.KP)
	float("KI", &c.Motor.Gains.KI)

	str("PORT", &c.Link.Port)
	unsigned("BAUD", 32, func(n uint64) { c.Link.Baud = int(n) })
	str("LISTEN", &c.Link.Listen)
	unsigned("WATCHDOG_MS", 16, func(n uint64) { c.Link.WatchdogMS = uint16(n) })
	if v := os.Getenv(EnvPrefix + "CHECK_CRC"); v != "" {
		c.Link.CheckCRC = v == "1" || v == "true" || v == "yes"
	}

	float("BATTERY_VOLTS", &c.Sim.BatteryVolts)

	str("RECORD", &c.Telemetry.RecordPath)
	str("MQTT_BROKER", &c.Telemetry.MQTT.Broker)
	str("MQTT_TOPIC", &c.Telemetry.MQTT.Topic)
	str("MQTT_CLIENT_ID", &c.Telemetry.MQTT.ClientID)
	str("MQTT_USERNAME", &c.Telemetry.MQTT.Username)
	str("MQTT_PASSWORD", &c.Telemetry.MQTT.Password)
	str("AMQP_URL", &c.Telemetry.AMQP.URL)
	str("AMQP_EXCHANGE", &c.Telemetry.AMQP.Exchange)

	str("GPIO_CHIP", &c.Board.Chip)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, ", "))
	}
	return nil
}

// Validate checks that every section builds
func (c *Config) Validate() error {
	motor, err := c.MotorConfig()
	if err != nil {
		return err
	}
	if err := c.SimConfig(motor).Validate(); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	if c.Link.Baud <= 0 {
		return fmt.Errorf("link: baud rate %d must be positive", c.Link.Baud)
	}
	if c.Telemetry.IntervalMS <= 0 {
		return fmt.Errorf("telemetry: interval %d ms must be positive", c.Telemetry.IntervalMS)
	}
	if c.Telemetry.MQTT.QoS > 2 {
		return fmt.Errorf("telemetry: MQTT QoS %d out of range 0..2", c.Telemetry.MQTT.QoS)
	}
	if len(c.Board.HallLines) != 3 {
		return fmt.Errorf("board: need 3 Hall lines, got %d", len(c.Board.HallLines))
	}
	return nil
}

// MotorConfig builds the motor core configuration
func (c *Config) MotorConfig() (bldc.Config, error) {
	m := c.Motor
	profile, err := bldc.ProfileByName(m.Profile)
	if err != nil {
		return bldc.Config{}, fmt.Errorf("motor: %w", err)
	}
	mode, ok := bldc.ParseSpeedMode(m.SpeedMode)
	if !ok {
		return bldc.Config{}, fmt.Errorf("motor: unknown speed mode %q", m.SpeedMode)
	}
	if m.Gains.ILimit < 0 {
		return bldc.Config{}, errors.New("motor: integral limit must not be negative")
	}

	cfg := bldc.Config{
		Profile:          profile,
		PWMFrequency:     m.PWMFrequency,
		TimerClock:       m.TimerClock,
		PWMFilterShift:   m.PWMFilterShift,
		SpeedFilterShift: m.SpeedFilterShift,
		SpeedMode:        mode,
		MaxStepSpeed:     m.MaxStepSpeed,
		CurrentLimitMA:   m.CurrentLimitMA,
		Gains:            bldc.GainsFromFloat(m.Gains.KF, m.Gains.KFO, m.Gains.KP, m.Gains.KI, m.Gains.ILimit),
		StepperMagnitude: m.StepperMagnitude,
		HallFaultCycles:  m.HallFaultCycles,
	}
	if err := cfg.Validate(); err != nil {
		return bldc.Config{}, fmt.Errorf("motor: %w", err)
	}
	return cfg, nil
}

// WheelConfig builds the controller configuration
func (c *Config) WheelConfig() (wheel.Config, error) {
	motor, err := c.MotorConfig()
	if err != nil {
		return wheel.Config{}, err
	}
	return wheel.Config{
		Motor:      motor,
		WatchdogMS: c.Link.WatchdogMS,
		CheckCRC:   c.Link.CheckCRC,
		ReplyQueue: c.Link.ReplyQueue,
	}, nil
}

// SimConfig builds the simulated wheel configuration matched to motor
func (c *Config) SimConfig(motor bldc.Config) sim.Config {
	cfg := sim.DefaultConfig(motor)
	cfg.BatteryVolts = c.Sim.BatteryVolts
	cfg.VelocityConstant = c.Sim.VelocityConstant
	cfg.TimeConstant = c.Sim.TimeConstant
	cfg.PhaseResistance = c.Sim.PhaseResistance
	cfg.Friction = c.Sim.Friction
	cfg.HallGlitchRate = c.Sim.HallGlitchRate
	cfg.Seed = c.Sim.Seed
	return cfg
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
