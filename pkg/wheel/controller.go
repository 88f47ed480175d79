// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wheel ties the motor core to the HUGS command link.
//
// A Controller owns one bldc.Motor and the frame decoder feeding it. The
// firmware runs three contexts against that state: the PWM interrupt, the
// UART byte interrupt and a 1 ms timer. Controller exposes one method per
// context and serializes them with a single mutex held only for the
// duration of one logical update.
package wheel

import (
	"fmt"
	"sync"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

// Defaults
const (
	DefaultWatchdogMS = 2000
	DefaultReplyQueue = 16
)

// Config holds the controller settings
type Config struct {
	Motor      bldc.Config
	WatchdogMS uint16 // 0 disables the watchdog
	CheckCRC   bool
	ReplyQueue int
}

// DefaultConfig returns the firmware defaults
func DefaultConfig() Config {
	return Config{
		Motor:      bldc.DefaultConfig(),
		WatchdogMS: DefaultWatchdogMS,
		CheckCRC:   true,
		ReplyQueue: DefaultReplyQueue,
	}
}

// Counters are the link statistics of a controller
type Counters struct {
	Frames         uint64
	DecodeErrors   uint64 // frames rejected by the decoder
	Replies        uint64
	DroppedReplies uint64
	WatchdogTrips  uint64
	RejectedValues uint64
}

// Controller is one wheel: motor state, command link and watchdog
type Controller struct {
	mu sync.Mutex

	motor   *bldc.Motor
	decoder *hugs.Decoder
	encoder *hugs.Encoder
	hall    bldc.HallSensor
	adc     bldc.ADC

	watchdogMS uint16
	sinceFrame uint32
	estop      bool

	replies  chan []byte
	counters Counters
}

// NewController creates a controller reading hall and adc and driving sink
func NewController(cfg Config, hall bldc.HallSensor, adc bldc.ADC, sink bldc.PhaseSink) (*Controller, error) {
	if hall == nil || adc == nil {
		return nil, fmt.Errorf("hall sensor and ADC are required")
	}
	motor, err := bldc.NewMotor(cfg.Motor, sink)
	if err != nil {
		return nil, err
	}

	queue := cfg.ReplyQueue
	if queue <= 0 {
		queue = DefaultReplyQueue
	}

	decoder := hugs.NewDecoder()
	decoder.SetCRCCheck(cfg.CheckCRC)

	return &Controller{
		motor:      motor,
		decoder:    decoder,
		encoder:    hugs.NewEncoder(cfg.CheckCRC),
		hall:       hall,
		adc:        adc,
		watchdogMS: cfg.WatchdogMS,
		replies:    make(chan []byte, queue),
	}, nil
}

// Cycle runs one control period. It is the PWM interrupt context.
func (c *Controller) Cycle() {
	code := c.hall.ReadHall()
	sample := c.adc.Sample()

	c.mu.Lock()
	c.motor.Cycle(code, sample)
	c.mu.Unlock()
}

// ReceiveByte feeds one received byte to the decoder and dispatches a
// completed frame. It is the byte interrupt context. The decoded frame is
// returned for logging.
func (c *Controller) ReceiveByte(b byte) (*hugs.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.decoder.DecodeByte(b)
	if f != nil {
		c.dispatch(f)
	}
	return f, err
}

// Receive feeds a chunk of received bytes and returns the frames it completed
func (c *Controller) Receive(data []byte) []*hugs.Frame {
	var frames []*hugs.Frame
	for _, b := range data {
		if f, _ := c.ReceiveByte(b); f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

// Tick1ms runs the watchdog and the speed filter. It is the 1 kHz timer
// context.
func (c *Controller) Tick1ms() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watchdogMS > 0 && !c.motor.TimedOut() {
		c.sinceFrame++
		if c.sinceFrame >= uint32(c.watchdogMS) {
			c.motor.SetPower(0)
			c.motor.SetTimedOut(true)
			c.counters.WatchdogTrips++
		}
	}
	c.motor.UpdateSpeed()
}

// Replies returns the queue of encoded reply frames waiting to be sent
func (c *Controller) Replies() <-chan []byte {
	return c.replies
}

// Estopped reports the estop latch. It stays raised until the next ENA.
func (c *Controller) Estopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estop
}

// Counters returns a copy of the link statistics
func (c *Controller) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := c.counters
	counters.DecodeErrors = c.decoder.Rejected()
	return counters
}

// Resyncs returns how often the decoder realigned on a later start byte
func (c *Controller) Resyncs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decoder.Resyncs()
}

// WatchdogMS returns the current watchdog interval
func (c *Controller) WatchdogMS() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchdogMS
}

// State returns a consistent snapshot of the wheel
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

// Do runs fn with exclusive access to the motor. Use it for setters that
// have no HUGS command, from tools and tests.
func (c *Controller) Do(fn func(m *bldc.Motor)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.motor)
}

func (c *Controller) state() State {
	m := c.motor
	f, p, i := m.PIDTerms()
	return State{
		Mode:          m.Mode(),
		SpeedMode:     m.SpeedMode(),
		StepThreshold: m.MaxStepSpeed(),
		Enabled:       m.Enabled(),
		OutputEnabled: m.OutputEnabled(),
		ClosedLoop:    m.ClosedLoop(),
		Stepper:       m.Stepper(),
		TimedOut:      m.TimedOut(),
		Overcurrent:   m.Overcurrent(),
		HallFault:     m.HallFault(),
		Estop:         c.estop,
		Setpoint:      int16(m.Setpoint()),
		InputPWM:      m.InputPWM(),
		PWM:           m.PWM(),
		Speed:         m.Speed(),
		Position:      m.Position(),
		Cycles:        m.Cycles(),
		Sector:        m.Sector(),
		BatteryMV:     m.BatteryMV(),
		CurrentMA:     m.CurrentMA(),
		WatchdogMS:    c.watchdogMS,
		FeedForward:   f,
		Proportional:  p,
		Integral:      i,
	}
}
