// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wheel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

// testHall is a Hall sensor held at one sector at a time
type testHall struct {
	index int
}

func (h *testHall) ReadHall() uint8 {
	return bldc.ProfileHUGS.Code(h.index)
}

type testADC struct{}

func (testADC) Sample() bldc.ADCSample {
	return bldc.ADCSample{BatteryRaw: 1655, CurrentRaw: 2000}
}

func newTestController(t *testing.T, mutate func(*Config)) (*Controller, *testHall, *bldc.PulseRecorder) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	hall := &testHall{}
	sink := &bldc.PulseRecorder{}
	c, err := NewController(cfg, hall, testADC{}, sink)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		c.Cycle()
	}
	return c, hall, sink
}

// send encodes f and feeds it to the controller byte by byte
func send(t *testing.T, c *Controller, f *hugs.Frame) {
	t.Helper()
	frames := c.Receive(hugs.MustEncodeFrame(f))
	require.Len(t, frames, 1)
}

// nextReply decodes the next queued reply
func nextReply(t *testing.T, c *Controller) *hugs.Frame {
	t.Helper()
	select {
	case data := <-c.Replies():
		d := hugs.NewDecoder()
		for _, b := range data {
			f, err := d.DecodeByte(b)
			require.NoError(t, err)
			if f != nil {
				return f
			}
		}
		t.Fatalf("incomplete reply % X", data)
	default:
		t.Fatal("no reply queued")
	}
	return nil
}

func noReply(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case data := <-c.Replies():
		t.Fatalf("unexpected reply % X", data)
	default:
	}
}

func header(rsp uint8) hugs.Header {
	return hugs.Header{Sequence: 5, Destination: 1, Response: rsp}
}

func TestNewControllerRequiresInputs(t *testing.T) {
	_, err := NewController(DefaultConfig(), nil, testADC{}, nil)
	assert.Error(t, err)
	_, err = NewController(DefaultConfig(), &testHall{}, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Motor.PWMFrequency = 0
	_, err = NewController(cfg, &testHall{}, testADC{}, nil)
	assert.Error(t, err)
}

// ============================================================================
// Commands
// ============================================================================

func TestControllerEnableScenario(t *testing.T) {
	c, _, _ := newTestController(t, nil)

	send(t, c, hugs.NewEnable(header(hugs.RspSSPE)))
	assert.True(t, c.State().Enabled)

	f := nextReply(t, c)
	assert.Equal(t, uint8(5), f.Sequence())
	assert.Equal(t, uint8(1), f.Destination())
	assert.Equal(t, uint8(hugs.CmdRSP), f.Command())
	assert.Equal(t, uint8(hugs.RspSSPE), f.Response())

	r, err := hugs.ParseReply(f)
	require.NoError(t, err)
	assert.Equal(t, int16(0), r.Speed)

	counters := c.Counters()
	assert.Equal(t, uint64(1), counters.Frames)
	assert.Equal(t, uint64(1), counters.Replies)
}

func TestControllerNoReplyRequested(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	send(t, c, hugs.NewEnable(header(hugs.RspNOR)))
	noReply(t, c)
}

func TestControllerPowerAndSpeed(t *testing.T) {
	c, _, sink := newTestController(t, nil)
	send(t, c, hugs.NewEnable(header(hugs.RspNOR)))

	send(t, c, hugs.NewPower(header(hugs.RspNOR), 300))
	s := c.State()
	assert.Equal(t, int16(300), s.InputPWM)
	assert.False(t, s.ClosedLoop)

	c.Cycle()
	assert.True(t, sink.Enabled)
	assert.Equal(t, bldc.ModeOpenLoop, c.State().Mode)

	send(t, c, hugs.NewSpeed(header(hugs.RspNOR), 1000))
	s = c.State()
	assert.True(t, s.ClosedLoop)
	assert.Equal(t, int16(1000), s.Setpoint)

	send(t, c, hugs.NewDisable(header(hugs.RspNOR)))
	c.Cycle()
	s = c.State()
	assert.False(t, s.Enabled)
	assert.False(t, s.ClosedLoop)
	assert.False(t, sink.Enabled)
}

func TestControllerShortPayloadRejected(t *testing.T) {
	c, _, _ := newTestController(t, nil)

	c.Receive(hugs.MustEncodeFrame(hugs.NewFrame(0, 0, hugs.CmdPOW, hugs.RspNOR, []byte{0x10})))
	c.Receive(hugs.MustEncodeFrame(hugs.NewFrame(0, 0, hugs.CmdMOD, hugs.RspNOR, []byte{2})))

	assert.Equal(t, int16(0), c.State().InputPWM)
	assert.Equal(t, uint64(2), c.Counters().RejectedValues)
	assert.Equal(t, uint64(2), c.Counters().Frames)
}

func TestControllerEstopLatch(t *testing.T) {
	c, _, sink := newTestController(t, nil)
	send(t, c, hugs.NewEnable(header(hugs.RspNOR)))
	send(t, c, hugs.NewPower(header(hugs.RspNOR), 500))
	c.Cycle()
	require.True(t, sink.Enabled)

	send(t, c, hugs.NewEstop(header(hugs.RspSMOT)))
	assert.True(t, c.Estopped())

	f := nextReply(t, c)
	assert.Equal(t, uint8(hugs.RspSTOP), f.Response())
	assert.Empty(t, f.Payload())

	c.Cycle()
	s := c.State()
	assert.False(t, sink.Enabled)
	assert.False(t, s.Enabled)
	assert.Equal(t, int16(0), s.InputPWM)
	assert.NotZero(t, s.StatusBits()&hugs.StatusEstop)

	// Power and speed are ignored while latched, every reply is STOP
	send(t, c, hugs.NewPower(header(hugs.RspSPOW), 500))
	send(t, c, hugs.NewSpeed(header(hugs.RspNOR), 800))
	assert.Equal(t, int16(0), c.State().InputPWM)
	assert.False(t, c.State().ClosedLoop)
	assert.Equal(t, uint8(hugs.RspSTOP), nextReply(t, c).Response())

	send(t, c, hugs.NewEnable(header(hugs.RspSMOT)))
	assert.False(t, c.Estopped())
	f = nextReply(t, c)
	require.Equal(t, uint8(hugs.RspSMOT), f.Response())
	r, err := hugs.ParseReply(f)
	require.NoError(t, err)
	assert.Zero(t, r.Status&hugs.StatusEstop)
	assert.NotZero(t, r.Status&hugs.StatusEnabled)

	send(t, c, hugs.NewPower(header(hugs.RspNOR), 500))
	assert.Equal(t, int16(500), c.State().InputPWM)
}

func TestControllerSpeedMode(t *testing.T) {
	c, _, _ := newTestController(t, nil)

	send(t, c, hugs.NewSpeedMode(header(hugs.RspSMOD), uint8(bldc.SpeedModeStep), 300))
	s := c.State()
	assert.Equal(t, bldc.SpeedModeStep, s.SpeedMode)
	assert.Equal(t, uint16(300), s.StepThreshold)

	r, err := hugs.ParseReply(nextReply(t, c))
	require.NoError(t, err)
	assert.Equal(t, uint8(bldc.SpeedModeStep), r.SpeedMode)
	assert.Equal(t, uint16(300), r.StepperThreshold)

	send(t, c, hugs.NewSpeedMode(header(hugs.RspNOR), 9, 100))
	assert.Equal(t, bldc.SpeedModeStep, c.State().SpeedMode)
	assert.Equal(t, uint64(1), c.Counters().RejectedValues)
}

func TestControllerResetOdometry(t *testing.T) {
	c, hall, _ := newTestController(t, nil)
	c.Cycle()
	for i := 0; i < 3; i++ {
		hall.index++
		for n := 0; n < 10; n++ {
			c.Cycle()
		}
	}
	s := c.State()
	require.Equal(t, int32(3), s.Cycles)
	assert.Equal(t, int32(17), s.Position)

	send(t, c, hugs.NewResetOdometry(header(hugs.RspSPOS)))
	r, err := hugs.ParseReply(nextReply(t, c))
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.Position)
	assert.Equal(t, int32(0), c.State().Cycles)
}

func TestControllerStatusBits(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	send(t, c, hugs.NewEnable(header(hugs.RspNOR)))
	send(t, c, hugs.NewSpeed(header(hugs.RspNOR), 100))
	c.Cycle()

	send(t, c, hugs.NewNOP(header(hugs.RspSMOT)))
	r, err := hugs.ParseReply(nextReply(t, c))
	require.NoError(t, err)
	assert.Equal(t, uint8(hugs.StatusEnabled|hugs.StatusOutput|hugs.StatusClosedLoop|hugs.StatusStepper), r.Status)
	assert.Equal(t, "ENABLED|OUTPUT|CLOSED_LOOP|STEPPER", hugs.FormatStatus(r.Status))
}

func TestControllerUnknownIDs(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	before := c.State()

	send(t, c, hugs.NewFrame(2, 1, 0x42, hugs.RspSSPE, nil))
	assert.Equal(t, before, c.State())
	assert.Equal(t, uint8(hugs.RspSSPE), nextReply(t, c).Response())

	// Unknown response IDs are answered without a payload
	send(t, c, hugs.NewNOP(header(0x33)))
	f := nextReply(t, c)
	assert.Equal(t, uint8(0x33), f.Response())
	assert.Empty(t, f.Payload())
}

func TestControllerDroppedReplies(t *testing.T) {
	c, _, _ := newTestController(t, func(cfg *Config) { cfg.ReplyQueue = 1 })

	send(t, c, hugs.NewNOP(header(hugs.RspSSPE)))
	send(t, c, hugs.NewNOP(header(hugs.RspSSPE)))

	counters := c.Counters()
	assert.Equal(t, uint64(1), counters.Replies)
	assert.Equal(t, uint64(1), counters.DroppedReplies)
}

func TestControllerDecodeErrors(t *testing.T) {
	c, _, _ := newTestController(t, nil)

	data := hugs.MustEncodeFrame(hugs.NewEnable(header(hugs.RspNOR)))
	data[len(data)-2] ^= 0x01
	assert.Empty(t, c.Receive(data))
	assert.False(t, c.State().Enabled)
	assert.Equal(t, uint64(1), c.Counters().DecodeErrors)
	assert.Equal(t, uint64(0), c.Counters().Frames)
}

// ============================================================================
// Watchdog
// ============================================================================

func TestControllerWatchdog(t *testing.T) {
	c, _, sink := newTestController(t, nil)
	send(t, c, hugs.NewEnable(header(hugs.RspNOR)))
	send(t, c, hugs.NewPower(header(hugs.RspNOR), 500))

	for i := 0; i < DefaultWatchdogMS-1; i++ {
		c.Tick1ms()
	}
	c.Cycle()
	require.False(t, c.State().TimedOut)
	require.True(t, sink.Enabled)

	c.Tick1ms()
	c.Cycle()
	s := c.State()
	assert.True(t, s.TimedOut)
	assert.Equal(t, int16(0), s.InputPWM)
	assert.False(t, sink.Enabled)
	assert.True(t, s.Enabled)

	for i := 0; i < 5000; i++ {
		c.Tick1ms()
	}
	assert.Equal(t, uint64(1), c.Counters().WatchdogTrips)

	// Any valid frame clears the timeout
	send(t, c, hugs.NewNOP(header(hugs.RspNOR)))
	c.Cycle()
	assert.False(t, c.State().TimedOut)
	assert.True(t, sink.Enabled)
}

func TestControllerWatchdogFedByFrames(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	for round := 0; round < 5; round++ {
		for i := 0; i < 1500; i++ {
			c.Tick1ms()
		}
		send(t, c, hugs.NewNOP(header(hugs.RspNOR)))
	}
	assert.False(t, c.State().TimedOut)
	assert.Equal(t, uint64(0), c.Counters().WatchdogTrips)
}

func TestControllerWatchdogInterval(t *testing.T) {
	c, _, _ := newTestController(t, nil)

	send(t, c, hugs.NewWatchdog(header(hugs.RspSDOG), 100))
	assert.Equal(t, uint16(100), c.WatchdogMS())
	r, err := hugs.ParseReply(nextReply(t, c))
	require.NoError(t, err)
	assert.Equal(t, uint16(100), r.WatchdogMS)

	for i := 0; i < 100; i++ {
		c.Tick1ms()
	}
	assert.True(t, c.State().TimedOut)

	// Zero disables the watchdog
	send(t, c, hugs.NewWatchdog(header(hugs.RspNOR), 0))
	for i := 0; i < 10000; i++ {
		c.Tick1ms()
	}
	assert.False(t, c.State().TimedOut)
}
