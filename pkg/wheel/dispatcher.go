// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wheel

import (
	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

// dispatch applies one validated frame. Called with c.mu held.
func (c *Controller) dispatch(f *hugs.Frame) {
	c.counters.Frames++

	// Any valid frame feeds the watchdog
	c.sinceFrame = 0
	c.motor.SetTimedOut(false)

	switch f.Command() {
	case hugs.CmdENA:
		c.estop = false
		c.motor.SetEnable(true)

	case hugs.CmdDIS:
		c.motor.SetEnable(false)

	case hugs.CmdXXX:
		c.motor.SetPower(0)
		c.motor.SetEnable(false)
		c.estop = true

	case hugs.CmdPOW:
		power, ok := f.PayloadInt16(0)
		if !ok {
			c.counters.RejectedValues++
			break
		}
		if !c.estop {
			c.motor.SetPower(power)
		}

	case hugs.CmdSPE:
		speed, ok := f.PayloadInt16(0)
		if !ok {
			c.counters.RejectedValues++
			break
		}
		if !c.estop {
			c.motor.SetSpeed(speed)
		}

	case hugs.CmdDOG:
		interval, ok := f.PayloadUint16(0)
		if !ok {
			c.counters.RejectedValues++
			break
		}
		c.watchdogMS = interval

	case hugs.CmdRES:
		c.motor.ResetOdometry()

	case hugs.CmdMOD:
		mode, ok1 := f.PayloadUint8(0)
		threshold, ok2 := f.PayloadUint16(1)
		if !ok1 || !ok2 {
			c.counters.RejectedValues++
			break
		}
		if err := c.motor.SetSpeedMode(bldc.SpeedMode(mode), threshold); err != nil {
			c.counters.RejectedValues++
		}

	default:
		// NOP, RSP, ABS, REL, DSPE and unknown IDs change nothing
	}

	if f.WantsReply() {
		c.reply(f)
	}
}

// reply queues the response requested by f. Called with c.mu held.
func (c *Controller) reply(f *hugs.Frame) {
	response := f.Response()
	if c.estop {
		response = hugs.RspSTOP
	}

	payload := c.state().Reply(response).AppendPayload(nil)
	data, err := c.encoder.Encode(hugs.NewReply(f, response, payload))
	if err != nil {
		return
	}

	select {
	case c.replies <- data:
		c.counters.Replies++
	default:
		c.counters.DroppedReplies++
	}
}
