// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wheel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

// Plant is advanced once after every control cycle. The simulated wheel
// implements it.
type Plant interface {
	Step()
}

// Runtime drives a Controller in real time against a byte link.
//
// Go timers cannot fire at the PWM rate, so control cycles run in bursts:
// every millisecond the runtime runs one millisecond worth of cycles and
// then the 1 kHz tick. The link is read and written on their own
// goroutines.
type Runtime struct {
	ctrl  *Controller
	link  io.ReadWriter
	plant Plant

	cyclesPerTick int
	frameHook     func(*hugs.Frame)
	stateHook     func(State)
	stateEvery    time.Duration
}

// RuntimeOption configures a Runtime
type RuntimeOption func(*Runtime)

// WithPlant advances p after every control cycle
func WithPlant(p Plant) RuntimeOption {
	return func(r *Runtime) { r.plant = p }
}

// WithFrameHook calls fn for every frame received. fn runs on the reader
// goroutine and must not block.
func WithFrameHook(fn func(*hugs.Frame)) RuntimeOption {
	return func(r *Runtime) { r.frameHook = fn }
}

// WithStateHook calls fn with a snapshot every interval
func WithStateHook(every time.Duration, fn func(State)) RuntimeOption {
	return func(r *Runtime) {
		r.stateEvery = every
		r.stateHook = fn
	}
}

// NewRuntime creates a runtime for ctrl. A nil link runs the motor without
// a command link.
func NewRuntime(ctrl *Controller, link io.ReadWriter, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		ctrl:          ctrl,
		link:          link,
		cyclesPerTick: CyclesPerMillisecond(ctrl.motor.Config()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CyclesPerMillisecond returns the control cycles run per 1 ms tick. The
// cycle runs twice per center aligned PWM period.
func CyclesPerMillisecond(cfg bldc.Config) int {
	n := int(cfg.PWMCycleRate() / 1000)
	if n < 1 {
		return 1
	}
	return n
}

// RunTicks runs n milliseconds of control cycles and ticks without waiting
func (r *Runtime) RunTicks(n int) {
	for i := 0; i < n; i++ {
		r.tick()
	}
}

func (r *Runtime) tick() {
	for i := 0; i < r.cyclesPerTick; i++ {
		r.ctrl.Cycle()
		if r.plant != nil {
			r.plant.Step()
		}
	}
	r.ctrl.Tick1ms()
}

// Run drives the controller until ctx is cancelled or the link fails.
// The caller closes the link after Run returns to release the reader.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	if r.link != nil {
		go r.readLoop(ctx, errCh)
		go r.writeLoop(ctx, errCh)
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	var lastState time.Time
	estop := false

	glog.Infof("wheel runtime started: %d cycles per ms", r.cyclesPerTick)
	for {
		select {
		case <-ctx.Done():
			glog.Infof("wheel runtime stopped")
			return ctx.Err()
		case err := <-errCh:
			return err
		case now := <-ticker.C:
			r.tick()

			if latched := r.ctrl.Estopped(); latched != estop {
				estop = latched
				if latched {
					glog.Warningf("estop latched, output disabled until ENA")
				} else {
					glog.Infof("estop cleared")
				}
			}

			if r.stateHook != nil && now.Sub(lastState) >= r.stateEvery {
				lastState = now
				r.stateHook(r.ctrl.State())
			}
		}
	}
}

func (r *Runtime) readLoop(ctx context.Context, errCh chan<- error) {
	buf := make([]byte, 64)
	for {
		n, err := r.link.Read(buf)
		for _, b := range buf[:n] {
			f, derr := r.ctrl.ReceiveByte(b)
			if derr != nil && glog.V(2) {
				glog.Infof("decode: %v", derr)
			}
			if f == nil {
				continue
			}
			if glog.V(1) {
				glog.Infof("rx %s seq=%d rsp=%s len=%d", hugs.FormatCommand(f.Command()),
					f.Sequence(), hugs.FormatResponse(f.Response()), f.Length())
			}
			if r.frameHook != nil {
				r.frameHook(f)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			errCh <- fmt.Errorf("link read failed: %w", err)
			return
		}
	}
}

func (r *Runtime) writeLoop(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.ctrl.Replies():
			if _, err := r.link.Write(data); err != nil {
				if ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("link write failed: %w", err)
				return
			}
			if glog.V(2) {
				glog.Infof("tx %s", hugs.FormatBytes(data))
			}
		}
	}
}
