// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package board

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOHall is a bldc.HallSensor on three GPIO lines. The code is kept
// current from edge events, so ReadHall never touches the device.
type GPIOHall struct {
	lines   *gpiocdev.Lines
	offsets []int
	state   hallState
	onEdge  func(code uint8)
}

// HallOption configures OpenHall
type HallOption func(*GPIOHall)

// WithEdgeHandler calls fn with the new code after every edge. fn runs on
// the event goroutine.
func WithEdgeHandler(fn func(code uint8)) HallOption {
	return func(h *GPIOHall) { h.onEdge = fn }
}

// OpenHall requests the Hall lines a, b and c on chip as pulled-up inputs
// watching both edges
func OpenHall(chip string, offsets []int, opts ...HallOption) (*GPIOHall, error) {
	if len(offsets) != 3 {
		return nil, fmt.Errorf("need 3 Hall lines, got %d", len(offsets))
	}
	h := &GPIOHall{offsets: append([]int(nil), offsets...)}
	for _, opt := range opts {
		opt(h)
	}

	lines, err := gpiocdev.RequestLines(chip, h.offsets,
		gpiocdev.AsInput,
		gpiocdev.WithConsumer("hubdrive-hall"),
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(h.handleEvent))
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return nil, fmt.Errorf("failed to request Hall lines (pull-up needs Linux 5.5 or later): %w", err)
		}
		return nil, fmt.Errorf("failed to request Hall lines: %w", err)
	}
	h.lines = lines

	values := make([]int, 3)
	if err := lines.Values(values); err != nil {
		lines.Close()
		return nil, fmt.Errorf("failed to read Hall lines: %w", err)
	}
	h.state.set(HallCode(values))
	return h, nil
}

func (h *GPIOHall) handleEvent(evt gpiocdev.LineEvent) {
	index := -1
	for i, offset := range h.offsets {
		if offset == evt.Offset {
			index = i
			break
		}
	}
	code := h.state.edge(index, evt.Type == gpiocdev.LineEventRisingEdge)
	if h.onEdge != nil {
		h.onEdge(code)
	}
}

// ReadHall implements bldc.HallSensor
func (h *GPIOHall) ReadHall() uint8 {
	return h.state.load()
}

// Edges returns the number of edges seen
func (h *GPIOHall) Edges() uint64 {
	return h.state.edges.Load()
}

// Close releases the lines
func (h *GPIOHall) Close() error {
	return h.lines.Close()
}
