// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package board

// GPIOHall is a bldc.HallSensor on three GPIO lines
type GPIOHall struct {
	state hallState
}

// HallOption configures OpenHall
type HallOption func(*GPIOHall)

// WithEdgeHandler calls fn with the new code after every edge
func WithEdgeHandler(fn func(code uint8)) HallOption {
	return func(*GPIOHall) {}
}

// OpenHall is only available on Linux
func OpenHall(chip string, offsets []int, opts ...HallOption) (*GPIOHall, error) {
	return nil, ErrUnsupported
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
	return nil
}
