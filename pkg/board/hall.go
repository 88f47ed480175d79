// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package board reads wheel sensors wired to a Linux board.
//
// Hall A, B and C are three GPIO inputs. Their levels combine into the
// 3-bit code a*1 + b*2 + c*4 that bldc.Profile decodes into a sector.
package board

import (
	"errors"
	"sync/atomic"
)

// ErrUnsupported is returned where the GPIO character device is missing
var ErrUnsupported = errors.New("GPIO character device not supported on this platform")

// HallCode combines three line levels (a, b, c) into a Hall code
func HallCode(values []int) uint8 {
	var code uint8
	for i, v := range values {
		if i > 2 {
			break
		}
		if v != 0 {
			code |= 1 << i
		}
	}
	return code
}

// hallState tracks the Hall code from line edges
type hallState struct {
	code  atomic.Uint32
	edges atomic.Uint64
}

// set replaces the whole code, from a fresh read of all lines
func (s *hallState) set(code uint8) {
	s.code.Store(uint32(code & 0x07))
}

// edge applies one edge on the line at index (0..2)
func (s *hallState) edge(index int, rising bool) uint8 {
	if index < 0 || index > 2 {
		return s.load()
	}
	bit := uint32(1) << index
	for {
		old := s.code.Load()
		next := old &^ bit
		if rising {
			next |= bit
		}
		if s.code.CompareAndSwap(old, next) {
			s.edges.Add(1)
			return uint8(next)
		}
	}
}

func (s *hallState) load() uint8 {
	return uint8(s.code.Load())
}
