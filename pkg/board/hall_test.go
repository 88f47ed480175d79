// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
)

func TestHallCode(t *testing.T) {
	testCases := []struct {
		values []int
		code   uint8
	}{
		{[]int{0, 0, 0}, 0},
		{[]int{1, 0, 0}, 1},
		{[]int{0, 1, 0}, 2},
		{[]int{0, 0, 1}, 4},
		{[]int{1, 1, 1}, 7},
		{[]int{1, 0, 1, 1}, 5},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.code, HallCode(tc.values), "%v", tc.values)
	}
}

func TestHallStateEdges(t *testing.T) {
	var s hallState
	s.set(bldc.ProfileHUGS.Code(0))
	assert.Equal(t, uint8(0), bldc.ProfileHUGS.Decode(s.load()))

	// Walk a full forward revolution one edge at a time
	for i := 1; i <= 6; i++ {
		prev, next := bldc.ProfileHUGS.Code(i-1), bldc.ProfileHUGS.Code(i)
		changed := prev ^ next
		index := 0
		for changed>>index != 1 {
			index++
		}
		code := s.edge(index, next&changed != 0)
		assert.Equal(t, next, code, "edge %d", i)
	}
	assert.Equal(t, uint64(6), s.edges.Load())

	// Unknown lines change nothing
	before := s.load()
	assert.Equal(t, before, s.edge(5, true))
	assert.Equal(t, uint64(6), s.edges.Load())
}
