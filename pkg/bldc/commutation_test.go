// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSineTableShape(t *testing.T) {
	assert.Len(t, sineTable, 360)
	assert.Equal(t, int16(0), sineTable[0])
	assert.Equal(t, int16(0), sineTable[180])
	for a := 0; a < FullPhase; a++ {
		assert.Equal(t, sineTable[a], -sineTable[(a+180)%FullPhase], "angle %d", a)
		assert.LessOrEqual(t, sineTable[a], int16(992))
		assert.GreaterOrEqual(t, sineTable[a], int16(-992))
	}
}

func TestWrapAngle(t *testing.T) {
	testCases := []struct {
		in, out int
	}{
		{0, 0},
		{359, 359},
		{360, 0},
		{-1, 359},
		{-361, 359},
		{773, 53},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.out, WrapAngle(tc.in), "angle %d", tc.in)
	}
	assert.Equal(t, sineTable[359], SineValue(-1))
}

func TestSineCommutate(t *testing.T) {
	y, b, g := SineCommutate(1000, 0)
	assert.Equal(t, int16(0), y)
	assert.Equal(t, int16(-124), b)
	assert.Equal(t, int16(124), g)

	y, b, g = SineCommutate(1000, 293)
	assert.Equal(t, int16(-123), y)
	assert.Equal(t, int16(26), b)
	assert.Equal(t, int16(123), g)

	y, b, g = SineCommutate(0, 90)
	assert.Equal(t, []int16{0, 0, 0}, []int16{y, b, g})

	// Half magnitude halves before the attenuation shift
	y, _, _ = SineCommutate(500, 90)
	assert.Equal(t, int16((859/2)>>3), y)
}

func TestPhaseAngle(t *testing.T) {
	p := NewPhaseAngle()
	assert.Equal(t, PhaseAngle{Y: 0, B: 120, G: 240}, p)

	p.Advance(-1)
	assert.Equal(t, PhaseAngle{Y: 359, B: 119, G: 239}, p)

	p.Set(600)
	assert.Equal(t, PhaseAngle{Y: 240, B: 0, G: 120}, p)

	y, b, g := p.Commutate(1000)
	ey, eb, eg := SineCommutate(1000, 240)
	assert.Equal(t, []int16{ey, eb, eg}, []int16{y, b, g})
}

func TestSectorTransitionAngle(t *testing.T) {
	assert.Equal(t, 233, SectorTransitionAngle(0, 1))
	assert.Equal(t, 293, SectorTransitionAngle(1, 1))
	assert.Equal(t, 173, SectorTransitionAngle(5, 1))
	assert.Equal(t, 307, SectorTransitionAngle(0, -1))
	assert.Equal(t, 187, SectorTransitionAngle(4, -1))
}

func TestPulseWidth(t *testing.T) {
	const res = 2250
	assert.Equal(t, uint16(1125), PulseWidth(0, res))
	assert.Equal(t, uint16(1625), PulseWidth(500, res))
	assert.Equal(t, uint16(625), PulseWidth(-500, res))
	assert.Equal(t, uint16(2240), PulseWidth(1200, res))
	assert.Equal(t, uint16(10), PulseWidth(-1200, res))
}
