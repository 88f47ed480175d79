// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowPass(t *testing.T) {
	f := NewLowPass(3)
	for i := 0; i < 200; i++ {
		f.Update(800)
	}
	assert.InDelta(t, 800, f.Value(), 1)

	f.Reset()
	assert.Equal(t, int32(0), f.Value())

	// One step moves the output by at most in>>shift
	assert.Equal(t, int32(100), f.Update(800))
}

// spinEstimator feeds n transitions spaced period cycles apart
func spinEstimator(e *SpeedEstimator, n, period int) {
	for i := 0; i < n; i++ {
		for c := 0; c < period-1; c++ {
			e.Count(false)
		}
		e.Count(true)
	}
}

func TestSpeedEstimatorSteady(t *testing.T) {
	testCases := []struct {
		name   string
		dir    int8
		expect int16
	}{
		{"forward", 1, 1884},
		{"reverse", -1, -1884},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewSpeedEstimator(DefaultSpeedFilterShift)
			require.True(t, e.Stalled())
			assert.Equal(t, int16(0), e.Filter(tc.dir))

			spinEstimator(e, 3, 100)
			assert.Equal(t, int32(100), e.PhasePeriod())

			for i := 0; i < 2000; i++ {
				e.Filter(tc.dir)
			}
			assert.InDelta(t, tc.expect, e.Speed(), 2)
		})
	}
}

func TestSpeedEstimatorStall(t *testing.T) {
	e := NewSpeedEstimator(DefaultSpeedFilterShift)
	spinEstimator(e, 5, 200)
	for i := 0; i < 500; i++ {
		e.Filter(1)
	}
	require.NotZero(t, e.Speed())

	for i := 0; i < MaxPhasePeriod-10; i++ {
		e.Count(false)
	}
	assert.False(t, e.Stalled())

	for i := 0; i < 20; i++ {
		e.Count(false)
	}
	assert.True(t, e.Stalled())
	assert.Equal(t, int32(MaxPhasePeriod), e.PhasePeriod())
	assert.Equal(t, int16(0), e.Speed())

	// The filter is cleared, not decayed
	assert.Equal(t, int16(0), e.Filter(1))
	assert.Equal(t, int16(0), e.Filter(1))

	// Next transition after a stall measures a full period, still zero
	e.Count(true)
	assert.True(t, e.Stalled())
	assert.Equal(t, int16(0), e.Filter(1))
}
