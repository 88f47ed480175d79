// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGains(t *testing.T) {
	assert.Equal(t, Gains{KF: 5242, KFO: 917504, KP: 6553, KI: 1, ILimit: 4915200}, DefaultGains)
}

func TestPIDFTerms(t *testing.T) {
	p := NewPIDF(DefaultGains)
	out := p.Run(1000, 0, 1)

	f, prop, i := p.Terms()
	assert.Equal(t, int16(187), f)
	assert.Equal(t, int16(199), prop)
	assert.Equal(t, int16(0), i)
	assert.Equal(t, int16(386), out)
	assert.Equal(t, int32(1000), p.Integral())
	assert.Equal(t, int32(1000), p.Error())
}

func TestPIDFIntegralReset(t *testing.T) {
	testCases := []struct {
		name string
		next int32
	}{
		{"sign flip", -300},
		{"drop to zero", 0},
		{"below minimum", 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPIDF(DefaultGains)
			for i := 0; i < 50; i++ {
				p.Run(800, 100, 1)
			}
			require.Equal(t, int32(50*700), p.Integral())

			p.Run(tc.next, 100, -1)
			assert.Equal(t, int32(0), p.Integral())
		})
	}
}

func TestPIDFIntegralResumes(t *testing.T) {
	p := NewPIDF(DefaultGains)
	p.Run(800, 0, 1)
	p.Run(-500, 0, -1)
	require.Equal(t, int32(0), p.Integral())

	// Same sign as the last setpoint integrates again
	p.Run(-500, 0, -1)
	assert.Equal(t, int32(-500), p.Integral())
}

func TestPIDFIntegralClamp(t *testing.T) {
	g := Gains{KI: 1 << 20, ILimit: 1 << 22}
	p := NewPIDF(g)
	p.Run(1000, 0, 1)
	assert.Equal(t, int32(1<<22), p.Integral())
	_, _, i := p.Terms()
	assert.Equal(t, int16(128), i)

	for k := 0; k < 10; k++ {
		p.Run(10, 1010, 1)
	}
	assert.Equal(t, -int32(1<<22), p.Integral())
}

func TestPIDFIdle(t *testing.T) {
	p := NewPIDF(DefaultGains)
	p.Run(400, 0, 1)
	p.Idle()
	assert.Equal(t, int32(0), p.Integral())
	f, prop, i := p.Terms()
	assert.Equal(t, []int16{0, 0, 0}, []int16{f, prop, i})

	// No sign flip is seen against an idle setpoint
	p.Run(-400, 0, -1)
	assert.Equal(t, int32(-400), p.Integral())
}

func TestGainsFromFloat(t *testing.T) {
	g := GainsFromFloat(1, -1, 0.5, 0, 2)
	assert.Equal(t, Gains{KF: 32768, KFO: -32768, KP: 16384, KI: 0, ILimit: 65536}, g)
}
