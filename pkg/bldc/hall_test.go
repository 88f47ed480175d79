// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hugsForward lists the Hall codes of sectors 0..5 for the hugs profile
var hugsForward = [6]uint8{4, 5, 1, 3, 2, 6}

func TestProfileDecode(t *testing.T) {
	testCases := []struct {
		name    string
		profile *Profile
		expect  [8]uint8
	}{
		{"hugs", ProfileHUGS, [8]uint8{6, 2, 4, 3, 0, 1, 5, 6}},
		{"gigadevice", ProfileGigaDevice, [8]uint8{0, 3, 5, 4, 1, 2, 6, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seen := map[uint8]bool{}
			for code := uint8(0); code < 8; code++ {
				s := tc.profile.Decode(code)
				assert.Equal(t, tc.expect[code], s, "code %03b", code)
				if code == 0 || code == 7 {
					assert.Equal(t, tc.profile.Invalid(), s)
					assert.False(t, tc.profile.Valid(s))
					assert.Equal(t, -1, tc.profile.Index(s))
					continue
				}
				require.True(t, tc.profile.Valid(s), "code %03b", code)
				idx := tc.profile.Index(s)
				assert.True(t, idx >= 0 && idx < 6)
				seen[s] = true
			}
			assert.Len(t, seen, 6)
		})
	}
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("")
	require.NoError(t, err)
	assert.Same(t, ProfileHUGS, p)

	p, err = ProfileByName("gigadevice")
	require.NoError(t, err)
	assert.Same(t, ProfileGigaDevice, p)

	_, err = ProfileByName("hoverboard")
	assert.Error(t, err)
}

func TestProfileCode(t *testing.T) {
	for i, code := range hugsForward {
		assert.Equal(t, code, ProfileHUGS.Code(i), "index %d", i)
		assert.Equal(t, code, ProfileHUGS.Code(i+6), "index %d", i+6)
	}
	assert.Equal(t, hugsForward[5], ProfileHUGS.Code(-1))

	for i := 0; i < 6; i++ {
		sector := ProfileGigaDevice.Decode(ProfileGigaDevice.Code(i))
		assert.Equal(t, i, ProfileGigaDevice.Index(sector))
	}
}

func TestBlockCommutate(t *testing.T) {
	for _, p := range []*Profile{ProfileHUGS, ProfileGigaDevice} {
		t.Run(p.Name, func(t *testing.T) {
			for i := 0; i < 6; i++ {
				sector := p.first + uint8(i)
				for pwm := int16(-1000); pwm <= 1000; pwm += 125 {
					y, b, g := p.BlockCommutate(pwm, sector)
					phases := []int16{y, b, g}
					if pwm == 0 {
						assert.Equal(t, []int16{0, 0, 0}, phases)
						continue
					}
					zeros, pos, neg := 0, 0, 0
					for _, v := range phases {
						switch v {
						case 0:
							zeros++
						case pwm:
							pos++
						case -pwm:
							neg++
						}
					}
					assert.Equal(t, 1, zeros, "sector %d pwm %d: %v", sector, pwm, phases)
					assert.Equal(t, 1, pos, "sector %d pwm %d: %v", sector, pwm, phases)
					assert.Equal(t, 1, neg, "sector %d pwm %d: %v", sector, pwm, phases)
					assert.Equal(t, int16(0), y+b+g)
				}
			}

			y, b, g := p.BlockCommutate(800, p.Invalid())
			assert.Equal(t, []int16{0, 0, 0}, []int16{y, b, g})
		})
	}
}

func TestBlockCommutateTable(t *testing.T) {
	y, b, g := BlockCommutate(100, 0)
	assert.Equal(t, []int16{0, -100, 100}, []int16{y, b, g})
	y, b, g = BlockCommutate(100, 3)
	assert.Equal(t, []int16{0, 100, -100}, []int16{y, b, g})

	y, b, g = ProfileGigaDevice.BlockCommutate(100, 1)
	assert.Equal(t, []int16{0, 100, -100}, []int16{y, b, g})
	y, b, g = ProfileGigaDevice.BlockCommutate(100, 6)
	assert.Equal(t, []int16{100, 0, -100}, []int16{y, b, g})
}

func TestHallDecoderDirection(t *testing.T) {
	d := NewHallDecoder(ProfileHUGS, 0)
	assert.False(t, d.Primed())
	assert.Equal(t, ProfileHUGS.Invalid(), d.Sector())

	// First reading only primes
	assert.False(t, d.Update(hugsForward[0]))
	assert.True(t, d.Primed())
	assert.Equal(t, uint8(0), d.Sector())
	assert.Equal(t, int8(0), d.Direction())

	for i := 1; i <= 12; i++ {
		require.True(t, d.Update(hugsForward[i%6]))
		assert.Equal(t, int8(1), d.Direction())
	}
	assert.Equal(t, int32(12), d.Cycles())

	// Same code again is not a transition
	assert.False(t, d.Update(hugsForward[0]))

	// Wrap 0 -> 5 is reverse
	require.True(t, d.Update(hugsForward[5]))
	assert.Equal(t, int8(-1), d.Direction())
	assert.Equal(t, int32(11), d.Cycles())

	require.True(t, d.Update(hugsForward[4]))
	assert.Equal(t, int32(10), d.Cycles())
}

func TestHallDecoderNoise(t *testing.T) {
	d := NewHallDecoder(ProfileHUGS, 0)
	d.Update(hugsForward[0])
	d.Update(hugsForward[1])
	require.Equal(t, int8(1), d.Direction())

	// Invalid codes hold the sector
	for _, code := range []uint8{0, 7} {
		assert.False(t, d.Update(code))
		assert.Equal(t, uint8(1), d.Sector())
		assert.Equal(t, int8(1), d.Direction())
	}
	assert.Equal(t, uint64(2), d.InvalidCount())

	// A jump of three sectors keeps the direction but moves the sector
	assert.True(t, d.Update(hugsForward[4]))
	assert.Equal(t, uint8(4), d.Sector())
	assert.Equal(t, int8(1), d.Direction())
	assert.Equal(t, int32(2), d.Cycles())

	d.ResetCycles()
	assert.Equal(t, int32(0), d.Cycles())
}

func TestHallDecoderFault(t *testing.T) {
	d := NewHallDecoder(ProfileHUGS, 3)
	d.Update(hugsForward[2])

	d.Update(7)
	d.Update(7)
	assert.False(t, d.Fault())
	d.Update(0)
	assert.True(t, d.Fault())
	assert.Equal(t, uint8(2), d.Sector())

	d.Update(hugsForward[2])
	assert.False(t, d.Fault())
}

func TestHallDecoderGigaDevice(t *testing.T) {
	d := NewHallDecoder(ProfileGigaDevice, 0)
	// Sectors 1..6 are codes 4, 5, 1, 3, 2, 6 on this revision as well
	d.Update(4)
	require.Equal(t, uint8(1), d.Sector())
	require.True(t, d.Update(5))
	assert.Equal(t, int8(1), d.Direction())

	// 1 -> 6 wraps backwards
	d.Update(4)
	require.True(t, d.Update(6))
	assert.Equal(t, uint8(6), d.Sector())
	assert.Equal(t, int8(-1), d.Direction())
}
