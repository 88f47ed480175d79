// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

import "fmt"

// Profile is a matched Hall table and block commutation table.
//
// Board revisions number the sectors differently for the same physical Hall
// code, and each revision's switching table only works with its own Hall
// table. Mixing the two reverses or stalls the motor, so they travel together.
type Profile struct {
	Name    string
	table   [8]uint8
	invalid uint8
	first   uint8
	block   [6][3]int8 // Y, B, G signs per sector
}

// ProfileHUGS is the canonical revision: sectors 0..5, sentinel 6.
// Positive PWM advances the sector count.
var ProfileHUGS = &Profile{
	Name:    "hugs",
	table:   [8]uint8{6, 2, 4, 3, 0, 1, 5, 6},
	invalid: 6,
	first:   0,
	block: [6][3]int8{
		{0, -1, 1},
		{1, -1, 0},
		{1, 0, -1},
		{0, 1, -1},
		{-1, 1, 0},
		{-1, 0, 1},
	},
}

// ProfileGigaDevice is the older revision: sectors 1..6, sentinel 0.
var ProfileGigaDevice = &Profile{
	Name:    "gigadevice",
	table:   [8]uint8{0, 3, 5, 4, 1, 2, 6, 0},
	invalid: 0,
	first:   1,
	block: [6][3]int8{
		{0, 1, -1},
		{-1, 1, 0},
		{-1, 0, 1},
		{0, -1, 1},
		{1, -1, 0},
		{1, 0, -1},
	},
}

// ProfileByName returns the profile with the given configuration name
func ProfileByName(name string) (*Profile, error) {
	switch name {
	case "", ProfileHUGS.Name:
		return ProfileHUGS, nil
	case ProfileGigaDevice.Name:
		return ProfileGigaDevice, nil
	}
	return nil, fmt.Errorf("unknown commutation profile %q", name)
}

// Decode maps a 3-bit Hall code (a*1 + b*2 + c*4) to a sector or the sentinel
func (p *Profile) Decode(code uint8) uint8 {
	return p.table[code&0x07]
}

// Invalid returns the sentinel sector for the two impossible Hall codes
func (p *Profile) Invalid() uint8 {
	return p.invalid
}

// Valid reports whether sector is a real sector of this profile
func (p *Profile) Valid(sector uint8) bool {
	return sector != p.invalid && sector >= p.first && sector < p.first+6
}

// Index returns the zero-based position of sector, or -1 for the sentinel
func (p *Profile) Index(sector uint8) int {
	if !p.Valid(sector) {
		return -1
	}
	return int(sector - p.first)
}

// Code returns the Hall code that decodes to the sector at index (0..5)
func (p *Profile) Code(index int) uint8 {
	want := p.first + uint8(((index%6)+6)%6)
	for code, sector := range p.table {
		if sector == want {
			return uint8(code)
		}
	}
	return 0
}

// BlockCommutate returns the phase drive values for one sector.
// Two phases get +pwm and -pwm, the third floats at 0. Unknown sectors
// (including the sentinel) turn every phase off.
func (p *Profile) BlockCommutate(pwm int16, sector uint8) (y, b, g int16) {
	i := p.Index(sector)
	if i < 0 {
		return 0, 0, 0
	}
	s := p.block[i]
	return int16(s[0]) * pwm, int16(s[1]) * pwm, int16(s[2]) * pwm
}

// BlockCommutate applies the canonical profile's switching table
func BlockCommutate(pwm int16, sector uint8) (y, b, g int16) {
	return ProfileHUGS.BlockCommutate(pwm, sector)
}

// HallDecoder tracks the rotor sector, rotation direction and odometry
type HallDecoder struct {
	profile *Profile

	primed    bool
	sector    uint8
	direction int8
	cycles    int32

	faultCycles  uint32
	invalidRun   uint32
	invalidTotal uint64
	fault        bool
}

// NewHallDecoder creates a decoder. faultCycles is the number of
// consecutive invalid codes that raise the fault flag (0 disables it).
func NewHallDecoder(p *Profile, faultCycles uint32) *HallDecoder {
	if p == nil {
		p = ProfileHUGS
	}
	return &HallDecoder{
		profile:     p,
		sector:      p.invalid,
		faultCycles: faultCycles,
	}
}

// Update samples one Hall code and reports whether a sector transition
// happened. Invalid codes hold the last valid sector.
func (d *HallDecoder) Update(code uint8) bool {
	s := d.profile.Decode(code)
	if !d.profile.Valid(s) {
		d.invalidTotal++
		if d.invalidRun < ^uint32(0) {
			d.invalidRun++
		}
		if d.faultCycles > 0 && d.invalidRun >= d.faultCycles {
			d.fault = true
		}
		return false
	}
	d.invalidRun = 0
	d.fault = false

	if !d.primed {
		d.primed = true
		d.sector = s
		return false
	}
	if s == d.sector {
		return false
	}

	switch int(s) - int(d.sector) {
	case 1, -5:
		d.direction = 1
	case -1, 5:
		d.direction = -1
	}
	// Any other jump is noise: direction holds, the sector still moves.
	d.sector = s
	d.cycles += int32(d.direction)
	return true
}

// Profile returns the decoder's commutation profile
func (d *HallDecoder) Profile() *Profile {
	return d.profile
}

// Primed reports that at least one valid code has been seen
func (d *HallDecoder) Primed() bool {
	return d.primed
}

// Sector returns the last valid sector, or the sentinel before the first
// valid code
func (d *HallDecoder) Sector() uint8 {
	return d.sector
}

// Index returns the last valid sector as 0..5
func (d *HallDecoder) Index() int {
	return d.profile.Index(d.sector)
}

// Direction returns the measured rotation direction (-1, 0, 1)
func (d *HallDecoder) Direction() int8 {
	return d.direction
}

// Cycles returns the signed transition count
func (d *HallDecoder) Cycles() int32 {
	return d.cycles
}

// ResetCycles zeroes the odometry counter
func (d *HallDecoder) ResetCycles() {
	d.cycles = 0
}

// Fault reports a sustained run of invalid Hall codes
func (d *HallDecoder) Fault() bool {
	return d.fault
}

// InvalidCount returns the total number of invalid codes seen
func (d *HallDecoder) InvalidCount() uint64 {
	return d.invalidTotal
}
