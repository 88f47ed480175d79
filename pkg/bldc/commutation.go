// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldc

// sineTable is the flat-topped phase waveform, x1000, one entry per degree
var sineTable = [FullPhase]int16{
	0, 31, 63, 94, 117, 148, 180, 211, 242, 266, 297, 328, 359, 391, 414, 445, 477, 500, 531, 563,
	586, 617, 648, 672, 703, 727, 758, 781, 813, 836, 859, 867, 875, 883, 891, 898, 906, 914, 922, 930,
	938, 938, 945, 953, 953, 961, 969, 969, 977, 977, 977, 984, 984, 984, 992, 992, 992, 992, 992, 992,
	992, 992, 992, 992, 992, 992, 992, 984, 984, 984, 977, 977, 977, 969, 969, 961, 953, 953, 945, 938,
	938, 930, 922, 914, 906, 898, 891, 883, 875, 867, 859, 867, 875, 883, 891, 898, 906, 914, 922, 930,
	938, 938, 945, 953, 953, 961, 969, 969, 977, 977, 977, 984, 984, 984, 992, 992, 992, 992, 992, 992,
	992, 992, 992, 992, 992, 992, 992, 984, 984, 984, 977, 977, 977, 969, 969, 961, 953, 953, 945, 938,
	938, 930, 922, 914, 906, 898, 891, 883, 875, 867, 859, 836, 813, 781, 758, 727, 703, 672, 648, 617,
	586, 563, 531, 500, 477, 445, 414, 391, 359, 328, 297, 266, 242, 211, 180, 148, 117, 94, 63, 31,
	0, -31, -63, -94, -117, -148, -180, -211, -242, -266, -297, -328, -359, -391, -414, -445, -477, -500, -531, -563,
	-586, -617, -648, -672, -703, -727, -758, -781, -813, -836, -859, -867, -875, -883, -891, -898, -906, -914, -922, -930,
	-938, -938, -945, -953, -953, -961, -969, -969, -977, -977, -977, -984, -984, -984, -992, -992, -992, -992, -992, -992,
	-992, -992, -992, -992, -992, -992, -992, -984, -984, -984, -977, -977, -977, -969, -969, -961, -953, -953, -945, -938,
	-938, -930, -922, -914, -906, -898, -891, -883, -875, -867, -859, -867, -875, -883, -891, -898, -906, -914, -922, -930,
	-938, -938, -945, -953, -953, -961, -969, -969, -977, -977, -977, -984, -984, -984, -992, -992, -992, -992, -992, -992,
	-992, -992, -992, -992, -992, -992, -992, -984, -984, -984, -977, -977, -977, -969, -969, -961, -953, -953, -945, -938,
	-938, -930, -922, -914, -906, -898, -891, -883, -875, -867, -859, -836, -813, -781, -758, -727, -703, -672, -648, -617,
	-586, -563, -531, -500, -477, -445, -414, -391, -359, -328, -297, -266, -242, -211, -180, -148, -117, -94, -63, -31,
}

// SineValue returns the table entry for angle, wrapped into [0,360)
func SineValue(angle int) int16 {
	return sineTable[WrapAngle(angle)]
}

// WrapAngle folds any angle into [0,360)
func WrapAngle(angle int) int {
	angle %= FullPhase
	if angle < 0 {
		angle += FullPhase
	}
	return angle
}

// SineCommutate returns phase values for electrical angle angleY.
// Blue lags yellow by 120 degrees and green by 240, the same rotation
// sense as the block table. Values are scaled by magnitude/1000 and
// attenuated by 3 bits, so magnitude 1000 reproduces table>>3.
func SineCommutate(magnitude int16, angleY int) (y, b, g int16) {
	a := WrapAngle(angleY)
	y = sineScale(sineTable[a], magnitude)
	b = sineScale(sineTable[WrapAngle(a+PhaseGOffset)], magnitude)
	g = sineScale(sineTable[WrapAngle(a+PhaseBOffset)], magnitude)
	return y, b, g
}

func sineScale(v, magnitude int16) int16 {
	return int16((int32(v) * int32(magnitude) / 1000) >> 3)
}

// PhaseAngle holds the three sine-mode phase angles, 120 degrees apart
type PhaseAngle struct {
	Y, B, G int16
}

// NewPhaseAngle returns the angles for yellow at 0
func NewPhaseAngle() PhaseAngle {
	return PhaseAngle{Y: PhaseYOffset, B: PhaseBOffset, G: PhaseGOffset}
}

// Set moves yellow to angle and derives blue and green from it
func (p *PhaseAngle) Set(angle int) {
	p.Y = int16(WrapAngle(angle + PhaseYOffset))
	p.B = int16(WrapAngle(angle + PhaseBOffset))
	p.G = int16(WrapAngle(angle + PhaseGOffset))
}

// Advance steps all three angles by one degree in dir
func (p *PhaseAngle) Advance(dir int8) {
	p.Set(int(p.Y) + int(dir))
}

// Commutate returns phase values for the current angles
func (p *PhaseAngle) Commutate(magnitude int16) (y, b, g int16) {
	return SineCommutate(magnitude, int(p.Y))
}

// SectorTransitionAngle returns the yellow angle that continues smoothly
// from block commutation in sector index (0..5) when moving in dir.
func SectorTransitionAngle(index int, dir int8) int {
	if dir > 0 {
		return WrapAngle(index*60 + TransitionAngle)
	}
	return WrapAngle(index*60 + 180 - TransitionAngle)
}

// PulseWidth converts a signed phase value to a timer compare value,
// centred on resolution/2 and kept 10 counts away from both rails.
func PulseWidth(phase int16, resolution uint16) uint16 {
	v := int32(phase) + int32(resolution/2)
	return uint16(clamp32(v, pulseMargin, int32(resolution)-pulseMargin))
}
