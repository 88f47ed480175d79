// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hugs

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	CRCErrors        uint64
	TerminatorErrors uint64
	LengthErrors     uint64
	DecodeErrors     uint64
	Resyncs          uint64
	MalformedFrames  uint64
	LengthMismatches uint64
	UnknownIDs       uint64
	AnomalousValues  uint64
	Replies          uint64
	Estops           uint64

	// Per command ID
	Commands map[uint8]uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		Commands:       make(map[uint8]uint64),
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrCRCMismatch):
			s.CRCErrors++
		case errors.Is(decodeErr, ErrBadTerminator):
			s.TerminatorErrors++
		case errors.Is(decodeErr, ErrLengthTooLong):
			s.LengthErrors++
		default:
			s.DecodeErrors++
		}
		return
	}
	if frame == nil {
		return
	}

	s.Commands[frame.command]++
	if frame.command == CmdRSP {
		s.Replies++
		if frame.response == RspSTOP {
			s.Estops++
		}
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyLengthMismatch:
			s.LengthMismatches++
			s.MalformedFrames++
		case AnomalyUnknownCommand, AnomalyUnknownResponse:
			s.UnknownIDs++
			s.MalformedFrames++
		case AnomalyInvalidSpeed, AnomalyInvalidPower, AnomalyInvalidValue:
			s.AnomalousValues++
		default:
			s.MalformedFrames++
		}
	}
}

// ErrorCount returns the number of transport and validation errors
func (s *Statistics) ErrorCount() uint64 {
	return s.CRCErrors + s.TerminatorErrors + s.LengthErrors + s.DecodeErrors +
		s.MalformedFrames + s.AnomalousValues
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.TerminatorErrors > 0 {
		result += fmt.Sprintf("Bad Terminator:  %8d (%.1f%%)\n", s.TerminatorErrors, percent(s.TerminatorErrors))
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Bad Length:      %8d (%.1f%%)\n", s.LengthErrors, percent(s.LengthErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.Resyncs > 0 {
		result += fmt.Sprintf("Resyncs:         %8d\n", s.Resyncs)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
		if s.UnknownIDs > 0 {
			result += fmt.Sprintf("  Unknown IDs:      %5d\n", s.UnknownIDs)
		}
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
	}
	if s.Replies > 0 {
		result += fmt.Sprintf("Replies:         %8d\n", s.Replies)
	}
	if s.Estops > 0 {
		result += fmt.Sprintf("ESTOP Replies:   %8d\n", s.Estops)
	}

	if len(s.Commands) > 0 {
		ids := make([]int, 0, len(s.Commands))
		for id := range s.Commands {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		result += "Commands:\n"
		for _, id := range ids {
			result += fmt.Sprintf("  %-5s %10d\n", FormatCommand(uint8(id)), s.Commands[uint8(id)])
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
