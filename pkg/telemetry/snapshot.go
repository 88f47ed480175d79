// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry publishes wheel snapshots.
//
// A Snapshot is a CBOR encoded copy of wheel.State. Publishers send it to
// an MQTT broker, an AMQP fanout exchange or a local recording. A Pipeline
// samples the controller from the runtime's state hook and feeds the
// publishers from its own goroutine, so a slow broker never stalls the
// control loop.
package telemetry

import (
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
	"github.com/Thermoquad/hubdrive/pkg/wheel"
)

// ContentType labels encoded snapshots on brokers that carry one
const ContentType = "application/cbor"

// Snapshot is one telemetry sample of a wheel
type Snapshot struct {
	Node string `cbor:"1,keyasint"`
	Seq  uint64 `cbor:"2,keyasint"`
	Time int64  `cbor:"3,keyasint"` // unix nanoseconds

	Mode      string `cbor:"4,keyasint"`
	SpeedMode string `cbor:"5,keyasint"`
	Status    uint8  `cbor:"6,keyasint"` // hugs.Status* bits

	Setpoint int16 `cbor:"7,keyasint"`
	PWM      int16 `cbor:"8,keyasint"`
	Speed    int16 `cbor:"9,keyasint"`
	Position int32 `cbor:"10,keyasint"`

	BatteryMV  uint16 `cbor:"11,keyasint"`
	CurrentMA  uint16 `cbor:"12,keyasint"`
	WatchdogMS uint16 `cbor:"13,keyasint"`
}

// NewSnapshot copies s into a snapshot
func NewSnapshot(node string, seq uint64, at time.Time, s wheel.State) Snapshot {
	return Snapshot{
		Node:       node,
		Seq:        seq,
		Time:       at.UnixNano(),
		Mode:       s.Mode.String(),
		SpeedMode:  s.SpeedMode.String(),
		Status:     s.StatusBits(),
		Setpoint:   s.Setpoint,
		PWM:        s.PWM,
		Speed:      s.Speed,
		Position:   s.Position,
		BatteryMV:  s.BatteryMV,
		CurrentMA:  s.CurrentMA,
		WatchdogMS: s.WatchdogMS,
	}
}

// Timestamp returns the sample time
func (s Snapshot) Timestamp() time.Time {
	return time.Unix(0, s.Time)
}

// Encode returns the CBOR encoding of s
func (s Snapshot) Encode() ([]byte, error) {
	return cbor.Marshal(s)
}

// DecodeSnapshot parses a CBOR encoded snapshot
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s #%d %s speed=%d mm/s pos=%d mm pwm=%d bat=%d mV cur=%d mA [%s]",
		s.Node, s.Seq, s.Mode, s.Speed, s.Position, s.PWM, s.BatteryMV, s.CurrentMA,
		hugs.FormatStatus(s.Status))
}

// NodeID returns a stable identifier for this host, derived from the
// machine id and keyed to the application so the raw id is not exposed
func NodeID() string {
	id, err := machineid.ProtectedID("hubdrive")
	if err != nil || id == "" {
		return "hubdrive"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "hubdrive-" + id
}
