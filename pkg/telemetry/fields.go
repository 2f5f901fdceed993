// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Gear selector position.
type Gear int

// Gear values.
const (
	GearUnknown Gear = iota
	GearPark
	GearReverse
	GearNeutral
	GearDrive
)

func (g Gear) String() string {
	switch g {
	case GearPark:
		return "P"
	case GearReverse:
		return "R"
	case GearNeutral:
		return "N"
	case GearDrive:
		return "D"
	}
	return "?"
}

// AutopilotState of the driver-assist system.
type AutopilotState int

// Autopilot states.
const (
	AutopilotDisabled AutopilotState = iota
	AutopilotUnavailable
	AutopilotAvailable
	AutopilotActive
)

func (s AutopilotState) String() string {
	switch s {
	case AutopilotDisabled:
		return "disabled"
	case AutopilotUnavailable:
		return "unavailable"
	case AutopilotAvailable:
		return "available"
	case AutopilotActive:
		return "active"
	}
	return "unknown"
}

// The telemetry message is a compact tagged-field encoding. Older and
// newer encoder firmwares carry the same semantic fields under two
// parallel field-number sets; both are accepted and normalized once
// here, never at read sites.
const (
	fieldFrameSeq      = 1
	fieldSpeed         = 2
	fieldGear          = 3
	fieldLatitude      = 4
	fieldLongitude     = 5
	fieldHeading       = 6
	fieldSteeringAngle = 7
	fieldAutopilot     = 8
	fieldBrake         = 9
	fieldAccelerator   = 10
	fieldAccelX        = 11
	fieldAccelY        = 12
	fieldAccelZ        = 13
)

// Newer encoder generation.
const (
	altFrameSeq      = 16
	altSpeed         = 17
	altGear          = 18
	altLatitude      = 19
	altLongitude     = 20
	altHeading       = 21
	altSteeringAngle = 22
	altAutopilot     = 23
	altBrake         = 24
	altAccelerator   = 25
	altAccelX        = 26
	altAccelY        = 27
	altAccelZ        = 28
)

// ErrMalformedMessage telemetry message could not be decoded.
var ErrMalformedMessage = errors.New("malformed telemetry message")

type fieldValue struct {
	varint uint64
	bits32 uint32
	bits64 uint64
	typ    protowire.Type
}

type fieldMap map[protowire.Number]fieldValue

// decodeMessage decodes one telemetry message into a sample.
// Unknown fields are skipped, not errors.
func decodeMessage(buf []byte) (Sample, error) {
	fields := fieldMap{}

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return Sample{}, ErrMalformedMessage
		}
		buf = buf[n:]

		var value fieldValue
		value.typ = typ

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return Sample{}, ErrMalformedMessage
			}
			value.varint = v
			buf = buf[n:]

		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(buf)
			if n < 0 {
				return Sample{}, ErrMalformedMessage
			}
			value.bits32 = v
			buf = buf[n:]

		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return Sample{}, ErrMalformedMessage
			}
			value.bits64 = v
			buf = buf[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return Sample{}, ErrMalformedMessage
			}
			buf = buf[n:]
			continue
		}

		fields[num] = value
	}

	return Sample{
		FrameSeq:       fields.varint(fieldFrameSeq, altFrameSeq),
		SpeedMph:       fields.float(fieldSpeed, altSpeed),
		Gear:           Gear(fields.varint(fieldGear, altGear)),
		Latitude:       fields.float(fieldLatitude, altLatitude),
		Longitude:      fields.float(fieldLongitude, altLongitude),
		Heading:        fields.float(fieldHeading, altHeading),
		SteeringAngle:  fields.float(fieldSteeringAngle, altSteeringAngle),
		Autopilot:      AutopilotState(fields.varint(fieldAutopilot, altAutopilot)),
		BrakeApplied:   fields.varint(fieldBrake, altBrake) != 0,
		AcceleratorPct: fields.float(fieldAccelerator, altAccelerator),
		AccelX:         fields.float(fieldAccelX, altAccelX),
		AccelY:         fields.float(fieldAccelY, altAccelY),
		AccelZ:         fields.float(fieldAccelZ, altAccelZ),
	}, nil
}

// varint returns the primary field, falling back to the alternate.
func (m fieldMap) varint(primary, alt protowire.Number) uint64 {
	if v, exist := m[primary]; exist {
		return v.varint
	}
	return m[alt].varint
}

// float returns the primary field, falling back to the alternate.
// Both float32 and float64 encodings are accepted.
func (m fieldMap) float(primary, alt protowire.Number) float64 {
	v, exist := m[primary]
	if !exist {
		v, exist = m[alt]
		if !exist {
			return 0
		}
	}
	if v.typ == protowire.Fixed64Type {
		return math.Float64frombits(v.bits64)
	}
	return float64(math.Float32frombits(v.bits32))
}
