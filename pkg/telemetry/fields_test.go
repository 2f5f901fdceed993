// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendFloat64(buf []byte, num protowire.Number, v float64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(buf, math.Float64bits(v))
}

func appendFloat32(buf []byte, num protowire.Number, v float32) []byte {
	buf = protowire.AppendTag(buf, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(buf, math.Float32bits(v))
}

func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func testMessage() []byte {
	var buf []byte
	buf = appendVarint(buf, fieldFrameSeq, 7)
	buf = appendFloat64(buf, fieldSpeed, 25.0)
	buf = appendVarint(buf, fieldGear, uint64(GearDrive))
	buf = appendFloat64(buf, fieldLatitude, 37.75)
	buf = appendFloat64(buf, fieldLongitude, -122.45)
	buf = appendFloat64(buf, fieldHeading, 271.5)
	buf = appendFloat32(buf, fieldSteeringAngle, -4.5)
	buf = appendVarint(buf, fieldAutopilot, uint64(AutopilotActive))
	buf = appendVarint(buf, fieldBrake, 1)
	buf = appendFloat32(buf, fieldAccelerator, 31.25)
	return buf
}

func TestDecodeMessage(t *testing.T) {
	t.Run("primaryGeneration", func(t *testing.T) {
		sample, err := decodeMessage(testMessage())
		require.NoError(t, err)

		require.Equal(t, uint64(7), sample.FrameSeq)
		require.InDelta(t, 25.0, sample.SpeedMph, 0.0001)
		require.Equal(t, GearDrive, sample.Gear)
		require.InDelta(t, 37.75, sample.Latitude, 0.0001)
		require.InDelta(t, -122.45, sample.Longitude, 0.0001)
		require.InDelta(t, 271.5, sample.Heading, 0.0001)
		require.InDelta(t, -4.5, sample.SteeringAngle, 0.0001)
		require.Equal(t, AutopilotActive, sample.Autopilot)
		require.True(t, sample.BrakeApplied)
		require.InDelta(t, 31.25, sample.AcceleratorPct, 0.0001)
	})
	t.Run("alternateGeneration", func(t *testing.T) {
		var buf []byte
		buf = appendVarint(buf, altFrameSeq, 9)
		buf = appendFloat32(buf, altSpeed, 12.5)
		buf = appendVarint(buf, altGear, uint64(GearReverse))
		buf = appendFloat64(buf, altLatitude, 59.33)
		buf = appendFloat64(buf, altLongitude, 18.07)
		buf = appendVarint(buf, altBrake, 0)
		buf = appendFloat32(buf, altAccelX, 0.25)

		sample, err := decodeMessage(buf)
		require.NoError(t, err)

		require.Equal(t, uint64(9), sample.FrameSeq)
		require.InDelta(t, 12.5, sample.SpeedMph, 0.0001)
		require.Equal(t, GearReverse, sample.Gear)
		require.InDelta(t, 59.33, sample.Latitude, 0.0001)
		require.InDelta(t, 18.07, sample.Longitude, 0.0001)
		require.False(t, sample.BrakeApplied)
		require.InDelta(t, 0.25, sample.AccelX, 0.0001)
	})
	t.Run("unknownFieldSkipped", func(t *testing.T) {
		buf := appendVarint(nil, fieldFrameSeq, 3)
		buf = protowire.AppendTag(buf, 15, protowire.BytesType)
		buf = protowire.AppendBytes(buf, []byte("future extension"))
		buf = appendFloat64(buf, fieldSpeed, 5)

		sample, err := decodeMessage(buf)
		require.NoError(t, err)
		require.Equal(t, uint64(3), sample.FrameSeq)
		require.InDelta(t, 5, sample.SpeedMph, 0.0001)
	})
	t.Run("absentFieldsZero", func(t *testing.T) {
		sample, err := decodeMessage(nil)
		require.NoError(t, err)
		require.Equal(t, Sample{}, sample)
	})
	t.Run("malformed", func(t *testing.T) {
		// Tag announces a fixed64 that is not there.
		buf := protowire.AppendTag(nil, fieldSpeed, protowire.Fixed64Type)
		_, err := decodeMessage(buf)
		require.ErrorIs(t, err, ErrMalformedMessage)
	})
}

func TestGearString(t *testing.T) {
	require.Equal(t, "P", GearPark.String())
	require.Equal(t, "R", GearReverse.String())
	require.Equal(t, "N", GearNeutral.String())
	require.Equal(t, "D", GearDrive.String())
	require.Equal(t, "?", GearUnknown.String())
}

func TestAutopilotStateString(t *testing.T) {
	require.Equal(t, "disabled", AutopilotDisabled.String())
	require.Equal(t, "active", AutopilotActive.String())
	require.Equal(t, "unknown", AutopilotState(99).String())
}
