// SPDX-License-Identifier: GPL-2.0-or-later

package telemetry

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNearest(t *testing.T) {
	series := NewSeries([]Sample{
		{TimestampMs: 0, SpeedMph: 1},
		{TimestampMs: 1000, SpeedMph: 2},
		{TimestampMs: 2000, SpeedMph: 3},
	})

	cases := map[string]struct {
		query    int64
		expected int64
	}{
		"exact":         {1000, 1000},
		"closestBefore": {900, 1000},
		"closestAfter":  {1999, 2000},
		"beforeFirst":   {-5, 0},
		"afterLast":     {99999, 2000},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sample, ok := series.Nearest(tc.query)
			require.True(t, ok)
			require.Equal(t, tc.expected, sample.TimestampMs)
		})
	}

	t.Run("backwardScrub", func(t *testing.T) {
		// Advance the scan cursor to the end, then query earlier.
		sample, ok := series.Nearest(2000)
		require.True(t, ok)
		require.Equal(t, int64(2000), sample.TimestampMs)

		sample, ok = series.Nearest(100)
		require.True(t, ok)
		require.Equal(t, int64(0), sample.TimestampMs)
	})
	t.Run("empty", func(t *testing.T) {
		_, ok := NewSeries(nil).Nearest(0)
		require.False(t, ok)
		require.True(t, NewSeries(nil).Empty())
	})
}

func TestGPSPath(t *testing.T) {
	series := NewSeries([]Sample{
		{TimestampMs: 0, Latitude: 0, Longitude: 0},            // No fix.
		{TimestampMs: 100, Latitude: 37.7, Longitude: -122.4},  // Valid.
		{TimestampMs: 200, Latitude: 91, Longitude: 10},        // Out of range.
		{TimestampMs: 300, Latitude: 10, Longitude: -181},      // Out of range.
		{TimestampMs: 400, Latitude: math.NaN(), Longitude: 1}, // Not finite.
		{TimestampMs: 500, Latitude: -33.9, Longitude: 18.4},   // Valid.
	})

	require.Equal(t, []GPSPoint{
		{TimestampMs: 100, Latitude: 37.7, Longitude: -122.4},
		{TimestampMs: 500, Latitude: -33.9, Longitude: 18.4},
	}, series.Path())
	require.Equal(t, 6, series.Len())
}

func u32be(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func testContainerBox(typ string, payload []byte) []byte {
	buf := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(8+len(payload)))
	copy(buf[4:], typ)
	return append(buf, payload...)
}

func avccSample(nalus ...[]byte) []byte {
	var sample []byte
	for _, nalu := range nalus {
		sample = append(sample, u32be(uint32(len(nalu)))...)
		sample = append(sample, nalu...)
	}
	return sample
}

func telemetryNAL(message []byte) []byte {
	payload := append(append([]byte{}, telemetryUUID...), message...)
	return seiNAL(seiMessage(seiTypeUserDataUnregistered, payload))
}

// buildTestContainer assembles a one-track container whose mdat holds
// the given AVCC samples, each as one frame with ptsDelta ticks at
// timescale 1000.
func buildTestContainer(t *testing.T, sps []byte, ptsDelta uint32, samples ...[]byte) []byte {
	t.Helper()

	concat := func(parts ...[]byte) []byte {
		var out []byte
		for _, part := range parts {
			out = append(out, part...)
		}
		return out
	}

	avcC := testContainerBox("avcC", concat(
		[]byte{1, 0x42, 0x00, 0x1e, 0xff},
		[]byte{0xe1, 0x00, byte(len(sps))}, sps,
		[]byte{0x01, 0x00, 0x01}, []byte{0x68},
	))
	avc1 := testContainerBox("avc1", concat(make([]byte, 78), avcC))
	stsd := testContainerBox("stsd", concat(u32be(0), u32be(1), avc1))

	count := uint32(len(samples))
	stts := testContainerBox("stts", concat(
		u32be(0), u32be(1), u32be(count), u32be(ptsDelta)))

	stszPayload := concat(u32be(0), u32be(0), u32be(count))
	var mdat []byte
	for _, sample := range samples {
		stszPayload = concat(stszPayload, u32be(uint32(len(sample))))
		mdat = append(mdat, sample...)
	}
	stsz := testContainerBox("stsz", stszPayload)

	stsc := testContainerBox("stsc", concat(
		u32be(0), u32be(1), u32be(1), u32be(count), u32be(1)))

	buildMoov := func(sampleOffset uint32) []byte {
		stco := testContainerBox("stco", concat(u32be(0), u32be(1), u32be(sampleOffset)))
		stbl := testContainerBox("stbl", concat(stsd, stts, stsz, stsc, stco))
		minf := testContainerBox("minf", stbl)
		hdlr := testContainerBox("hdlr", concat(u32be(0), u32be(0), []byte("vide")))
		mdhd := testContainerBox("mdhd", concat(
			u32be(0), u32be(0), u32be(0), u32be(1000), u32be(60000), u32be(0)))
		mdia := testContainerBox("mdia", concat(mdhd, hdlr, minf))
		trak := testContainerBox("trak", mdia)
		mvhd := testContainerBox("mvhd", concat(
			u32be(0), u32be(0), u32be(0), u32be(1000), u32be(59940), make([]byte, 12)))
		return testContainerBox("moov", concat(mvhd, trak))
	}

	moovSize := len(buildMoov(0))
	return concat(buildMoov(uint32(moovSize+8)), testContainerBox("mdat", mdat))
}

func TestExtract(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1e}

	t.Run("working", func(t *testing.T) {
		msg1 := appendFloat64(appendVarint(nil, fieldFrameSeq, 1), fieldSpeed, 25.0)
		msg2 := appendFloat64(appendVarint(nil, fieldFrameSeq, 2), fieldSpeed, 26.5)

		raw := buildTestContainer(t, sps, 500,
			avccSample(telemetryNAL(msg1), []byte{0x65, 0x01}),
			avccSample(telemetryNAL(msg2)),
		)

		series, err := Extract(raw)
		require.NoError(t, err)
		require.Equal(t, 2, series.Len())

		samples := series.Samples()
		require.Equal(t, int64(0), samples[0].TimestampMs)
		require.Equal(t, uint64(1), samples[0].FrameSeq)
		require.InDelta(t, 25.0, samples[0].SpeedMph, 0.0001)
		require.Equal(t, int64(500), samples[1].TimestampMs)
		require.InDelta(t, 26.5, samples[1].SpeedMph, 0.0001)
	})
	t.Run("degenerateTimes", func(t *testing.T) {
		// A zeroed time-to-sample table falls back to the SPS frame
		// rate, two frames per second here.
		timingSPS := buildTimingSPS(t, 0x01010101, 0x04040404, true)

		msg1 := appendVarint(nil, fieldFrameSeq, 1)
		msg2 := appendVarint(nil, fieldFrameSeq, 2)

		raw := buildTestContainer(t, timingSPS, 0,
			avccSample(telemetryNAL(msg1)),
			avccSample(telemetryNAL(msg2)),
		)

		series, err := Extract(raw)
		require.NoError(t, err)
		require.Equal(t, 2, series.Len())
		require.Equal(t, int64(0), series.Samples()[0].TimestampMs)
		require.Equal(t, int64(500), series.Samples()[1].TimestampMs)
	})
	t.Run("noTelemetry", func(t *testing.T) {
		raw := buildTestContainer(t, sps, 500,
			avccSample([]byte{0x65, 0x01, 0x02}))

		series, err := Extract(raw)
		require.NoError(t, err)
		require.True(t, series.Empty())
	})
	t.Run("garbage", func(t *testing.T) {
		series, err := Extract([]byte{1, 2, 3, 4})
		require.Error(t, err)
		require.NotNil(t, series)
		require.True(t, series.Empty())
	})
	t.Run("empty", func(t *testing.T) {
		series, err := Extract(nil)
		require.Error(t, err)
		require.True(t, series.Empty())
	})
}
