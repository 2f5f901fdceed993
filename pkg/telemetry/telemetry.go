// SPDX-License-Identifier: GPL-2.0-or-later

// Package telemetry extracts the per-frame vehicle telemetry embedded
// in a segment's video container and aligns it to playback time.
package telemetry

import (
	"bytes"
	"io"
	"math"
	"sync"

	"dashview/pkg/telemetry/mp4"
)

// Sample is one decoded frame-level telemetry record.
type Sample struct {
	// TimestampMs is the frame's presentation time within the
	// segment. Monotonic non-decreasing within one series.
	TimestampMs int64

	FrameSeq       uint64
	SpeedMph       float64
	Gear           Gear
	Latitude       float64
	Longitude      float64
	Heading        float64
	SteeringAngle  float64
	Autopilot      AutopilotState
	BrakeApplied   bool
	AcceleratorPct float64
	AccelX         float64
	AccelY         float64
	AccelZ         float64
}

// GPSPoint is one point of the derived path.
type GPSPoint struct {
	TimestampMs int64
	Latitude    float64
	Longitude   float64
}

// Series is a per-segment, ascending-by-timestamp sample sequence.
// It is replaced whole when a new segment loads, never merged.
type Series struct {
	samples []Sample
	path    []GPSPoint

	// Nearest lookups usually advance with playback, so scans start
	// from the previous hit.
	mu      sync.Mutex
	lastIdx int
}

// NewSeries builds a series from ascending samples and derives the
// GPS path from samples passing the validity filter.
func NewSeries(samples []Sample) *Series {
	var path []GPSPoint
	for _, sample := range samples {
		if !validGPS(sample.Latitude, sample.Longitude) {
			continue
		}
		path = append(path, GPSPoint{
			TimestampMs: sample.TimestampMs,
			Latitude:    sample.Latitude,
			Longitude:   sample.Longitude,
		})
	}

	return &Series{
		samples: samples,
		path:    path,
	}
}

// Empty reports whether the series has no samples. The consuming
// layer presents a "no telemetry" state, this is not an error.
func (s *Series) Empty() bool {
	return len(s.samples) == 0
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.samples)
}

// Samples returns the full ascending sample list.
func (s *Series) Samples() []Sample {
	return s.samples
}

// Path returns the GPS points passing the validity filter.
func (s *Series) Path() []GPSPoint {
	return s.path
}

// Nearest returns the sample whose timestamp is closest to ms.
// Closest, not latest: a query before the first sample returns the
// first sample. ok is false on an empty series.
func (s *Series) Nearest(ms int64) (Sample, bool) {
	if len(s.samples) == 0 {
		return Sample{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.lastIdx
	if i >= len(s.samples) || s.samples[i].TimestampMs > ms {
		// Scrubbed backwards, restart the scan.
		i = 0
	}

	best := i
	bestDist := distance(s.samples[i].TimestampMs, ms)
	for j := i + 1; j < len(s.samples); j++ {
		d := distance(s.samples[j].TimestampMs, ms)
		if d > bestDist {
			// The list is ascending, distance only grows from here.
			break
		}
		best = j
		bestDist = d
	}

	s.lastIdx = best
	return s.samples[best], true
}

func distance(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// validGPS reports whether a coordinate pair contributes to the path.
// (0,0) means "no fix" and is legitimately absent while parked or
// acquiring satellites.
func validGPS(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) ||
		math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 {
		return false
	}
	if lon < -180 || lon > 180 {
		return false
	}
	return true
}

// Extract decodes the telemetry series from one camera's container
// bytes for one segment.
//
// A corrupt or absent container, or one with no recognizable
// telemetry, yields an empty series. The error is informational for
// logging; playback must proceed either way.
func Extract(raw []byte) (*Series, error) {
	reader := bytes.NewReader(raw)

	info, err := mp4.Parse(reader, int64(len(raw)))
	if err != nil {
		return NewSeries(nil), err
	}

	samples := make([]Sample, 0, len(info.Samples))
	buf := []byte{}
	for _, si := range info.Samples {
		if _, err := reader.Seek(si.Offset, io.SeekStart); err != nil {
			continue
		}
		if cap(buf) < int(si.Size) {
			buf = make([]byte, si.Size)
		}
		buf = buf[:si.Size]
		if _, err := io.ReadFull(reader, buf); err != nil {
			continue
		}

		nalus, err := splitNALUs(buf, info.NALLengthSize)
		if err != nil {
			continue
		}

		for _, payload := range telemetryPayloads(nalus) {
			sample, err := decodeMessage(payload)
			if err != nil {
				continue
			}
			sample.TimestampMs = si.PTSMilli
			samples = append(samples, sample)
		}
	}

	fixDegenerateTimes(samples, info.SPS)

	return NewSeries(samples), nil
}

// fixDegenerateTimes rebuilds frame times from the SPS nominal frame
// rate when an encoder wrote a zeroed time-to-sample table.
func fixDegenerateTimes(samples []Sample, sps []byte) {
	if len(samples) < 2 {
		return
	}
	if samples[len(samples)-1].TimestampMs != 0 {
		return
	}

	fps, ok := frameRate(sps)
	if !ok || fps <= 0 {
		return
	}

	for i := range samples {
		samples[i].TimestampMs = int64(float64(i) * 1000 / fps)
	}
}
