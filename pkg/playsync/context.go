// SPDX-License-Identifier: GPL-2.0-or-later

package playsync

import "sync"

// Mode of position accounting.
type Mode int

// Position modes.
const (
	// ModeCollection expresses the position as absolute day seconds.
	ModeCollection Mode = iota

	// ModeSingleClip expresses the position as percent of one clip.
	ModeSingleClip
)

// PlaybackContext is the single source of truth for "where we are".
// It is owned by the engine; every handle's position is derived from
// it, never the other way around.
type PlaybackContext struct {
	mu sync.Mutex

	mode         Mode
	daySeconds   float64
	percent      float64
	segmentIndex int
	playing      bool
}

// Snapshot is a point-in-time copy of the playback context.
type Snapshot struct {
	Mode         Mode
	DaySeconds   float64
	Percent      float64
	SegmentIndex int
	Playing      bool
}

// Snapshot returns a copy for presentation layers to poll.
func (c *PlaybackContext) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Mode:         c.mode,
		DaySeconds:   c.daySeconds,
		Percent:      c.percent,
		SegmentIndex: c.segmentIndex,
		Playing:      c.playing,
	}
}

func (c *PlaybackContext) update(day, percent float64, segIdx int, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.daySeconds = day
	c.percent = percent
	c.segmentIndex = segIdx
	c.playing = playing
}

func (c *PlaybackContext) currentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *PlaybackContext) setMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}
