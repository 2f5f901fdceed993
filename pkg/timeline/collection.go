// SPDX-License-Identifier: GPL-2.0-or-later

// Package timeline stitches independently encoded segments into one
// seekable virtual timeline.
package timeline

import (
	"sort"
	"sync"
	"time"

	"dashview/pkg/clipindex"
)

// DefaultSegmentSeconds is the provisional duration used for every
// segment until its true playable duration has been probed.
const DefaultSegmentSeconds = 60

// Collection is an ordered run of clip groups with cumulative
// segment-start offsets. Durations start as estimates and are
// corrected in place by the prober and the sync engine.
type Collection struct {
	run *clipindex.Run

	mu        sync.Mutex
	durations []float64
	// starts always has len(durations)+1 entries, starts[0] == 0 and
	// starts[i+1] == starts[i]+durations[i]. Recomputed in O(n) after
	// any single correction.
	starts    []float64
	anchorMs  int64
	hasAnchor bool
}

// NewCollection returns a collection with estimated durations.
func NewCollection(run *clipindex.Run) *Collection {
	n := len(run.Groups)
	durations := make([]float64, n)
	for i := range durations {
		durations[i] = DefaultSegmentSeconds
	}

	c := &Collection{
		run:       run,
		durations: durations,
		starts:    make([]float64, n+1),
	}
	c.recomputeStarts(0)
	return c
}

// Run returns the underlying clip run.
func (c *Collection) Run() *clipindex.Run {
	return c.run
}

// SegmentCount returns the number of segments.
func (c *Collection) SegmentCount() int {
	return len(c.run.Groups)
}

// Group returns the clip group at idx.
func (c *Collection) Group(idx int) *clipindex.Group {
	return c.run.Groups[idx]
}

// TotalDuration returns the current total duration in seconds.
func (c *Collection) TotalDuration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts[len(c.starts)-1]
}

// SegmentDuration returns the current duration of segment idx.
func (c *Collection) SegmentDuration(idx int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durations[idx]
}

// SegmentStart returns the day position where segment idx begins.
func (c *Collection) SegmentStart(idx int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts[idx]
}

// Starts returns a copy of the cumulative start offsets.
func (c *Collection) Starts() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.starts))
	copy(out, c.starts)
	return out
}

// SetDuration replaces the duration of segment idx and recomputes
// every subsequent cumulative start in place.
func (c *Collection) SetDuration(idx int, seconds float64) {
	if seconds <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durations[idx] = seconds
	c.recomputeStarts(idx)
}

func (c *Collection) recomputeStarts(from int) {
	for i := from; i < len(c.durations); i++ {
		c.starts[i+1] = c.starts[i] + c.durations[i]
	}
}

// Resolve maps a day position in seconds to a segment index and a
// local offset within that segment. The target is clamped to
// [0, total]. The final boundary resolves to the last segment.
func (c *Collection) Resolve(targetSec float64) (int, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.durations)
	total := c.starts[n]

	if targetSec <= 0 {
		return 0, 0
	}
	if targetSec >= total {
		return n - 1, c.durations[n-1]
	}

	// Greatest idx with starts[idx] <= target.
	idx := sort.Search(n, func(i int) bool {
		return c.starts[i+1] > targetSec
	})
	return idx, targetSec - c.starts[idx]
}

// Position reconstructs a day position from a segment index and a
// local offset.
func (c *Collection) Position(idx int, localSec float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts[idx] + localSec
}

// Percent returns pos as a percentage of the total duration.
func (c *Collection) Percent(pos float64) float64 {
	total := c.TotalDuration()
	if total == 0 {
		return 0
	}
	return pos / total * 100
}

// SetAnchor marks an event-centered start offset in milliseconds
// from the start of the collection.
func (c *Collection) SetAnchor(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchorMs = ms
	c.hasAnchor = true
}

// Anchor returns the event-centered start offset in seconds.
func (c *Collection) Anchor() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.anchorMs) / 1000, c.hasAnchor
}

// AnchorToEvent computes and sets the anchor from an event wall-clock
// time using the groups' timestamp keys. Points at the segment that
// was recording when the event fired.
func (c *Collection) AnchorToEvent(eventTime time.Time) {
	groups := c.run.Groups
	idx := 0
	for i, group := range groups {
		if group.Time.After(eventTime) {
			break
		}
		idx = i
	}

	offset := eventTime.Sub(groups[idx].Time).Seconds()
	if offset < 0 {
		offset = 0
	}
	if max := c.SegmentDuration(idx); offset > max {
		offset = max
	}

	c.SetAnchor(int64((c.SegmentStart(idx) + offset) * 1000))
}
