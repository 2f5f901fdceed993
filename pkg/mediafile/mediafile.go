// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediafile is a reference decode backend over local mp4
// files. It satisfies the playback handle contract with a wall-clock
// position, which is all the core needs; rendering belongs to the
// surrounding application.
package mediafile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"dashview/pkg/playback"
	"dashview/pkg/telemetry/mp4"
)

const tickInterval = 100 * time.Millisecond

// Handle implements playback.Handle over a local file.
type Handle struct {
	mu       sync.Mutex
	source   string
	duration float64
	loaded   bool
	playing  bool
	rate     float64
	position float64

	events chan playback.Event
}

// NewHandle returns a handle and starts its clock. The clock stops
// when ctx is canceled.
func NewHandle(ctx context.Context) *Handle {
	h := &Handle{
		rate:   1,
		events: make(chan playback.Event, 64),
	}
	go h.clock(ctx)
	return h
}

// clock advances the position in real time while playing.
func (h *Handle) clock(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now
			h.advance(elapsed)
		}
	}
}

func (h *Handle) advance(elapsed float64) {
	h.mu.Lock()
	if !h.playing || !h.loaded {
		h.mu.Unlock()
		return
	}

	h.position += elapsed * h.rate

	ended := false
	if h.position >= h.duration {
		h.position = h.duration
		h.playing = false
		ended = true
	}
	pos := h.position
	h.mu.Unlock()

	h.emit(playback.Event{Kind: playback.PositionAdvanced, Position: pos})
	if ended {
		h.emit(playback.Event{Kind: playback.Ended, Position: pos})
	}
}

// SetSource implements playback.Handle.
func (h *Handle) SetSource(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = path
	h.loaded = false
	h.playing = false
	h.position = 0
}

// Load implements playback.Handle.
func (h *Handle) Load(ctx context.Context) error {
	h.mu.Lock()
	source := h.source
	h.mu.Unlock()

	duration, err := ProbeDuration(ctx, source)
	if err != nil {
		h.emit(playback.Event{Kind: playback.Error, Err: err})
		return err
	}

	h.mu.Lock()
	h.duration = duration
	h.loaded = true
	h.position = 0
	h.mu.Unlock()

	h.emit(playback.Event{Kind: playback.MetadataReady})
	h.emit(playback.Event{Kind: playback.FrameReady})
	return nil
}

// Play implements playback.Handle.
func (h *Handle) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		h.playing = true
	}
}

// Pause implements playback.Handle.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
}

// Playing implements playback.Handle.
func (h *Handle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// Position implements playback.Handle.
func (h *Handle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// SetPosition implements playback.Handle.
func (h *Handle) SetPosition(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	if h.loaded && seconds > h.duration {
		seconds = h.duration
	}
	h.position = seconds
}

// Duration implements playback.Handle.
func (h *Handle) Duration() (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration, h.loaded
}

// Rate implements playback.Handle.
func (h *Handle) Rate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rate
}

// SetRate implements playback.Handle.
func (h *Handle) SetRate(rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rate > 0 {
		h.rate = rate
	}
}

// Events implements playback.Handle.
func (h *Handle) Events() <-chan playback.Event {
	return h.events
}

// Close implements playback.Handle.
func (h *Handle) Close() error {
	return nil
}

func (h *Handle) emit(event playback.Event) {
	select {
	case h.events <- event:
	default:
	}
}

// ProbeDuration reads the movie duration from a file's mvhd box.
// Satisfies timeline.ProbeFunc.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open segment: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat segment: %w", err)
	}

	duration, err := mp4.Duration(file, stat.Size())
	if err != nil {
		return 0, fmt.Errorf("probe duration: %v: %w", path, err)
	}
	return duration, nil
}
