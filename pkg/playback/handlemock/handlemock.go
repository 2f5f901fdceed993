// SPDX-License-Identifier: GPL-2.0-or-later

// Package handlemock provides a controllable playback.Handle for testing.
package handlemock

import (
	"context"
	"errors"
	"sync"
	"time"

	"dashview/pkg/playback"
)

// Config mock handle config.
type Config struct {
	Duration  float64
	LoadErr   bool
	LoadSleep time.Duration
}

// Handle is a manually driven playback.Handle.
type Handle struct {
	c Config

	mu       sync.Mutex
	source   string
	position float64
	rate     float64
	playing  bool
	loaded   bool

	events chan playback.Event
}

// ErrMockLoad mock load failure.
var ErrMockLoad = errors.New("mock load")

// New returns a mock handle.
func New(c Config) *Handle {
	return &Handle{
		c:      c,
		rate:   1,
		events: make(chan playback.Event, 64),
	}
}

// SetSource implements playback.Handle.
func (h *Handle) SetSource(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = path
	h.loaded = false
	h.position = 0
}

// Source returns the current source.
func (h *Handle) Source() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

// Load implements playback.Handle.
func (h *Handle) Load(ctx context.Context) error {
	if h.c.LoadSleep != 0 {
		select {
		case <-time.After(h.c.LoadSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if h.c.LoadErr {
		h.emit(playback.Event{Kind: playback.Error, Err: ErrMockLoad})
		return ErrMockLoad
	}

	h.mu.Lock()
	h.loaded = true
	h.mu.Unlock()

	h.emit(playback.Event{Kind: playback.MetadataReady})
	h.emit(playback.Event{Kind: playback.FrameReady})
	return nil
}

// Play implements playback.Handle.
func (h *Handle) Play() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = true
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
	h.position = seconds
}

// Duration implements playback.Handle.
func (h *Handle) Duration() (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.c.Duration, h.loaded
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
	h.rate = rate
}

// Events implements playback.Handle.
func (h *Handle) Events() <-chan playback.Event {
	return h.events
}

// Close implements playback.Handle.
func (h *Handle) Close() error {
	return nil
}

// Advance moves the position forward and emits PositionAdvanced.
func (h *Handle) Advance(seconds float64) {
	h.mu.Lock()
	h.position += seconds
	pos := h.position
	h.mu.Unlock()

	h.emit(playback.Event{Kind: playback.PositionAdvanced, Position: pos})
}

// End emits an Ended event.
func (h *Handle) End() {
	h.emit(playback.Event{Kind: playback.Ended, Position: h.Position()})
}

func (h *Handle) emit(event playback.Event) {
	select {
	case h.events <- event:
	default:
	}
}
