// SPDX-License-Identifier: GPL-2.0-or-later

// Package playback defines the contract with the decode-capable
// media backend. The core treats a handle as an opaque capability;
// any backend satisfying this interface is interchangeable.
package playback

import "context"

// EventKind is the small enumerated event type emitted by a handle.
type EventKind int

// Handle events.
const (
	MetadataReady EventKind = iota
	FrameReady
	PositionAdvanced
	Ended
	Error
)

func (k EventKind) String() string {
	switch k {
	case MetadataReady:
		return "metadataReady"
	case FrameReady:
		return "frameReady"
	case PositionAdvanced:
		return "positionAdvanced"
	case Ended:
		return "ended"
	case Error:
		return "error"
	}
	return "unknown"
}

// Event is emitted by a handle.
type Event struct {
	Kind EventKind

	// Position in seconds at the time of the event.
	Position float64

	// Err is only set for Error events.
	Err error
}

// Handle is one decode-capable playback resource, one per camera slot.
type Handle interface {
	// SetSource replaces the handle's source. Position and
	// duration are undefined until the next Load.
	SetSource(path string)

	// Load prepares the current source for playback. A FrameReady
	// event is emitted once a decodable frame is available.
	Load(ctx context.Context) error

	Play()
	Pause()
	Playing() bool

	// Position in seconds within the current source.
	Position() float64
	SetPosition(seconds float64)

	// Duration of the current source in seconds.
	// ok is false until metadata is ready.
	Duration() (float64, bool)

	// Rate is the playback-rate multiplier, 1.0 is nominal.
	Rate() float64
	SetRate(rate float64)

	// Events returns the handle's event feed.
	Events() <-chan Event

	Close() error
}
