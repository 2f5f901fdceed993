// SPDX-License-Identifier: GPL-2.0-or-later

package timeline

import (
	"context"
	"sync"

	"dashview/pkg/clipindex"
	"dashview/pkg/log"
)

// State of the coordinator.
type State int

// Coordinator states.
const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateSeeking
	StateTransitioning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSeeking:
		return "seeking"
	case StateTransitioning:
		return "transitioning"
	}
	return "unknown"
}

// Transport is the sync engine surface the coordinator drives.
// All handle mutation flows through it.
type Transport interface {
	// LoadSegment loads segment idx's group into every active handle
	// and blocks until a decodable frame is available, then positions
	// the handles at offset seconds.
	LoadSegment(ctx context.Context, idx int, group *clipindex.Group, offset float64) error

	Play()
	Pause()

	// SetPosition hard-sets every handle within the current segment.
	SetPosition(seconds float64)

	// MasterPosition is the master handle's position within the
	// current segment.
	MasterPosition() float64
}

// Coordinator maps day positions to segments and orchestrates
// segment loading, seeking and end-of-segment transitions for one
// active collection.
//
// The underlying decode resource can't cancel an in-flight load, so
// every load carries a monotonically increasing token and completions
// with a stale token are discarded. At most one load is logically in
// flight; superseded ones run to completion in the background.
type Coordinator struct {
	collection *Collection
	transport  Transport
	logger     *log.Logger

	mu        sync.Mutex
	state     State
	segIdx    int
	playing   bool
	loadToken uint64

	// Most recent seek requested while a load was in flight.
	// Only the newest one wins.
	pendingSeek    float64
	hasPendingSeek bool

	// Last UI-visible day position. Updated from resolved loads and
	// master position updates, never from stale completions.
	displayPos float64
}

// NewCoordinator returns an idle coordinator for the collection.
func NewCoordinator(collection *Collection, transport Transport, logger *log.Logger) *Coordinator {
	return &Coordinator{
		collection: collection,
		transport:  transport,
		logger:     logger,
	}
}

// Collection returns the active collection.
func (co *Coordinator) Collection() *Collection {
	return co.collection
}

// Activate loads the first segment, or the anchored segment for
// event-centered collections.
func (co *Coordinator) Activate(ctx context.Context) {
	idx, offset := 0, 0.0
	if anchor, exist := co.collection.Anchor(); exist {
		idx, offset = co.collection.Resolve(anchor)
	}

	co.mu.Lock()
	defer co.mu.Unlock()
	if co.state != StateIdle {
		return
	}
	co.displayPos = co.collection.Position(idx, offset)
	co.startLoadLocked(ctx, StateLoading, idx, offset, false)
}

// Seek requests a day position. Requests made while a load is in
// flight are coalesced, only the most recent wins.
func (co *Coordinator) Seek(ctx context.Context, targetSec float64) {
	if targetSec < 0 {
		targetSec = 0
	}
	if total := co.collection.TotalDuration(); targetSec > total {
		targetSec = total
	}

	co.mu.Lock()
	defer co.mu.Unlock()

	// The visible position reflects the newest request immediately
	// and must not regress while the seek resolves.
	co.displayPos = targetSec

	switch co.state {
	case StateLoading, StateSeeking, StateTransitioning:
		co.pendingSeek = targetSec
		co.hasPendingSeek = true
		return
	case StateIdle, StateReady:
	}

	// This request supersedes any seek left over from a failed load.
	co.hasPendingSeek = false
	co.seekLocked(ctx, targetSec)
}

func (co *Coordinator) seekLocked(ctx context.Context, targetSec float64) {
	idx, local := co.collection.Resolve(targetSec)

	if co.state == StateReady && idx == co.segIdx {
		co.transport.SetPosition(local)
		return
	}

	co.startLoadLocked(ctx, StateSeeking, idx, local, co.playing)
}

// HandleEnded advances to the next segment when the master reports
// end-of-stream while playing. Playback resumes automatically once
// the next segment is ready. At the end of the collection, playback
// stops on the last segment.
func (co *Coordinator) HandleEnded(ctx context.Context) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if co.state != StateReady || !co.playing {
		return
	}

	next := co.segIdx + 1
	if next >= co.collection.SegmentCount() {
		co.playing = false
		co.transport.Pause()
		return
	}

	co.startLoadLocked(ctx, StateTransitioning, next, 0, true)
}

// startLoadLocked begins an asynchronous segment load. Caller must
// hold co.mu.
func (co *Coordinator) startLoadLocked(
	ctx context.Context,
	state State,
	idx int,
	offset float64,
	resume bool,
) {
	co.state = state
	co.loadToken++
	token := co.loadToken

	group := co.collection.Group(idx)

	go func() {
		err := co.transport.LoadSegment(ctx, idx, group, offset)
		co.completeLoad(ctx, token, idx, offset, resume, err)
	}()
}

func (co *Coordinator) completeLoad(
	ctx context.Context,
	token uint64,
	idx int,
	offset float64,
	resume bool,
	err error,
) {
	co.mu.Lock()
	defer co.mu.Unlock()

	// A newer load superseded this one.
	if token != co.loadToken {
		return
	}

	if err != nil {
		co.logger.Error().
			Src("timeline").
			Msgf("segment %v load failed: %v", idx, err)
		co.state = StateIdle
		co.playing = false
		co.hasPendingSeek = false
		return
	}

	co.segIdx = idx
	co.state = StateReady

	if co.hasPendingSeek {
		target := co.pendingSeek
		co.hasPendingSeek = false
		co.displayPos = target
		co.seekLocked(ctx, target)
		return
	}

	co.displayPos = co.collection.Position(idx, offset)

	if resume {
		co.playing = true
		co.transport.Play()
	}
}

// Play starts playback of the current segment.
func (co *Coordinator) Play() {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.state != StateReady {
		return
	}
	co.playing = true
	co.transport.Play()
}

// Pause pauses playback.
func (co *Coordinator) Pause() {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.playing = false
	co.transport.Pause()
}

// UpdatePosition records the master's position within the current
// segment and returns the corresponding day position. Recomputed
// from the current cumulative starts, so duration corrections show
// up on the very next update.
func (co *Coordinator) UpdatePosition(localSec float64) float64 {
	co.mu.Lock()
	defer co.mu.Unlock()

	if co.state != StateReady {
		return co.displayPos
	}
	co.displayPos = co.collection.Position(co.segIdx, localSec)
	return co.displayPos
}

// DayPosition returns the UI-visible day position in seconds.
func (co *Coordinator) DayPosition() float64 {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.displayPos
}

// Percent returns the UI-visible position as percent of total.
func (co *Coordinator) Percent() float64 {
	return co.collection.Percent(co.DayPosition())
}

// SegmentIndex returns the current segment index.
func (co *Coordinator) SegmentIndex() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.segIdx
}

// State returns the current state.
func (co *Coordinator) State() State {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state
}

// Playing reports whether playback is active or will resume after
// the in-flight transition.
func (co *Coordinator) Playing() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.playing
}
