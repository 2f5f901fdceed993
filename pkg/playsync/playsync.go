// SPDX-License-Identifier: GPL-2.0-or-later

// Package playsync keeps up to six camera streams frame-aligned to a
// single master playback handle.
package playsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"dashview/pkg/clipindex"
	"dashview/pkg/log"
	"dashview/pkg/playback"
	"dashview/pkg/storage"
	"dashview/pkg/telemetry"
	"dashview/pkg/timeline"
)

// Config sync engine config.
type Config struct {
	// HardThreshold in seconds. Followers drifting past it are
	// hard-seeked to the master position.
	HardThreshold float64

	// SoftThreshold in seconds. Followers inside the soft window are
	// rate-nudged instead of seeked to avoid visible frame jumps.
	SoftThreshold float64

	// RateNudge is the playback-rate correction factor, e.g. 0.03.
	RateNudge float64

	// LoadTimeout bounds how long the transition barrier waits for
	// each follower.
	LoadTimeout time.Duration
}

// DefaultConfig .
func DefaultConfig() Config {
	return Config{
		HardThreshold: 0.2,
		SoftThreshold: 0.05,
		RateNudge:     0.03,
		LoadTimeout:   10 * time.Second,
	}
}

// SegmentLoadedHook is called after every successful master load.
// The token identifies the load for staleness checks.
type SegmentLoadedHook func(idx int, group *clipindex.Group, token uint64)

// Engine owns the master/follower handle set. No other component may
// mutate a handle's position or play state directly.
type Engine struct {
	cfg    Config
	store  storage.FileStore
	logger *log.Logger

	mu            sync.Mutex
	handles       map[clipindex.Camera]playback.Handle
	active        []clipindex.Camera
	master        clipindex.Camera
	masterChanged chan struct{}

	coordinator  *timeline.Coordinator
	currentIdx   int
	currentGroup *clipindex.Group

	loadSeq uint64

	series      *telemetry.Series
	seriesToken uint64

	onSegmentLoaded SegmentLoadedHook

	playbackContext PlaybackContext
}

// Engine errors.
var (
	ErrNoMasterHandle  = errors.New("no handle for master camera")
	ErrNoMasterSource  = errors.New("group has no file for master camera")
	ErrMasterNotActive = errors.New("master camera not in layout")
	ErrUnknownCamera   = errors.New("unknown camera")
)

// NewEngine returns an engine over the handle set. The master camera
// drives all timeline advancement; the rest are followers.
func NewEngine(
	cfg Config,
	store storage.FileStore,
	logger *log.Logger,
	handles map[clipindex.Camera]playback.Handle,
	layout []clipindex.Camera,
	master clipindex.Camera,
) (*Engine, error) {
	if _, exist := handles[master]; !exist {
		return nil, ErrNoMasterHandle
	}
	if !cameraInLayout(master, layout) {
		return nil, ErrMasterNotActive
	}

	return &Engine{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		handles:       handles,
		active:        layout,
		master:        master,
		masterChanged: make(chan struct{}, 1),
	}, nil
}

// AttachCoordinator wires the coordinator once it exists. The
// coordinator is constructed with the engine as its transport, so
// this runs after both are built.
func (e *Engine) AttachCoordinator(co *timeline.Coordinator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.coordinator = co
	e.playbackContext.setMode(ModeCollection)
}

// SetSegmentLoadedHook registers the post-load hook, typically the
// telemetry extraction kickoff.
func (e *Engine) SetSegmentLoadedHook(hook SegmentLoadedHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSegmentLoaded = hook
}

// Context returns the playback context for presentation layers.
func (e *Engine) Context() *PlaybackContext {
	return &e.playbackContext
}

// LoadClip plays one group on its own, outside any collection. The
// position is tracked as percent of the clip. For engines without an
// attached coordinator.
func (e *Engine) LoadClip(ctx context.Context, group *clipindex.Group) error {
	e.playbackContext.setMode(ModeSingleClip)
	return e.LoadSegment(ctx, 0, group, 0)
}

// LoadSegment implements timeline.Transport.
//
// The master load is the barrier's hard requirement; followers are
// each bounded by LoadTimeout. A timed-out follower keeps loading in
// the background and is corrected on the next sync tick instead of
// blocking the whole transition.
func (e *Engine) LoadSegment(
	ctx context.Context,
	idx int,
	group *clipindex.Group,
	offset float64,
) error {
	e.mu.Lock()
	master := e.master
	masterHandle := e.handles[master]
	followers := e.activeFollowersLocked()
	e.loadSeq++
	token := e.loadSeq
	coordinator := e.coordinator
	hook := e.onSegmentLoaded
	e.mu.Unlock()

	masterFile, exist := group.Files[master]
	if !exist {
		return ErrNoMasterSource
	}

	masterHandle.SetSource(e.store.AbsPath(masterFile.RelativePath))
	if err := masterHandle.Load(ctx); err != nil {
		return fmt.Errorf("load master %v: %w", master, err)
	}

	// First successful load replaces the provisional duration and
	// recomputes all subsequent cumulative starts.
	if duration, ok := masterHandle.Duration(); ok && coordinator != nil {
		coordinator.Collection().SetDuration(idx, duration)
	}

	e.loadFollowers(ctx, followers, group)

	masterHandle.SetPosition(offset)
	for _, cam := range followers {
		e.handles[cam].SetPosition(offset)
	}

	e.mu.Lock()
	e.currentIdx = idx
	e.currentGroup = group
	// Telemetry for the previous segment is stale the moment a new
	// load lands, even if its extraction is still running.
	e.series = nil
	e.seriesToken = token
	e.mu.Unlock()

	if hook != nil {
		go hook(idx, group, token)
	}
	return nil
}

func (e *Engine) loadFollowers(
	ctx context.Context,
	followers []clipindex.Camera,
	group *clipindex.Group,
) {
	type result struct {
		cam clipindex.Camera
		err error
	}

	done := make(chan result, len(followers))
	waiting := 0
	for _, cam := range followers {
		file, exist := group.Files[cam]
		if !exist {
			continue
		}

		handle := e.handles[cam]
		handle.SetSource(e.store.AbsPath(file.RelativePath))

		waiting++
		go func(cam clipindex.Camera, handle playback.Handle) {
			done <- result{cam: cam, err: handle.Load(ctx)}
		}(cam, handle)
	}

	timeout := time.After(e.cfg.LoadTimeout)
	for waiting > 0 {
		select {
		case res := <-done:
			waiting--
			if res.err != nil {
				// A follower-only failure never aborts the master.
				e.logger.Warn().
					Src("sync").
					Cam(string(res.cam)).
					Msgf("follower load failed: %v", res.err)
			}
		case <-timeout:
			// Left loading in the background, resynced later.
			e.logger.Debug().
				Src("sync").
				Msgf("%v follower(s) still loading, not blocking transition", waiting)
			return
		case <-ctx.Done():
			return
		}
	}
}

// Play implements timeline.Transport.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles[e.master].Play()
	for _, cam := range e.activeFollowersLocked() {
		e.handles[cam].Play()
	}
}

// Pause implements timeline.Transport.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles[e.master].Pause()
	for _, cam := range e.activeFollowersLocked() {
		e.handles[cam].Pause()
	}
}

// SetPosition implements timeline.Transport.
func (e *Engine) SetPosition(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handles[e.master].SetPosition(seconds)
	for _, cam := range e.activeFollowersLocked() {
		e.handles[cam].SetPosition(seconds)
	}
}

// MasterPosition implements timeline.Transport.
func (e *Engine) MasterPosition() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[e.master].Position()
}

// Run pumps master handle events until ctx is canceled. Every
// position update drives one follower correction cycle.
func (e *Engine) Run(ctx context.Context) {
	for {
		e.mu.Lock()
		events := e.handles[e.master].Events()
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return

		case <-e.masterChanged:
			// Re-arm on the new master's event channel.

		case event := <-events:
			e.handleMasterEvent(ctx, event)
		}
	}
}

func (e *Engine) handleMasterEvent(ctx context.Context, event playback.Event) {
	switch event.Kind {
	case playback.PositionAdvanced:
		e.tick(event.Position)

	case playback.Ended:
		e.mu.Lock()
		coordinator := e.coordinator
		e.mu.Unlock()
		if coordinator != nil {
			coordinator.HandleEnded(ctx)
		}

	case playback.Error:
		e.logger.Error().
			Src("sync").
			Cam(string(e.Master())).
			Msgf("master handle: %v", event.Err)

	case playback.MetadataReady, playback.FrameReady:
	}
}

// tick runs one drift-correction cycle against the master position
// and refreshes the playback context.
func (e *Engine) tick(masterPos float64) {
	e.mu.Lock()
	masterHandle := e.handles[e.master]
	followers := e.activeFollowersLocked()
	coordinator := e.coordinator
	e.mu.Unlock()

	masterPlaying := masterHandle.Playing()

	for _, cam := range followers {
		e.correctFollower(cam, masterPos, masterPlaying)
	}

	if coordinator == nil || e.playbackContext.currentMode() == ModeSingleClip {
		var percent float64
		if duration, ok := masterHandle.Duration(); ok && duration > 0 {
			percent = masterPos / duration * 100
		}
		e.playbackContext.update(masterPos, percent, 0, masterPlaying)
		return
	}
	day := coordinator.UpdatePosition(masterPos)
	e.playbackContext.update(
		day,
		coordinator.Collection().Percent(day),
		coordinator.SegmentIndex(),
		masterPlaying,
	)
}

func (e *Engine) correctFollower(cam clipindex.Camera, masterPos float64, masterPlaying bool) {
	handle := e.handles[cam]

	if masterPlaying && !handle.Playing() {
		handle.Play()
	}

	drift := handle.Position() - masterPos
	absDrift := math.Abs(drift)

	switch {
	case absDrift > e.cfg.HardThreshold:
		handle.SetPosition(masterPos)
		handle.SetRate(1)

	case absDrift > e.cfg.SoftThreshold:
		if drift > 0 {
			handle.SetRate(1 - e.cfg.RateNudge)
		} else {
			handle.SetRate(1 + e.cfg.RateNudge)
		}

	default:
		if handle.Rate() != 1 {
			handle.SetRate(1)
		}
	}
}

// Master returns the master camera.
func (e *Engine) Master() clipindex.Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// SetMaster designates a different camera as master. The handle set
// is unchanged; followers resync to the new master on the next tick.
func (e *Engine) SetMaster(cam clipindex.Camera) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exist := e.handles[cam]; !exist {
		return ErrUnknownCamera
	}
	if !cameraInLayout(cam, e.active) {
		return ErrMasterNotActive
	}
	e.master = cam

	// Unblock the event pump so it re-arms on the new master.
	select {
	case e.masterChanged <- struct{}{}:
	default:
	}
	return nil
}

// SetLayout changes which cameras are active. Only the affected
// handles reload their sources; the master's position is preserved
// and followers resync as normal.
func (e *Engine) SetLayout(ctx context.Context, layout []clipindex.Camera) error {
	e.mu.Lock()
	if !cameraInLayout(e.master, layout) {
		e.mu.Unlock()
		return ErrMasterNotActive
	}
	for _, cam := range layout {
		if _, exist := e.handles[cam]; !exist {
			e.mu.Unlock()
			return ErrUnknownCamera
		}
	}

	previous := e.active
	e.active = layout
	group := e.currentGroup
	masterPos := e.handles[e.master].Position()
	masterPlaying := e.handles[e.master].Playing()
	e.mu.Unlock()

	for _, cam := range previous {
		if !cameraInLayout(cam, layout) {
			e.handles[cam].Pause()
		}
	}

	if group == nil {
		return nil
	}

	for _, cam := range layout {
		if cam == e.Master() || cameraInLayout(cam, previous) {
			continue
		}
		file, exist := group.Files[cam]
		if !exist {
			continue
		}

		handle := e.handles[cam]
		handle.SetSource(e.store.AbsPath(file.RelativePath))
		if err := handle.Load(ctx); err != nil {
			e.logger.Warn().
				Src("sync").
				Cam(string(cam)).
				Msgf("load on layout change failed: %v", err)
			continue
		}
		handle.SetPosition(masterPos)
		if masterPlaying {
			handle.Play()
		}
	}
	return nil
}

// TelemetryToken returns the staleness token of the current segment.
func (e *Engine) TelemetryToken() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seriesToken
}

// SetTelemetry attaches a decoded series for the current segment.
// Late-arriving results from a superseded load are discarded.
func (e *Engine) SetTelemetry(token uint64, series *telemetry.Series) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token != e.seriesToken {
		return
	}
	e.series = series
}

// TelemetrySample returns the sample closest to the master position.
// ok is false while no telemetry is available for this stretch.
func (e *Engine) TelemetrySample() (telemetry.Sample, bool) {
	e.mu.Lock()
	series := e.series
	masterPos := e.handles[e.master].Position()
	e.mu.Unlock()

	if series == nil {
		return telemetry.Sample{}, false
	}
	return series.Nearest(int64(masterPos * 1000))
}

func (e *Engine) activeFollowersLocked() []clipindex.Camera {
	var followers []clipindex.Camera
	for _, cam := range e.active {
		if cam == e.master {
			continue
		}
		if _, exist := e.handles[cam]; exist {
			followers = append(followers, cam)
		}
	}
	return followers
}

func cameraInLayout(cam clipindex.Camera, layout []clipindex.Camera) bool {
	for _, c := range layout {
		if c == cam {
			return true
		}
	}
	return false
}
