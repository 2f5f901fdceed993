// SPDX-License-Identifier: GPL-2.0-or-later

// Package dashview plays a day of multi-camera dashcam recordings as
// one continuous timeline with synchronized telemetry overlay.
package dashview

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"dashview/pkg/clipindex"
	"dashview/pkg/log"
	"dashview/pkg/mediafile"
	"dashview/pkg/playback"
	"dashview/pkg/playsync"
	"dashview/pkg/storage"
	"dashview/pkg/system"
	"dashview/pkg/telemetry"
	"dashview/pkg/timeline"
)

// Run .
func Run() error {
	envFlag := flag.String("env", "", "path to env.yaml")
	flag.Parse()

	if *envFlag == "" {
		flag.Usage()
		return nil
	}

	envPath, err := filepath.Abs(*envFlag)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := NewApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := make(chan error, 1)
	go func() { fatal <- app.run(ctx) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-fatal:
		app.Logger.Error().Src("app").Msgf("fatal error: %v", err)
	case sig := <-stop:
		app.Logger.Info().Src("app").Msgf("received %v, stopping", sig)
		err = nil
	}

	cancel()
	wg.Wait()
	return err
}

// App is the assembled player core.
type App struct {
	Env    *storage.ConfigEnv
	Logger *log.Logger

	logDB      *log.DB
	general    *storage.ConfigGeneral
	store      *storage.DirStore
	disk       *storage.Disk
	system     *system.System
	probeCache *timeline.ProbeCache

	wg *sync.WaitGroup

	mu      sync.Mutex
	session *Session
}

// NewApp assembles the core from an environment config.
func NewApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not read env.yaml: %w", err)
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}
	if err := env.PrepareEnvironment(); err != nil {
		return nil, err
	}

	logger := log.NewLogger(wg)
	logDB := log.NewDB(filepath.Join(env.CacheDir, "logs.db"), wg)

	general, err := storage.NewConfigGeneral(env.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("could not get general config: %w", err)
	}

	store, err := storage.NewDirStore(env.FootageDir)
	if err != nil {
		return nil, err
	}

	probeCache, err := timeline.OpenProbeCache(filepath.Join(env.CacheDir, "durations.db"))
	if err != nil {
		return nil, err
	}

	disk := storage.NewDisk(env.FootageDir)

	return &App{
		Env:    env,
		Logger: logger,

		logDB:      logDB,
		general:    general,
		store:      store,
		disk:       disk,
		system:     system.New(disk, logger),
		probeCache: probeCache,

		wg: wg,
	}, nil
}

// ErrNoRecordings no recordings found in the footage directory.
var ErrNoRecordings = errors.New("no recordings found")

func (app *App) run(ctx context.Context) error {
	app.Logger.Start(ctx)
	go app.Logger.LogToStdout(ctx)

	if err := app.logDB.Init(ctx); err != nil {
		return fmt.Errorf("could not initialize log database: %w", err)
	}
	go app.logDB.SaveLogs(ctx, app.Logger)
	go app.system.StatusLoop(ctx)

	app.wg.Add(1)
	go func() {
		<-ctx.Done()
		app.probeCache.Close()
		app.wg.Done()
	}()

	runs, index, err := app.Scan(ctx, nil)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return ErrNoRecordings
	}

	// Open the most recent day.
	session, err := app.OpenRun(ctx, runs[len(runs)-1], index)
	if err != nil {
		return err
	}
	session.Coordinator.Activate(ctx)

	<-ctx.Done()
	return nil
}

// Scan lists the footage directory and builds the clip index.
func (app *App) Scan(
	ctx context.Context,
	progress clipindex.ProgressFunc,
) ([]*clipindex.Run, *clipindex.Index, error) {
	entries, err := app.store.List()
	if err != nil {
		return nil, nil, fmt.Errorf("list footage: %w", err)
	}

	index, err := clipindex.Build(ctx, entries, progress)
	if err != nil {
		return nil, nil, fmt.Errorf("build index: %w", err)
	}

	runs := clipindex.Runs(index.Groups)
	app.Logger.Info().
		Src("app").
		Msgf("indexed %v groups in %v runs", len(index.Groups), len(runs))

	return runs, index, nil
}

// Session is one active day collection with its engine and handles.
type Session struct {
	Collection  *timeline.Collection
	Engine      *playsync.Engine
	Coordinator *timeline.Coordinator

	handles map[clipindex.Camera]playback.Handle
}

// OpenRun replaces the active session with one for the given run.
func (app *App) OpenRun(
	ctx context.Context,
	run *clipindex.Run,
	index *clipindex.Index,
) (*Session, error) {
	collection := timeline.NewCollection(run)

	cams := run.Cameras()
	if len(cams) == 0 {
		return nil, ErrNoRecordings
	}
	master := cams[0]
	if cameraPresent(clipindex.CameraFront, cams) {
		master = clipindex.CameraFront
	}

	handles := map[clipindex.Camera]playback.Handle{}
	for _, cam := range cams {
		handles[cam] = mediafile.NewHandle(ctx)
	}

	// The preferred layout filtered down to cameras the run has.
	layout := []clipindex.Camera{}
	for _, name := range app.general.Layout() {
		if cameraPresent(clipindex.Camera(name), cams) {
			layout = append(layout, clipindex.Camera(name))
		}
	}
	if len(layout) == 0 {
		layout = cams
	}
	if !cameraPresent(master, layout) {
		layout = append(layout, master)
	}

	engineCfg := playsync.DefaultConfig()
	engineCfg.HardThreshold = app.Env.HardSyncThreshold()
	engineCfg.SoftThreshold = app.Env.SoftSyncThreshold()
	engineCfg.LoadTimeout = app.Env.LoadTimeout()

	engine, err := playsync.NewEngine(
		engineCfg, app.store, app.Logger, handles, layout, master)
	if err != nil {
		return nil, err
	}

	coordinator := timeline.NewCoordinator(collection, engine, app.Logger)
	engine.AttachCoordinator(coordinator)
	engine.SetSegmentLoadedHook(app.telemetryHook(engine, master))

	go engine.Run(ctx)

	prober := timeline.NewProber(
		mediafile.ProbeDuration,
		app.probeCache,
		app.store,
		app.Env.LoadTimeout(),
		app.Logger,
	)
	go prober.ProbeCollection(ctx, collection)

	go app.attachEventMeta(run, index, collection)

	session := &Session{
		Collection:  collection,
		Engine:      engine,
		Coordinator: coordinator,
		handles:     handles,
	}

	app.mu.Lock()
	app.session = session
	app.mu.Unlock()

	return session, nil
}

// OpenClip plays a single group outside any day collection. The
// playback position is tracked as percent of the clip.
func (app *App) OpenClip(ctx context.Context, group *clipindex.Group) (*playsync.Engine, error) {
	cams := group.Cameras()
	if len(cams) == 0 {
		return nil, ErrNoRecordings
	}
	master := cams[0]
	if cameraPresent(clipindex.CameraFront, cams) {
		master = clipindex.CameraFront
	}

	handles := map[clipindex.Camera]playback.Handle{}
	for _, cam := range cams {
		handles[cam] = mediafile.NewHandle(ctx)
	}

	engineCfg := playsync.DefaultConfig()
	engineCfg.HardThreshold = app.Env.HardSyncThreshold()
	engineCfg.SoftThreshold = app.Env.SoftSyncThreshold()
	engineCfg.LoadTimeout = app.Env.LoadTimeout()

	engine, err := playsync.NewEngine(
		engineCfg, app.store, app.Logger, handles, cams, master)
	if err != nil {
		return nil, err
	}
	engine.SetSegmentLoadedHook(app.telemetryHook(engine, master))

	go engine.Run(ctx)

	if err := engine.LoadClip(ctx, group); err != nil {
		return nil, err
	}
	return engine, nil
}

// Session returns the active session.
func (app *App) Session() *Session {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.session
}

// Status returns host status for presentation layers.
func (app *App) Status() system.Status {
	return app.system.Status()
}

// General returns the mutable player preferences.
func (app *App) General() *storage.ConfigGeneral {
	return app.general
}

// telemetryHook extracts the master camera's telemetry after every
// segment load. Late results are discarded by the engine's token.
func (app *App) telemetryHook(
	engine *playsync.Engine,
	master clipindex.Camera,
) playsync.SegmentLoadedHook {
	return func(idx int, group *clipindex.Group, token uint64) {
		file, exist := group.Files[master]
		if !exist {
			return
		}

		raw, err := app.store.ReadFile(file.RelativePath)
		if err != nil {
			app.Logger.Warn().
				Src("telemetry").
				Cam(string(master)).
				Msgf("could not read segment: %v", err)
			return
		}

		series, err := telemetry.Extract(raw)
		if err != nil {
			app.Logger.Debug().
				Src("telemetry").
				Cam(string(master)).
				Msgf("no telemetry for segment %v: %v", idx, err)
		}

		engine.SetTelemetry(token, series)
	}
}

// attachEventMeta parses event sidecars and anchors event-centered
// collections. Best effort, groups work fine without it.
func (app *App) attachEventMeta(
	run *clipindex.Run,
	index *clipindex.Index,
	collection *timeline.Collection,
) {
	if run.EventID == "" || len(run.Groups) == 0 {
		return
	}

	var meta *clipindex.EventMeta
	for _, asset := range index.EventAssets(run.Groups[0]) {
		if asset.Name != "event.json" {
			continue
		}
		raw, err := app.store.ReadFile(asset.RelativePath)
		if err != nil {
			continue
		}
		meta, err = clipindex.ParseEventMeta(raw)
		if err != nil {
			app.Logger.Debug().
				Src("index").
				Msgf("malformed event sidecar: %v: %v", asset.RelativePath, err)
			meta = nil
		}
		break
	}
	if meta == nil {
		return
	}

	for _, group := range run.Groups {
		group.EventMeta = meta
	}

	if eventTime, err := time.ParseInLocation(
		"2006-01-02T15:04:05", meta.Timestamp, time.Local); err == nil {
		collection.AnchorToEvent(eventTime)
	}
}

func cameraPresent(cam clipindex.Camera, cams []clipindex.Camera) bool {
	for _, c := range cams {
		if c == cam {
			return true
		}
	}
	return false
}
